package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		segment string
		id      string
		want    string
	}{
		{"plain", "vandash/v1", "health", "van-01", "vandash/v1/health/van-01"},
		{"trailing slash root", "vandash/v1/", "online", "van-01", "vandash/v1/online/van-01"},
		{"nested segment", "vandash/v1", "command/ack", "van-01", "vandash/v1/command/ack/van-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewBuilder(tt.root).Build(tt.segment, tt.id))
		})
	}

	assert.Equal(t, "vandash/v1/obd/+", NewBuilder("vandash/v1").Wildcard("obd"))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"vandash/v1/obd/van-01", "vandash/v1/obd/van-01", true},
		{"vandash/v1/obd/+", "vandash/v1/obd/van-01", true},
		{"vandash/v1/obd/+", "vandash/v1/obd/van-01/extra", false},
		{"vandash/v1/obd/+", "vandash/v1/obd", false},
		{"vandash/v1/#", "vandash/v1/command/ack/van-01", true},
		{"vandash/v1/#", "vandash/v1", true},
		{"vandash/v1/command/+", "vandash/v1/health/van-01", false},
		{"vandash/v1/obd/van-01", "vandash/v1/obd/van-02", false},
		{"$share/fleet/vandash/v1/health/+", "vandash/v1/health/van-01", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.filter, tt.topic))
		})
	}
}
