package mqtt

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/vandash/pkg/log"
)

func TestNewClientValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ClientConfig
		wantErr string
	}{
		{name: "nil", wantErr: "config is required"},
		{name: "no broker", cfg: &ClientConfig{}, wantErr: "broker url is required"},
		{name: "bad scheme", cfg: &ClientConfig{BrokerURL: "http://127.0.0.1:1883"}, wantErr: `unsupported broker scheme "http"`},
		{name: "bad will qos", cfg: &ClientConfig{BrokerURL: "tcp://127.0.0.1:1883", WillQoS: 3}, wantErr: "will qos"},
		{name: "tcp", cfg: &ClientConfig{BrokerURL: "tcp://127.0.0.1:1883"}},
		{name: "tls", cfg: &ClientConfig{BrokerURL: "mqtts://broker.fleet:8883"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, c.IsConnected())
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "ssl://broker.fleet:8883"}
	_, err := NewClient(cfg)
	require.NoError(t, err)

	assert.EqualValues(t, 60, cfg.KeepAlive)
	assert.NotZero(t, cfg.ConnectTimeout)
	assert.NotZero(t, cfg.ReconnectDelay)
	assert.NotNil(t, cfg.Logger)
	assert.True(t, cfg.secure())
}

func TestOperationsBeforeStart(t *testing.T) {
	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://127.0.0.1:1883", Logger: log.NewNopLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, "vandash/v1/health/van-01", 0, true, nil), ErrNotStarted)
	assert.ErrorIs(t, c.Subscribe(ctx, "vandash/v1/command/van-01", 1, nil), ErrNotStarted)
	assert.ErrorIs(t, c.Unsubscribe(ctx, "vandash/v1/command/van-01"), ErrNotStarted)
	assert.ErrorIs(t, c.AwaitConnection(ctx), ErrNotStarted)
	c.Disconnect(ctx)
}

func TestDispatchRoutesByFilter(t *testing.T) {
	c := &pahoClient{logger: log.NewNopLogger(), subs: map[string]subscription{}}

	got := make(chan string, 2)
	c.subs["vandash/v1/obd/+"] = newSubscription("vandash/v1/obd/+", 0, func(_ context.Context, topic string, payload []byte) {
		got <- topic + " " + string(payload)
	})
	c.subs["vandash/v1/command/van-01"] = newSubscription("vandash/v1/command/van-01", 1, func(context.Context, string, []byte) {
		t.Error("command handler must not receive OBD samples")
	})

	ok, err := c.dispatch(paho.PublishReceived{Packet: &paho.Publish{Topic: "vandash/v1/obd/van-01", Payload: []byte(`{"RPM":900}`)}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `vandash/v1/obd/van-01 {"RPM":900}`, <-got)
}

func TestDispatchPreservesArrivalOrder(t *testing.T) {
	c := &pahoClient{logger: log.NewNopLogger(), subs: map[string]subscription{}}

	const n = 100
	got := make(chan int, n)
	release := make(chan struct{})
	c.subs["vandash/v1/obd/+"] = newSubscription("vandash/v1/obd/+", 0, func(_ context.Context, _ string, payload []byte) {
		<-release
		i, _ := strconv.Atoi(string(payload))
		got <- i
	})

	for i := 0; i < n; i++ {
		_, err := c.dispatch(paho.PublishReceived{Packet: &paho.Publish{Topic: "vandash/v1/obd/van-01", Payload: []byte(strconv.Itoa(i))}})
		require.NoError(t, err)
	}
	close(release)

	for want := 0; want < n; want++ {
		select {
		case i := <-got:
			require.Equal(t, want, i)
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", want)
		}
	}
}

func TestInboxDropsOldestWhenFull(t *testing.T) {
	block := make(chan struct{})
	var seen []string
	done := make(chan struct{})
	in := &inbox{handler: func(_ context.Context, _ string, payload []byte) {
		<-block
		seen = append(seen, string(payload))
		if string(payload) == "last" {
			close(done)
		}
	}}

	in.push("t", []byte("first"))
	require.Eventually(t, func() bool {
		in.mu.Lock()
		defer in.mu.Unlock()
		return len(in.pending) == 0
	}, time.Second, time.Millisecond)

	for i := 0; i < maxPending; i++ {
		in.push("t", []byte(strconv.Itoa(i)))
	}
	in.push("t", []byte("last"))
	close(block)
	<-done

	require.Len(t, seen, maxPending+1)
	assert.Equal(t, "first", seen[0])
	assert.Equal(t, "1", seen[1])
	assert.Equal(t, "last", seen[maxPending])
}
