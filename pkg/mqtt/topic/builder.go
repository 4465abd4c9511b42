// Package topic builds and matches the topics of the vehicle MQTT contract.
package topic

import (
	"strings"
)

const (
	// Wildcard matches exactly one topic level.
	Wildcard = "+"
	// MultiWildcard matches the remaining levels and must come last.
	MultiWildcard = "#"

	sharedPrefix = "$share/"
)

// Builder renders topics as {root}/{segment}/{vehicleID}.
type Builder struct {
	root string
}

// NewBuilder returns a builder for the namespace root, e.g. "vandash/v1".
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.TrimSuffix(root, "/")}
}

func (b *Builder) Build(segment, vehicleID string) string {
	return b.root + "/" + segment + "/" + vehicleID
}

// Wildcard returns the filter matching segment for every vehicle.
func (b *Builder) Wildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

// Match reports whether topic is covered by filter. A shared subscription
// prefix ($share/<group>/) on the filter is ignored.
func Match(filter, topic string) bool {
	filter = stripShared(filter)
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, Wildcard+MultiWildcard) {
		return false
	}

	levels := strings.Split(topic, "/")
	parts := strings.Split(filter, "/")
	for i, part := range parts {
		if part == MultiWildcard {
			return true
		}
		if i >= len(levels) || (part != Wildcard && part != levels[i]) {
			return false
		}
	}
	return len(parts) == len(levels)
}

func stripShared(filter string) string {
	if !strings.HasPrefix(filter, sharedPrefix) {
		return filter
	}
	if parts := strings.SplitN(filter, "/", 3); len(parts) == 3 {
		return parts[2]
	}
	return filter
}
