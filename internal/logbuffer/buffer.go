// Package logbuffer keeps the most recent log lines of the agent in memory
// so the dashboard can show them without touching the log files.
package logbuffer

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/autopeer-io/vandash/internal/pkg/metrics"
)

// Level is the severity of an entry.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one immutable log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Query selects entries for Tail. Empty fields match everything.
type Query struct {
	Source string
	Level  Level
	Limit  int
}

// Buffer is a fixed-capacity ring of entries. The oldest entry is evicted
// when a new one arrives on a full ring.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int // index of the oldest entry
	size    int
	sources map[string]struct{}
}

// New returns an empty ring holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		sources: make(map[string]struct{}),
	}
}

// Append stores e, evicting the oldest entry if the ring is full.
func (b *Buffer) Append(e Entry) {
	e.Source = strings.ToUpper(e.Source)
	if e.Level == "" {
		e.Level = LevelInfo
	}

	b.mu.Lock()
	if b.size < len(b.entries) {
		b.entries[(b.head+b.size)%len(b.entries)] = e
		b.size++
	} else {
		b.entries[b.head] = e
		b.head = (b.head + 1) % len(b.entries)
	}
	b.sources[e.Source] = struct{}{}
	b.mu.Unlock()

	metrics.LogEntries.WithLabelValues(string(e.Level)).Inc()
}

// Tail returns the newest q.Limit entries matching q, oldest first.
// A non-positive limit returns every match.
func (b *Buffer) Tail(q Query) []Entry {
	source := strings.ToUpper(q.Source)
	level := Level(strings.ToUpper(string(q.Level)))

	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > b.size {
		limit = b.size
	}

	out := make([]Entry, 0, limit)
	for i := b.size - 1; i >= 0 && len(out) < limit; i-- {
		e := b.entries[(b.head+i)%len(b.entries)]
		if source != "" && e.Source != source {
			continue
		}
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Sources returns every source ever appended, sorted.
func (b *Buffer) Sources() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.sources))
	for s := range b.sources {
		out = append(out, s)
	}
	b.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the ring capacity.
func (b *Buffer) Cap() int {
	return len(b.entries)
}
