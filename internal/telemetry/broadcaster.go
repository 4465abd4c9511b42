package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/autopeer-io/vandash/internal/pkg/metrics"
	"github.com/autopeer-io/vandash/pkg/log"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 32

// Broadcaster fans readings out to subscribers. Publish never blocks: a full
// subscriber queue loses its oldest reading, so a slow client sees gaps
// instead of stalling the producer or its peers.
type Broadcaster struct {
	bufSize int
	logger  log.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	latest atomic.Pointer[Reading]
	lagLog rate.Sometimes
}

// NewBroadcaster returns a broadcaster giving each subscriber bufSize slots.
func NewBroadcaster(bufSize int, logger log.Logger) *Broadcaster {
	if bufSize < 1 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Broadcaster{
		bufSize: bufSize,
		logger:  logger,
		subs:    make(map[string]*Subscription),
		lagLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Subscription is one consumer of the stream.
type Subscription struct {
	id      string
	ch      chan Reading
	b       *Broadcaster
	dropped atomic.Uint64
	once    sync.Once
	stop    func() bool
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// C returns the reading channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Reading { return s.ch }

// Dropped returns how many readings were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s) })
}

// Subscribe registers a new subscriber. The subscription is closed when ctx
// is done or Close is called. Subscribing to a closed broadcaster returns an
// already closed subscription.
func (b *Broadcaster) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Reading, b.bufSize),
		b:  b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subs[sub.id] = sub
	if ctx != nil {
		sub.stop = context.AfterFunc(ctx, sub.Close)
	}
	n := len(b.subs)
	b.mu.Unlock()

	metrics.StreamSubscribers.Set(float64(n))
	b.logger.Debug("Stream subscriber attached", "subscriber", sub.id, "subscribers", n)
	return sub
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	stop := sub.stop
	if _, ok := b.subs[sub.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
	n := len(b.subs)
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	metrics.StreamSubscribers.Set(float64(n))
	b.logger.Debug("Stream subscriber detached", "subscriber", sub.id, "dropped", sub.Dropped())
}

// Publish delivers r to every subscriber and records it as the latest reading.
func (b *Broadcaster) Publish(r Reading) {
	b.latest.Store(&r)
	metrics.StreamReadings.WithLabelValues(boolLabel(r.Simulated)).Inc()

	var lagging *Subscription

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for _, sub := range b.subs {
		if !offer(sub, r) {
			lagging = sub
		}
	}
	b.mu.Unlock()

	if lagging != nil {
		b.lagLog.Do(func() {
			b.logger.Warn("Stream subscriber lagging, dropping oldest readings",
				"subscriber", lagging.id, "dropped", lagging.Dropped())
		})
	}
}

// offer enqueues r, evicting the oldest queued reading when the queue is full.
// It reports false if something had to be dropped. Only Publish sends, under
// the broadcaster lock, so the second send always finds room.
func offer(sub *Subscription, r Reading) bool {
	select {
	case sub.ch <- r:
		return true
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped.Add(1)
		metrics.StreamDropped.Inc()
	default:
	}

	select {
	case sub.ch <- r:
	default:
		sub.dropped.Add(1)
		metrics.StreamDropped.Inc()
	}
	return false
}

// Latest returns the most recently published reading.
func (b *Broadcaster) Latest() (Reading, bool) {
	r := b.latest.Load()
	if r == nil {
		return Reading{}, false
	}
	return *r, true
}

// Len returns the number of open subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	metrics.StreamSubscribers.Set(0)
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
