package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/mqtt"
)

// MQTTSource is the live source. The OBD bridge publishes JSON samples on a
// topic; the source keeps the newest one and serves it while it is fresh.
type MQTTSource struct {
	client     mqtt.Client
	topic      string
	staleAfter time.Duration
	clock      clock.PassiveClock
	logger     log.Logger

	mu       sync.Mutex
	latest   Reading
	received time.Time
	fresh    chan struct{} // closed and replaced on every sample
}

// NewMQTTSource returns a source fed from topic. Call Start to subscribe.
func NewMQTTSource(client mqtt.Client, topic string, staleAfter time.Duration, clk clock.PassiveClock, logger log.Logger) *MQTTSource {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.Std()
	}
	if staleAfter <= 0 {
		staleAfter = time.Second
	}
	return &MQTTSource{
		client:     client,
		topic:      topic,
		staleAfter: staleAfter,
		clock:      clk,
		logger:     logger,
		fresh:      make(chan struct{}),
	}
}

// Start subscribes to the sample topic. The client re-subscribes on reconnect.
func (s *MQTTSource) Start(ctx context.Context) error {
	if err := s.client.Subscribe(ctx, s.topic, 0, s.HandleSample); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("Subscribed to OBD samples", "topic", s.topic)
	return nil
}

// Stop unsubscribes from the sample topic.
func (s *MQTTSource) Stop(ctx context.Context) error {
	return s.client.Unsubscribe(ctx, s.topic)
}

// HandleSample decodes one bridge message. Malformed or empty samples are dropped.
func (s *MQTTSource) HandleSample(_ context.Context, topic string, payload []byte) {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		s.logger.Debug("Dropping malformed OBD sample", "topic", topic, "error", err.Error())
		return
	}
	if r.Empty() {
		s.logger.Debug("Dropping empty OBD sample", "topic", topic)
		return
	}

	now := s.clock.Now()
	r.Timestamp = now
	r.Simulated = false
	r.Seq = 0

	s.mu.Lock()
	s.latest = r
	s.received = now
	close(s.fresh)
	s.fresh = make(chan struct{})
	s.mu.Unlock()
}

// Read returns the newest sample if it is younger than the stale-after window,
// otherwise waits for the next one until ctx is done.
func (s *MQTTSource) Read(ctx context.Context) (Reading, error) {
	s.mu.Lock()
	if !s.received.IsZero() && s.clock.Since(s.received) <= s.staleAfter {
		r := s.latest
		s.mu.Unlock()
		return r, nil
	}
	wait := s.fresh
	s.mu.Unlock()

	select {
	case <-wait:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.latest, nil
	case <-ctx.Done():
		if !s.client.IsConnected() {
			return Reading{}, fmt.Errorf("%w: broker not connected", ErrSourceUnavailable)
		}
		return Reading{}, fmt.Errorf("%w: no sample within %s", ErrSourceUnavailable, s.staleAfter)
	}
}
