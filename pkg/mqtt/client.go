// Package mqtt wraps the autopaho connection manager behind a small client
// interface shared by the OBD feed and the health uplink.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/mqtt/topic"
)

// ErrNotStarted is returned by every operation issued before Start.
var ErrNotStarted = errors.New("mqtt client not started")

// MessageHandler receives the payload of a message on a subscribed topic.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is a broker session that survives reconnects.
type Client interface {
	// Start launches the connection manager and returns without waiting for
	// the broker. Use AwaitConnection to block.
	Start(ctx context.Context) error
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for the filter. Subscriptions are replayed
	// after every reconnect.
	Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error
	Unsubscribe(ctx context.Context, filter string) error

	AwaitConnection(ctx context.Context) error
	IsConnected() bool
}

type subscription struct {
	filter string
	qos    byte
	inbox  *inbox
}

func newSubscription(filter string, qos byte, handler MessageHandler) subscription {
	return subscription{filter: filter, qos: qos, inbox: &inbox{handler: handler}}
}

// maxPending bounds the messages queued for one subscription. The oldest
// message is dropped when a slow handler falls further behind.
const maxPending = 256

type delivery struct {
	topic   string
	payload []byte
}

// inbox hands messages to one handler in arrival order. At most one drain
// goroutine runs per inbox.
type inbox struct {
	handler MessageHandler

	mu      sync.Mutex
	pending []delivery
	running bool
}

// push queues a message and never blocks.
func (in *inbox) push(topic string, payload []byte) {
	in.mu.Lock()
	if len(in.pending) >= maxPending {
		in.pending = in.pending[1:]
	}
	in.pending = append(in.pending, delivery{topic: topic, payload: payload})
	if in.running {
		in.mu.Unlock()
		return
	}
	in.running = true
	in.mu.Unlock()

	go in.drain()
}

func (in *inbox) drain() {
	for {
		in.mu.Lock()
		if len(in.pending) == 0 {
			in.running = false
			in.mu.Unlock()
			return
		}
		d := in.pending[0]
		in.pending = in.pending[1:]
		in.mu.Unlock()

		in.handler(context.Background(), d.topic, d.payload)
	}
}

type pahoClient struct {
	cfg    *ClientConfig
	logger log.Logger

	mu   sync.RWMutex
	cm   *autopaho.ConnectionManager
	subs map[string]subscription

	connected atomic.Bool
}

// NewClient validates cfg and returns an unstarted client.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:    cfg,
		logger: cfg.Logger,
		subs:   make(map[string]subscription),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	broker, _ := url.Parse(c.cfg.BrokerURL)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		WillMessage:                   c.willMessage(),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError:                c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.dispatch},
		},
	}
	if c.cfg.secure() {
		pahoCfg.TlsCfg = &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify} //nolint:gosec
	}

	c.logger.Info("Connecting to broker", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()
	return nil
}

func (c *pahoClient) manager() (*autopaho.ConnectionManager, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cm == nil {
		return nil, ErrNotStarted
	}
	return c.cm, nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	cm, err := c.manager()
	if err != nil {
		return
	}
	c.connected.Store(false)
	if err := cm.Disconnect(ctx); err != nil {
		c.logger.Warn("Broker disconnect did not complete", "error", err)
		return
	}
	c.logger.Info("Disconnected from broker")
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	_, err = cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	// Recorded before the SUBSCRIBE so a reconnect in between still replays it.
	c.mu.Lock()
	c.subs[filter] = newSubscription(filter, byte(qos), handler)
	c.mu.Unlock()

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: byte(qos)}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}

	c.logger.Debug("Subscribed", "filter", filter, "qos", qos)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, filter string) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.subs, filter)
	c.mu.Unlock()

	_, err = cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *pahoClient) subscriptions() []subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	return out
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.logger.Info("Connected to broker", "broker", c.cfg.BrokerURL)

	subs := c.subscriptions()
	if len(subs) == 0 {
		return
	}
	req := &paho.Subscribe{Subscriptions: make([]paho.SubscribeOptions, 0, len(subs))}
	for _, s := range subs {
		req.Subscriptions = append(req.Subscriptions, paho.SubscribeOptions{Topic: s.filter, QoS: s.qos})
	}
	if _, err := cm.Subscribe(context.Background(), req); err != nil {
		c.logger.Error(err, "Failed to restore subscriptions", "count", len(subs))
	}
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	c.logger.Warn("Broker connection failed, retrying", "error", err, "in", c.cfg.ReconnectDelay)
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	c.logger.Error(err, "MQTT client error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.logger.Warn("Broker closed the session", "code", d.ReasonCode, "reason", reason)
}

// dispatch queues a message on every matching subscription. Each
// subscription delivers in arrival order off the paho reader loop.
func (c *pahoClient) dispatch(p paho.PublishReceived) (bool, error) {
	matched := false
	for _, s := range c.subscriptions() {
		if !topic.Match(s.filter, p.Packet.Topic) {
			continue
		}
		matched = true
		s.inbox.push(p.Packet.Topic, p.Packet.Payload)
	}

	if !matched {
		c.logger.Debug("Message on unhandled topic", "topic", p.Packet.Topic)
	}
	return true, nil
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}
