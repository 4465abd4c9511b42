package mqtt

import (
	"fmt"
	"net/url"
	"time"

	"github.com/autopeer-io/vandash/pkg/log"
)

// ClientConfig describes the broker connection of a vehicle component.
type ClientConfig struct {
	// BrokerURL is tcp://, mqtt://, ssl://, tls://, mqtts://, ws:// or wss://.
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive      uint16
	ConnectTimeout time.Duration
	// ReconnectDelay separates connection attempts. Default is 3s.
	ReconnectDelay time.Duration
	SessionExpiry  uint32
	CleanStart     bool

	// InsecureSkipVerify disables certificate checks on TLS schemes.
	InsecureSkipVerify bool

	// Will message published by the broker when the client drops without DISCONNECT.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// Logger defaults to the "mqtt" child of the process logger.
	Logger log.Logger
}

var supportedSchemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true, "ws": true, "wss": true,
}

func (c *ClientConfig) setDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 60
	}
	if c.Logger == nil {
		c.Logger = log.WithName("mqtt")
	}
}

// Validate checks the broker URL and will settings.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if !supportedSchemes[u.Scheme] {
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if c.WillQoS > 2 {
		return fmt.Errorf("will qos must be 0, 1 or 2")
	}
	return nil
}

func (c *ClientConfig) secure() bool {
	u, _ := url.Parse(c.BrokerURL)
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}
