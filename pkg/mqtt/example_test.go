package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/mqtt"
	"github.com/autopeer-io/vandash/pkg/mqtt/topic"
)

// ExampleClient shows how an agent component connects, listens to the OBD
// bridge feed and publishes its online status.
func ExampleClient() {
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "vandash-agent-van-01",
		KeepAlive:      30,
		ConnectTimeout: 5 * time.Second,
		CleanStart:     true,
		WillTopic:      "vandash/v1/online/van-01",
		WillPayload:    []byte(`{"online":false}`),
		WillQoS:        1,
		WillRetain:     true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; the connection manager reconnects in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	topics := topic.NewBuilder("vandash/v1")

	// Handlers run on their own goroutine and are re-subscribed after a reconnect.
	onSample := func(ctx context.Context, t string, payload []byte) {
		fmt.Printf("sample on %s: %s\n", t, string(payload))
	}
	if err := client.Subscribe(ctx, topics.Build("obd", "van-01"), 0, onSample); err != nil {
		log.Error(err, "Failed to subscribe")
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	if err := client.Publish(ctx, topics.Build("online", "van-01"), 1, true, []byte(`{"online":true}`)); err != nil {
		log.Error(err, "Failed to publish online status")
	}

	client.Disconnect(ctx)
}
