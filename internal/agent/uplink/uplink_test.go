package uplink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/vandash/pkg/mqtt/topic"
)

const vid = "van-1"

type message struct {
	topic   string
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	publishErr   error
	published    []message
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
}

var _ mqtt.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeClient) Start(context.Context) error { return nil }

func (f *fakeClient) Disconnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.connected = false
}

func (f *fakeClient) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, message{topic, retain, payload})
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ int, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) Unsubscribe(context.Context, string) error { return nil }
func (f *fakeClient) AwaitConnection(context.Context) error     { return nil }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) messages(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeSim struct{ active bool }

func (s *fakeSim) ToggleSimulation() bool            { s.active = !s.active; return s.active }
func (s *fakeSim) SetForcedSimulation(on bool) bool { s.active = on; return on }

func newTestUplink(t *testing.T) (*Uplink, *fakeClient, *supervisor.Supervisor, *fakeSim) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	sup := supervisor.New(supervisor.Config{Clock: clk, Logger: log.NewNopLogger()})
	require.NoError(t, sup.Register(supervisor.Subsystem{Name: "networking", Enabled: true}))
	require.NoError(t, sup.Register(supervisor.Subsystem{Name: "obd", Enabled: true}))

	client := newFakeClient()
	sim := &fakeSim{}
	u := New(Config{VehicleID: vid, Interval: time.Second, Clock: clk, Logger: log.NewNopLogger()},
		client, mqtttopic.NewBuilder("vandash/v1"), sup, sim)
	return u, client, sup, sim
}

func TestPublishHealthAnnouncesOnce(t *testing.T) {
	u, client, sup, _ := newTestUplink(t)

	u.PublishHealth(t.Context())
	u.PublishHealth(t.Context())

	online := client.messages("vandash/v1/online/" + vid)
	require.Len(t, online, 1)
	assert.True(t, online[0].retain)
	fields, err := decode(online[0].payload)
	require.NoError(t, err)
	assert.Equal(t, true, fields["online"])
	assert.Equal(t, vid, fields["vehicle_id"])

	health := client.messages("vandash/v1/health/" + vid)
	require.Len(t, health, 2)
	doc, err := decode(health[1].payload)
	require.NoError(t, err)
	assert.Contains(t, []any{"OK", "DEGRADED"}, doc["status"])
	subsystems := doc["subsystems"].(map[string]any)
	obd := subsystems["obd"].(map[string]any)
	assert.Equal(t, "WAITING", obd["state"])
	assert.Nil(t, obd["last_error"])

	rec, _ := sup.Snapshot().Get("networking")
	assert.Equal(t, supervisor.StateActive, rec.State)
}

func TestPublishFailuresReportNetworking(t *testing.T) {
	u, client, sup, _ := newTestUplink(t)

	client.connected = false
	u.PublishHealth(t.Context())
	rec, _ := sup.Snapshot().Get("networking")
	assert.Equal(t, supervisor.StateWaiting, rec.State)
	assert.Equal(t, 1, rec.RestartCount)
	assert.Empty(t, client.messages("vandash/v1/online/"+vid))

	client.connected = true
	client.publishErr = errors.New("broker overloaded")
	u.PublishHealth(t.Context())
	rec, _ = sup.Snapshot().Get("networking")
	assert.Equal(t, 2, rec.RestartCount)

	client.publishErr = nil
	u.PublishHealth(t.Context())
	rec, _ = sup.Snapshot().Get("networking")
	assert.Equal(t, supervisor.StateActive, rec.State)
}

func TestRemoteCommands(t *testing.T) {
	u, client, sup, sim := newTestUplink(t)
	require.NoError(t, sup.Fail("obd", "adapter unplugged"))

	tests := []struct {
		name    string
		payload string
		ok      bool
		errPart string
	}{
		{"reset faulty subsystem", `{"id":"c1","command":"reset","subsystem":"obd"}`, true, ""},
		{"reset non-faulty subsystem", `{"id":"c2","command":"reset","subsystem":"obd"}`, false, "expected FAULTY"},
		{"reset unknown subsystem", `{"id":"c3","command":"reset","subsystem":"gps"}`, false, "not found"},
		{"toggle simulation", `{"id":"c4","command":"simulation"}`, true, ""},
		{"set simulation", `{"id":"c5","command":"simulation","active":true}`, true, ""},
		{"unknown command", `{"id":"c6","command":"reboot"}`, false, "unknown command"},
		{"malformed", `not json`, false, "decode command"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u.handleCommand(t.Context(), "", []byte(tt.payload))

			acks := client.messages("vandash/v1/command/ack/" + vid)
			require.Len(t, acks, i+1)
			ack, err := decode(acks[i].payload)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ack["ok"])
			if tt.errPart != "" {
				assert.Contains(t, ack["error"], tt.errPart)
			}
		})
	}

	rec, _ := sup.Snapshot().Get("obd")
	assert.Equal(t, supervisor.StateWaiting, rec.State)
	assert.True(t, sim.active)
}

func TestRunPublishesOnTransitionAndAnnouncesShutdown(t *testing.T) {
	u, client, sup, _ := newTestUplink(t)
	sup.OnTransition(u.OnTransition)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		_, ok := client.handlers["vandash/v1/command/"+vid]
		return ok
	}, time.Second, time.Millisecond)

	sup.Report("obd", supervisor.Success, nil)
	require.Eventually(t, func() bool {
		return len(client.messages("vandash/v1/health/"+vid)) >= 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	online := client.messages("vandash/v1/online/" + vid)
	require.NotEmpty(t, online)
	last, err := decode(online[len(online)-1].payload)
	require.NoError(t, err)
	assert.Equal(t, false, last["online"])
	assert.Equal(t, "Shutdown", last["reason"])
	assert.True(t, client.disconnected)
}

func TestOwnTransitionDoesNotRepublish(t *testing.T) {
	u, client, sup, _ := newTestUplink(t)
	sup.Report("networking", supervisor.Success, nil)
	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()
	sup.OnTransition(u.OnTransition)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		_, ok := client.handlers["vandash/v1/command/"+vid]
		return ok
	}, time.Second, time.Millisecond)

	sup.Report("obd", supervisor.Success, nil)
	restarts := func() int {
		rec, _ := sup.Snapshot().Get("networking")
		return rec.RestartCount
	}
	require.Eventually(t, func() bool { return restarts() == 1 }, time.Second, time.Millisecond)
	require.Never(t, func() bool { return restarts() > 1 }, 100*time.Millisecond, 5*time.Millisecond)

	rec, _ := sup.Snapshot().Get("networking")
	assert.Equal(t, supervisor.StateWaiting, rec.State)

	cancel()
	require.NoError(t, <-done)
}

func TestOfflineWill(t *testing.T) {
	fields, err := decode(OfflineWill(vid))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"vehicle_id": vid, "online": false, "reason": "UnexpectedDisconnect"}, fields)
}
