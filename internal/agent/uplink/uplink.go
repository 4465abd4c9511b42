// Package uplink connects the agent to the fleet broker. It announces the
// vehicle, streams the health snapshot and executes remote commands.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/vandash/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/vandash/pkg/mqtt/topic"
)

// Health is the part of the supervisor the uplink needs.
type Health interface {
	Snapshot() supervisor.Snapshot
	Reset(name string) error
	Report(name string, outcome supervisor.Outcome, cause error)
}

// Simulation switches the telemetry pipeline between live and simulated readings.
type Simulation interface {
	ToggleSimulation() bool
	SetForcedSimulation(on bool) bool
}

// Config tunes the uplink.
type Config struct {
	VehicleID string
	// Subsystem is the name publish outcomes are reported under.
	Subsystem string
	// Interval is the period of the health snapshot.
	Interval time.Duration

	Clock  clock.WithTicker
	Logger log.Logger
}

// Uplink owns the MQTT client of the agent.
type Uplink struct {
	cfg    Config
	mc     mqtt.Client
	topics *mqtttopic.Builder
	health Health
	sim    Simulation
	logger log.Logger

	trigger chan struct{}
	online  bool
}

// New returns an uplink. sim may be nil, in which case simulation commands are rejected.
func New(cfg Config, client mqtt.Client, topics *mqtttopic.Builder, health Health, sim Simulation) *Uplink {
	if cfg.Subsystem == "" {
		cfg.Subsystem = "networking"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Std()
	}
	return &Uplink{
		cfg:     cfg,
		mc:      client,
		topics:  topics,
		health:  health,
		sim:     sim,
		logger:  cfg.Logger.WithName(cfg.Subsystem),
		trigger: make(chan struct{}, 1),
	}
}

// OfflineWill is the retained payload the broker publishes when the agent
// drops without a clean disconnect. It carries no timestamp so it cannot go stale.
func OfflineWill(vid string) []byte {
	payload, _ := onlineStatus(vid, false, "UnexpectedDisconnect")
	return payload
}

// OnTransition schedules an immediate health publish. It never blocks.
// Transitions of the uplink's own subsystem are ignored, since they are
// caused by the publish outcome itself.
func (u *Uplink) OnTransition(t supervisor.Transition) {
	if t.Name == u.cfg.Subsystem {
		return
	}
	select {
	case u.trigger <- struct{}{}:
	default:
	}
}

// Run subscribes to commands and publishes health until ctx is done. The
// client must already be started; Run disconnects it on return.
func (u *Uplink) Run(ctx context.Context) error {
	defer u.stop()

	commandTopic := u.topics.Build(paths.Command, u.cfg.VehicleID)
	subCtx, cancel := context.WithTimeout(ctx, u.cfg.Interval)
	err := u.mc.Subscribe(subCtx, commandTopic, 1, u.handleCommand)
	cancel()
	if err != nil && ctx.Err() == nil {
		u.logger.Warn("Command subscription deferred", "topic", commandTopic,
			"reason", err.Error(), "action", "subscribing once the broker connection is up")
	}

	ticker := u.cfg.Clock.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	u.logger.Info("Uplink started", "vehicleID", u.cfg.VehicleID, "interval", u.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		case <-u.trigger:
		}
		u.PublishHealth(ctx)
	}
}

// PublishHealth announces the vehicle if needed and publishes the current snapshot.
func (u *Uplink) PublishHealth(ctx context.Context) {
	if !u.mc.IsConnected() {
		u.online = false
		u.health.Report(u.cfg.Subsystem, supervisor.TransientFailure, errors.New("broker not connected"))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, u.cfg.Interval)
	defer cancel()

	if !u.online {
		payload, err := onlineStatus(u.cfg.VehicleID, true, "")
		if err == nil {
			err = u.mc.Publish(pubCtx, u.topics.Build(paths.Online, u.cfg.VehicleID), 1, true, payload)
		}
		if err != nil {
			u.health.Report(u.cfg.Subsystem, supervisor.TransientFailure, fmt.Errorf("announce online: %w", err))
			return
		}
		u.online = true
		u.logger.Info("Vehicle announced online")
	}

	payload, err := EncodeSnapshot(u.health.Snapshot())
	if err == nil {
		err = u.mc.Publish(pubCtx, u.topics.Build(paths.Health, u.cfg.VehicleID), 0, true, payload)
	}
	if err != nil {
		u.health.Report(u.cfg.Subsystem, supervisor.TransientFailure, fmt.Errorf("publish health: %w", err))
		return
	}
	u.health.Report(u.cfg.Subsystem, supervisor.Success, nil)
}

func (u *Uplink) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if u.mc.IsConnected() {
		if payload, err := onlineStatus(u.cfg.VehicleID, false, "Shutdown"); err == nil {
			if err := u.mc.Publish(ctx, u.topics.Build(paths.Online, u.cfg.VehicleID), 1, true, payload); err != nil {
				u.logger.Warn("Failed to announce shutdown", "reason", err.Error())
			}
		}
	}
	u.logger.Info("Disconnecting MQTT client")
	u.mc.Disconnect(ctx)
}

func onlineStatus(vid string, online bool, reason string) ([]byte, error) {
	fields := map[string]any{
		"vehicle_id": vid,
		"online":     online,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	return encode(fields)
}
