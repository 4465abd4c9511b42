package uplink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/vandash/internal/pkg/mqtt/paths"
)

// Remote commands accepted on {root}/command/{vehicleID}.
const (
	CommandReset      = "reset"
	CommandSimulation = "simulation"
)

// Command is a decoded remote command.
type Command struct {
	ID        string
	Name      string
	Subsystem string
	// Active is the requested simulation setting; nil toggles.
	Active *bool
}

func parseCommand(payload []byte) (Command, error) {
	fields, err := decode(payload)
	if err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}

	var cmd Command
	cmd.ID, _ = fields["id"].(string)
	cmd.Name, _ = fields["command"].(string)
	cmd.Subsystem, _ = fields["subsystem"].(string)
	if v, ok := fields["active"].(bool); ok {
		cmd.Active = &v
	}
	if cmd.Name == "" {
		return cmd, errors.New("command name is required")
	}
	return cmd, nil
}

// Execute runs one command and returns its result fields.
func (u *Uplink) Execute(cmd Command) (map[string]any, error) {
	switch cmd.Name {
	case CommandReset:
		if cmd.Subsystem == "" {
			return nil, errors.New("reset requires a subsystem")
		}
		if err := u.health.Reset(cmd.Subsystem); err != nil {
			return nil, err
		}
		return map[string]any{"status": "reset_triggered", "subsystem": cmd.Subsystem}, nil

	case CommandSimulation:
		if u.sim == nil {
			return nil, errors.New("simulation is not available")
		}
		var active bool
		if cmd.Active != nil {
			active = u.sim.SetForcedSimulation(*cmd.Active)
		} else {
			active = u.sim.ToggleSimulation()
		}
		return map[string]any{"active": active}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Name)
	}
}

func (u *Uplink) handleCommand(ctx context.Context, _ string, payload []byte) {
	cmd, err := parseCommand(payload)
	var result map[string]any
	if err == nil {
		result, err = u.Execute(cmd)
	}

	ack := map[string]any{
		"id":      cmd.ID,
		"command": cmd.Name,
		"ok":      err == nil,
	}
	if err != nil {
		ack["error"] = err.Error()
		u.logger.Warn("Remote command rejected", "command", cmd.Name, "id", cmd.ID, "reason", err.Error())
	} else {
		ack["result"] = result
		u.logger.Info("Remote command executed", "command", cmd.Name, "id", cmd.ID, "subsystem", cmd.Subsystem)
	}

	out, encErr := encode(ack)
	if encErr != nil {
		u.logger.Error(encErr, "Failed to encode command ack", "id", cmd.ID)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := u.mc.Publish(pubCtx, u.topics.Build(paths.CommandAck, u.cfg.VehicleID), 1, false, out); err != nil {
		u.logger.Error(err, "Failed to publish command ack", "id", cmd.ID)
	}
}
