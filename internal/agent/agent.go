// Package agent assembles the on-vehicle service: the health supervisor, the
// telemetry pipeline, the log ring and every transport in front of them.
package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/vandash/internal/agent/server"
	"github.com/autopeer-io/vandash/internal/agent/uplink"
	"github.com/autopeer-io/vandash/internal/logbuffer"
	"github.com/autopeer-io/vandash/internal/probe"
	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/internal/telemetry"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/mqtt"
)

type Agent struct {
	mode      string
	vehicleID string

	sup      *supervisor.Supervisor
	logs     *logbuffer.Buffer
	stream   *telemetry.Broadcaster
	pipeline *telemetry.Pipeline
	live     *telemetry.MQTTSource
	system   *probe.SystemProbe
	probes   *probe.Runner
	mc       mqtt.Client
	uplink   *uplink.Uplink
	servers  *server.Manager

	logger log.Logger
}

// Supervisor returns the health supervisor.
func (a *Agent) Supervisor() *supervisor.Supervisor { return a.sup }

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting vandash-agent", "vehicleID", a.vehicleID, "mode", a.mode, "telemetry", a.pipeline.Mode())

	if err := a.sup.Start(ctx); err != nil {
		return err
	}
	defer a.shutdown()

	if a.mc != nil {
		if err := a.mc.Start(ctx); err != nil {
			return err
		}
		subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.live.Start(subCtx); err != nil {
			a.logger.WithName("obd").Warn("OBD subscription deferred",
				"reason", err.Error(), "action", "subscribing once the broker connection is up")
		}
		cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pipeline.Run(gctx) })
	g.Go(func() error { return a.probes.Run(gctx) })
	if a.uplink != nil {
		g.Go(func() error { return a.uplink.Run(gctx) })
	}
	g.Go(func() error { return a.servers.Start(gctx) })

	err := g.Wait()
	a.stream.Close()
	return err
}

func (a *Agent) shutdown() {
	a.sup.Stop()

	snap := a.sup.Snapshot()
	counts := snap.Counts()
	a.logger.Info("Agent stopped", "status", snap.Status,
		"active", counts[supervisor.StateActive], "waiting", counts[supervisor.StateWaiting],
		"faulty", counts[supervisor.StateFaulty], "disabled", counts[supervisor.StateDisabled])
	for _, rec := range snap.Subsystems {
		a.logger.Debug("Final subsystem state", "subsystem", rec.Name, "state", rec.State,
			"restartCount", rec.RestartCount, "lastError", rec.LastError)
	}
	log.Sync()
}
