package agent

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/vandash/internal/agent/server"
	grpcserver "github.com/autopeer-io/vandash/internal/agent/server/grpc"
	httpserver "github.com/autopeer-io/vandash/internal/agent/server/http"
	"github.com/autopeer-io/vandash/internal/agent/uplink"
	"github.com/autopeer-io/vandash/internal/logbuffer"
	"github.com/autopeer-io/vandash/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/vandash/internal/probe"
	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/internal/telemetry"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/vandash/pkg/mqtt/topic"
	"github.com/autopeer-io/vandash/pkg/options"
)

// Run modes.
const (
	ModeOperational = "operational"
	ModeMaintenance = "maintenance"
)

// Well-known subsystems with a built-in reporter.
const (
	SubsystemNetworking = "networking"
	SubsystemBackend    = "backend"
	SubsystemObd        = "obd"
	SubsystemLogging    = "logging"
	SubsystemSystem     = "system"
)

// SubsystemConfig declares one supervised subsystem.
type SubsystemConfig struct {
	Name    string `json:"name" mapstructure:"name"`
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	// Watchdog enables missed-heartbeat detection.
	Watchdog bool `json:"watchdog" mapstructure:"watchdog"`
	// Simulated subsystems are kept ACTIVE by a static probe.
	Simulated bool `json:"simulated" mapstructure:"simulated"`
}

// DefaultSubsystems is the subsystem set of a stock van.
func DefaultSubsystems() []SubsystemConfig {
	return []SubsystemConfig{
		{Name: SubsystemNetworking, Enabled: true},
		{Name: SubsystemBackend, Enabled: true, Watchdog: true},
		{Name: "camera_rear", Enabled: true, Simulated: true},
		{Name: "camera_front", Enabled: false, Simulated: true},
		{Name: SubsystemObd, Enabled: true, Watchdog: true},
		{Name: SubsystemLogging, Enabled: true},
		{Name: SubsystemSystem, Enabled: true, Watchdog: true},
	}
}

// Config is the fully resolved agent configuration.
type Config struct {
	Mode          string
	VehicleID     string
	Subsystems    []SubsystemConfig
	ProbeInterval time.Duration

	LogOptions         *log.Options
	HttpOptions        *options.HttpOptions
	GrpcOptions        *options.GrpcOptions
	MqttOptions        *options.MqttOptions
	SupervisionOptions *options.SupervisionOptions
	ObdOptions         *options.ObdOptions
	StreamOptions      *options.StreamOptions
	LogBufferOptions   *options.LogBufferOptions

	// Clock drives supervision and sampling. Defaults to the real clock.
	Clock clock.WithTicker
}

// New builds every component of the agent. It initializes the process logger
// with the log ring teed in, so it must be called once.
func (cfg *Config) New() (*Agent, error) {
	if cfg.VehicleID == "" {
		return nil, fmt.Errorf("vehicle id is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	maintenance := cfg.Mode == ModeMaintenance

	logs := logbuffer.New(cfg.LogBufferOptions.Capacity)
	ringLevel := zapcore.InfoLevel
	if maintenance {
		ringLevel = zapcore.DebugLevel
	}
	log.Init(cfg.LogOptions, logbuffer.NewCore(logs, ringLevel))
	logger := log.Std()

	a := &Agent{
		mode:      cfg.Mode,
		vehicleID: cfg.VehicleID,
		logs:      logs,
		logger:    logger.WithName(SubsystemSystem),
	}

	a.sup = supervisor.New(supervisor.Config{
		MaxRetries:    cfg.SupervisionOptions.MaxRetries,
		GracePeriod:   cfg.SupervisionOptions.GracePeriod,
		Backoff:       cfg.SupervisionOptions.Backoff,
		MaxBackoff:    cfg.SupervisionOptions.MaxBackoff,
		CheckInterval: cfg.SupervisionOptions.CheckInterval,
		Clock:         clk,
		Logger:        logger,
	})

	topics := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	if cfg.MqttOptions.Enabled {
		mc, err := cfg.newMqttClient(topics, logger.WithName("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		a.mc = mc
		a.live = telemetry.NewMQTTSource(mc, topics.Build(cfg.ObdOptions.Topic, cfg.VehicleID),
			cfg.ObdOptions.StaleAfter, clk, logger.WithName(SubsystemObd))
	}

	a.stream = telemetry.NewBroadcaster(cfg.StreamOptions.BufferSize, logger.WithName("stream"))

	var live telemetry.Source
	if a.live != nil {
		live = a.live
	}
	a.pipeline = telemetry.NewPipeline(telemetry.PipelineConfig{
		Subsystem:        SubsystemObd,
		Interval:         cfg.ObdOptions.PollInterval,
		ReadTimeout:      cfg.ObdOptions.ReadTimeout,
		RecoverReads:     cfg.ObdOptions.RecoverReads,
		ReportBackoff:    cfg.SupervisionOptions.Backoff,
		MaxReportBackoff: cfg.SupervisionOptions.MaxBackoff,
		ForceSimulation:  cfg.forceSimulation(),
		Clock:            clk,
		Logger:           logger,
	}, live, telemetry.NewSimulator(clk, telemetry.DefaultCycle), a.stream, a.sup)

	a.system = probe.NewSystemProbe(SubsystemSystem, "/", clk)
	a.probes = probe.NewRunner(cfg.ProbeInterval, a.sup, logger)

	if a.mc != nil {
		a.uplink = uplink.New(uplink.Config{
			VehicleID: cfg.VehicleID,
			Subsystem: SubsystemNetworking,
			Interval:  cfg.MqttOptions.PublishInterval,
			Clock:     clk,
			Logger:    logger,
		}, a.mc, topics, a.sup, a.pipeline)
		a.sup.OnTransition(a.uplink.OnTransition)
	}

	for _, sc := range cfg.Subsystems {
		if err := a.sup.Register(a.subsystem(sc)); err != nil {
			return nil, err
		}
		if p := a.probeFor(sc); p != nil && sc.Enabled {
			a.probes.Add(p)
		}
	}

	httpSrv := httpserver.NewServer(cfg.HttpOptions, httpserver.Deps{
		Supervisor:        a.sup,
		Stream:            a.stream,
		Simulation:        a.pipeline,
		Logs:              logs,
		System:            a.system,
		Mode:              cfg.Mode,
		HeartbeatInterval: cfg.StreamOptions.HeartbeatInterval,
		Logger:            logger,
	})
	servers := []server.Server{httpSrv}
	if cfg.GrpcOptions.Enabled {
		grpcSrv := grpcserver.NewServer(cfg.GrpcOptions, a.sup.Snapshot(), logger)
		a.sup.OnTransition(func(t supervisor.Transition) {
			grpcSrv.OnTransition(t, a.sup.Snapshot().Status)
		})
		servers = append(servers, grpcSrv)
	}
	a.servers = server.NewManager(servers...)

	return a, nil
}

// forceSimulation follows the obd settings. In maintenance mode allow-real
// lets a configured live feed override simulation.
func (cfg *Config) forceSimulation() bool {
	if !cfg.ObdOptions.Simulation {
		return false
	}
	return !(cfg.Mode == ModeMaintenance && cfg.ObdOptions.AllowReal && cfg.MqttOptions.Enabled)
}

func (cfg *Config) newMqttClient(topics *mqtttopic.Builder, logger log.Logger) (mqtt.Client, error) {
	mqttConfig := cfg.MqttOptions.ToClientConfig()
	mqttConfig.Logger = logger
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("vandash-agent-%s", cfg.VehicleID)
	}

	mqttConfig.WillTopic = topics.Build(paths.Online, cfg.VehicleID)
	mqttConfig.WillPayload = uplink.OfflineWill(cfg.VehicleID)
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	return mqtt.NewClient(mqttConfig)
}

func (a *Agent) subsystem(sc SubsystemConfig) supervisor.Subsystem {
	sub := supervisor.Subsystem{
		Name:     sc.Name,
		Enabled:  sc.Enabled,
		Watchdog: sc.Watchdog,
	}
	if sc.Name == SubsystemObd && a.live != nil {
		sub.Restart = a.live.Start
	}
	return sub
}

// probeFor picks the built-in reporter of a subsystem. Subsystems without
// one are reported through the HTTP report endpoint.
func (a *Agent) probeFor(sc SubsystemConfig) probe.Probe {
	switch {
	case sc.Name == SubsystemObd:
		return nil
	case sc.Name == SubsystemNetworking:
		if a.uplink != nil {
			return nil
		}
		return probe.NewNetworkProbe(sc.Name)
	case sc.Name == SubsystemSystem:
		return a.system
	case sc.Name == SubsystemLogging:
		return probe.NewLogBufferProbe(sc.Name, a.logs)
	case sc.Name == SubsystemBackend || sc.Simulated:
		return probe.NewStaticProbe(sc.Name)
	default:
		return nil
	}
}
