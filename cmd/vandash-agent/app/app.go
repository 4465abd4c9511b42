package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/vandash/cmd/vandash-agent/app/options"
	"github.com/autopeer-io/vandash/pkg/app"
)

const (
	commandName = "vandash-agent"
	commandDesc = `The VanDash agent runs on the van's dashboard computer. It supervises the
health of every onboard subsystem, streams OBD telemetry to the dashboard
(falling back to simulated readings when the live feed is lost) and reports
vehicle health to the backend over MQTT.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the VanDash vehicle agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(nil),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.New()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
