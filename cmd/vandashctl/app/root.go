package app

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/autopeer-io/vandash/pkg/app"
)

const commandName = "vandashctl"

// Options are shared by every subcommand.
type Options struct {
	Server   string
	GrpcAddr string
	Timeout  time.Duration

	// HTTPClient and DialOptions are overridden in tests.
	HTTPClient  *http.Client
	DialOptions []grpc.DialOption
}

func (o *Options) client() (*client, error) {
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	return newClient(o.Server, hc)
}

// NewCommand returns the vandashctl root command.
func NewCommand() *cobra.Command {
	return newCommand(&Options{})
}

func newCommand(o *Options) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(app.EnvPrefix)
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Query and operate a running VanDash agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// VANDASH_SERVER and VANDASH_GRPC_ADDR apply when the flag is not set.
			if err := v.BindPFlag("server", cmd.Flags().Lookup("server")); err != nil {
				return err
			}
			if err := v.BindPFlag("grpc_addr", cmd.Flags().Lookup("grpc-addr")); err != nil {
				return err
			}
			o.Server = v.GetString("server")
			o.GrpcAddr = v.GetString("grpc_addr")
			return nil
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVarP(&o.Server, "server", "s", "http://127.0.0.1:8000", "Address of the agent HTTP API.")
	fs.StringVar(&o.GrpcAddr, "grpc-addr", "127.0.0.1:8091", "Address of the agent gRPC health endpoint.")
	fs.DurationVar(&o.Timeout, "timeout", 5*time.Second, "Timeout of a single request.")

	cmd.AddCommand(
		newHealthCommand(o),
		newResetCommand(o),
		newLogsCommand(o),
		newSimulationCommand(o),
		newCheckCommand(o),
	)
	return cmd
}
