package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcmw "github.com/autopeer-io/vandash/internal/pkg/middleware/grpc"
)

func newCheckCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "check [SUBSYSTEM]",
		Short: "Query the gRPC health endpoint, for the whole van or one subsystem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := ""
			if len(args) == 1 {
				service = args[0]
			}

			dialOpts := append([]grpc.DialOption{
				grpc.WithTransportCredentials(insecure.NewCredentials()),
				grpc.WithUnaryInterceptor(grpcmw.UnaryTimeoutInterceptor(o.Timeout)),
			}, o.DialOptions...)

			conn, err := grpc.NewClient(o.GrpcAddr, dialOpts...)
			if err != nil {
				return fmt.Errorf("invalid --grpc-addr %q: %w", o.GrpcAddr, err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(cmd.Context(), &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			name := service
			if name == "" {
				name = "vehicle"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, resp.GetStatus())
			return nil
		},
	}
}
