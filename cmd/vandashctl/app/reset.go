package app

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newResetCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset NAME",
		Short: "Reset a FAULTY subsystem so it is retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			var resp struct {
				Status    string `json:"status"`
				Subsystem string `json:"subsystem"`
			}
			if err := c.do(cmd.Context(), http.MethodPost, "/api/system/reset/"+url.PathEscape(args[0]), nil, &resp); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Reset triggered for %s\n", resp.Subsystem)
			return nil
		},
	}
}

func newSimulationCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulation",
		Short: "Control the simulated OBD feed",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Toggle forced simulation of OBD readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			var resp struct {
				Active bool `json:"active"`
			}
			if err := c.do(cmd.Context(), http.MethodPost, "/api/system/simulation/toggle", nil, &resp); err != nil {
				return err
			}

			state := "off"
			if resp.Active {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Simulation %s\n", state)
			return nil
		},
	})
	return cmd
}
