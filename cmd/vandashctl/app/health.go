package app

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

type subsystemDoc struct {
	State        string  `json:"state"`
	Message      *string `json:"message"`
	LastUpdate   float64 `json:"last_update"`
	RestartCount int     `json:"restart_count"`
	LastError    *string `json:"last_error"`
}

type healthDoc struct {
	Status     string                  `json:"status"`
	Subsystems map[string]subsystemDoc `json:"subsystems"`
	Timestamp  float64                 `json:"timestamp"`
}

func newHealthCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the state of every subsystem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			var doc healthDoc
			if err := c.do(cmd.Context(), http.MethodGet, "/api/health", nil, &doc); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Status: %s (%s)\n\n", doc.Status, formatUnix(doc.Timestamp))
			fmt.Fprintln(cmd.OutOrStdout(), healthTable(doc))
			return nil
		},
	}
}

func healthTable(doc healthDoc) *uitable.Table {
	names := make([]string, 0, len(doc.Subsystems))
	for name := range doc.Subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	table.AddRow("SUBSYSTEM", "STATE", "RESTARTS", "LAST UPDATE", "MESSAGE", "LAST ERROR")
	for _, name := range names {
		s := doc.Subsystems[name]
		table.AddRow(name, s.State, s.RestartCount, formatUnix(s.LastUpdate), deref(s.Message), deref(s.LastError))
	}
	return table
}

func formatUnix(sec float64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(0, int64(sec*float64(time.Second))).Local().Format(time.DateTime)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
