package app

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/vandash/internal/logbuffer"
)

type tailOptions struct {
	source string
	level  string
	lines  int
}

func newLogsCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Read the agent's recent log entries",
	}
	cmd.AddCommand(newLogsTailCommand(o), newLogsSourcesCommand(o))
	return cmd
}

func newLogsTailCommand(o *Options) *cobra.Command {
	t := &tailOptions{lines: 50}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			q := url.Values{}
			q.Set("lines", strconv.Itoa(t.lines))
			if t.source != "" {
				q.Set("source", t.source)
			}
			if t.level != "" {
				q.Set("level", t.level)
			}

			var entries []logbuffer.Entry
			if err := c.do(cmd.Context(), http.MethodGet, "/api/logs/tail", q, &entries); err != nil {
				return err
			}

			table := uitable.New()
			table.MaxColWidth = 100
			table.AddRow("TIME", "SOURCE", "LEVEL", "MESSAGE")
			for _, e := range entries {
				table.AddRow(e.Timestamp.Local().Format(time.TimeOnly), e.Source, e.Level, e.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&t.source, "source", t.source, "Only show entries of this source, e.g. OBD.")
	fs.StringVar(&t.level, "level", t.level, "Only show entries of this level (DEBUG, INFO, WARN or ERROR).")
	fs.IntVarP(&t.lines, "lines", "n", t.lines, "Number of entries to show.")
	return cmd
}

func newLogsSourcesCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the log sources seen by the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			var sources []string
			if err := c.do(cmd.Context(), http.MethodGet, "/api/logs/sources", nil, &sources); err != nil {
				return err
			}
			for _, s := range sources {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}
