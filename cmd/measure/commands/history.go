package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	apperrors "github.com/shizukutanaka/measure/internal/errors"
	"github.com/shizukutanaka/measure/internal/history"
	"github.com/shizukutanaka/measure/internal/logging"
	"github.com/shizukutanaka/measure/internal/report"
)

// ErrHistoryDisabled is returned when no history driver is configured.
var ErrHistoryDisabled = apperrors.NewError(apperrors.ErrorTypeConfiguration, "HISTORY_DISABLED",
	"history is disabled; set history.driver and history.dsn")

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newHistoryListCmd(a), newHistoryShowCmd(a))
	return cmd
}

func (a *app) openHistory(cmd *cobra.Command) (*history.Store, error) {
	if !a.cfg.History.Enabled() {
		return nil, ErrHistoryDisabled
	}
	return history.Open(cmd.Context(), logging.WithComponent(a.logger, "history"), a.cfg.History)
}

func newHistoryListCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tCREATED\tCATEGORY\tHOST\tCOMMAND")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					run.ID, humanize.Time(run.CreatedAt), run.Category, run.Hostname, run.Command)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the measurements of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return report.Write(cmd.OutOrStdout(), format, report.Report{
				RunID:     run.ID,
				Category:  run.Category,
				CreatedAt: run.CreatedAt,
				Stats:     run.Stats,
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format (text, table, json, yaml)")
	return cmd
}
