package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/measure/internal/counters"
	apperrors "github.com/shizukutanaka/measure/internal/errors"
	"github.com/shizukutanaka/measure/internal/history"
	"github.com/shizukutanaka/measure/internal/logging"
	"github.com/shizukutanaka/measure/internal/measure"
	"github.com/shizukutanaka/measure/internal/metrics"
	"github.com/shizukutanaka/measure/internal/report"
)

func newExecCmd(a *app) *cobra.Command {
	var (
		repeat int
		label  string
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Time an external command",
		Long: `Run a command under a scoped timer, repeat times, counting hardware
events in the child when a category is selected. The averaged result is
dumped, reported, exported and stored in history as configured.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repeat < 1 {
				return fmt.Errorf("--repeat must be at least 1")
			}
			if label == "" {
				label = strings.Join(args, " ")
			}
			return a.runExec(cmd, args, label, repeat)
		},
	}

	cmd.Flags().SetInterspersed(false)
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "number of runs")
	cmd.Flags().StringVarP(&label, "label", "l", "", "measurement label (default is the command line)")
	return cmd
}

func (a *app) runExec(cmd *cobra.Command, args []string, label string, repeat int) error {
	ctx := cmd.Context()
	logger := logging.WithComponent(a.logger, "exec")
	out := cmd.OutOrStdout()

	counterCfg := a.cfg.Counters
	counterCfg.Inherit = true

	exporter := metrics.NewExporter(logger, a.cfg.Metrics)
	if err := exporter.Start(ctx); err != nil {
		return err
	}
	defer exporter.Stop()

	registry := measure.NewRegistry()
	registry.AddReporter(exporter)
	meter := measure.NewMeter(logger, registry, measure.Options{
		Category: a.cfg.MetricCategory(),
		Counters: counters.New(logger, counterCfg),
		Output:   out,
		Observer: exporter,
	})

	var runErr error
	for i := 0; i < repeat; i++ {
		child := exec.CommandContext(ctx, args[0], args[1:]...)
		child.Stdin = cmd.InOrStdin()
		child.Stdout = out
		child.Stderr = cmd.ErrOrStderr()

		timer := meter.Start(label)
		runErr = child.Run()
		timer.Stop()

		if runErr != nil {
			runErr = fmt.Errorf("run %d of %q failed: %w", i+1, label, runErr)
			break
		}
	}

	if err := registry.Dump(out); err != nil {
		return err
	}

	r := report.Report{
		RunID:     a.runID,
		Category:  meter.Category().String(),
		CreatedAt: time.Now().UTC(),
		Stats:     report.Summarize(registry.Snapshot()),
	}
	if err := a.writeReport(cmd, r); err != nil {
		apperrors.Log(logger, "Report not written", err)
	}
	if err := exporter.WriteTextfile(); err != nil {
		apperrors.Log(logger, "Metrics textfile not written", err)
	}
	if err := a.saveHistory(ctx, logger, strings.Join(args, " "), r); err != nil {
		apperrors.Log(logger, "Run not saved to history", err)
	}

	return runErr
}

// writeReport writes the report file, or prints non-text formats to stdout.
// The text format on stdout would only repeat the dump.
func (a *app) writeReport(cmd *cobra.Command, r report.Report) error {
	rc := a.cfg.Report
	if rc.Output != "" {
		return report.WriteFile(rc.Output, rc.Format, r)
	}
	if rc.Format == "text" {
		return nil
	}
	return report.Write(cmd.OutOrStdout(), rc.Format, r)
}

func (a *app) saveHistory(ctx context.Context, logger *zap.Logger, command string, r report.Report) error {
	if !a.cfg.History.Enabled() {
		return nil
	}

	store, err := history.Open(ctx, logger, a.cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	hostname, _ := os.Hostname()
	return store.Save(ctx, history.Run{
		ID:        r.RunID,
		Category:  r.Category,
		Command:   command,
		Hostname:  hostname,
		CreatedAt: r.CreatedAt,
		Stats:     r.Stats,
	})
}
