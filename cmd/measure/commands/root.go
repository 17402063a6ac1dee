package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/measure/internal/config"
	"github.com/shizukutanaka/measure/internal/logging"
)

const Version = "1.0.0"

// app carries the state shared by every subcommand once the root command
// has loaded the configuration.
type app struct {
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
	runID  string
}

// NewRootCmd builds the measure command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "measure",
		Short: "Scoped timing with hardware-counter sampling",
		Long: `measure times labelled regions, optionally sampling two hardware
performance counters selected by MEASURE_FLAGS (TOTAL, DCACHE, DCACHE2,
BRANCH, TLBCACHE), and reports the averaged duration per label.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./measure.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newExecCmd(a),
		newProbeCmd(a),
		newCategoriesCmd(a),
		newHistoryCmd(a),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	a.runID = uuid.NewString()
	logger, err := logging.New(cfg.Log, zap.String("run_id", a.runID))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	logger.Debug("Configuration loaded",
		zap.String("file", cfg.File),
		zap.Stringer("category", cfg.MetricCategory()),
		zap.Bool("counters", cfg.Counters.Enabled),
	)
	return nil
}
