package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/measure/internal/counters"
	"github.com/shizukutanaka/measure/internal/hardware"
	"github.com/shizukutanaka/measure/internal/logging"
)

func newProbeCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Describe the host and check hardware counter access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.WithComponent(a.logger, "probe")
			out := cmd.OutOrStdout()

			info, err := hardware.Probe(cmd.Context(), logger)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			if err := info.Write(out); err != nil {
				return err
			}

			category := a.cfg.MetricCategory()
			src := counters.New(logger, a.cfg.Counters)
			switch {
			case !category.Active():
				fmt.Fprintln(out, "Counters:    no category selected (set MEASURE_FLAGS)")
			case src == nil:
				fmt.Fprintf(out, "Counters:    %s disabled by configuration\n", category)
			default:
				if err := counters.Check(src, category); err != nil {
					fmt.Fprintf(out, "Counters:    %s unavailable: %s\n", category, counters.Describe(err))
				} else {
					fmt.Fprintf(out, "Counters:    %s available\n", category)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the probe as JSON")
	return cmd
}
