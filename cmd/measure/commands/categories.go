package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/measure/internal/measure"
)

func newCategoriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List metric categories and their hardware events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := a.cfg.MetricCategory()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "\tCATEGORY\tEVENTS")
			for _, c := range measure.Categories() {
				events, _ := c.Events()
				mark := ""
				if c == selected {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s, %s\n", mark, c, events[0], events[1])
			}
			return tw.Flush()
		},
	}
}
