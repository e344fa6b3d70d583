package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shineum/mail-dispatch/internal/pacing"
)

func newWarmupCmd() *cobra.Command {
	var start int

	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Print a two week send-limit ramp for a new relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tLIMIT\tRECOMMENDATION")
			for _, day := range pacing.WarmupSchedule(start) {
				fmt.Fprintf(w, "%d\t%d\t%s\n", day.Day, day.Limit, day.Recommendation)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&start, "start", 10, "sends allowed on day one")
	return cmd
}
