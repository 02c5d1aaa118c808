package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one exit-monitor pass over all active trades",
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, dryRun)
	if err != nil {
		return err
	}
	defer a.close()

	s := a.monitor.RunOnce(ctx)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked: %d  Closed: %d  Skipped: %d  Errors: %d  (%dms)\n",
		s.Checked, s.Closed, s.Skipped, s.Errors, s.DurationMs)
	for _, d := range s.Decisions {
		state := "hold"
		switch {
		case d.PriceUnavailable:
			state = "no quote"
		case d.Closed:
			state = "closed: " + d.ExitType
		case d.AlreadyHandled:
			state = "already handled"
		}
		fmt.Fprintf(out, "  #%-5d %-12s %+7.2f%% %3dd  %s\n", d.TradeID, d.Symbol, d.PLPercent, d.HoldingDays, state)
	}
	if s.Note != "" {
		fmt.Fprintf(out, "Note: %s\n", s.Note)
	}
	return nil
}
