package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillm/swing-trader/internal/execution"
)

var executeCmd = &cobra.Command{
	Use:   "execute <market>",
	Short: "Execute today's pending signals for one market now",
	Long: `Runs the same pipeline as the scheduled job for one market.

Example:
  trader execute US`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, dryRun)
	if err != nil {
		return err
	}
	defer a.close()

	summary := a.executor.ManualExecute(ctx, strings.ToUpper(args[0]))
	printSummary(cmd, summary)
	if summary.Note != "" && summary.Total == 0 {
		return fmt.Errorf("execution did not run: %s", summary.Note)
	}
	return nil
}

func printSummary(cmd *cobra.Command, s execution.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s, %s)\n", s.RunID, s.Market, s.Trigger)
	fmt.Fprintf(out, "Total: %d  Executed: %d  Failed: %d  Skipped: %d  (%dms)\n",
		s.Total, s.Executed, s.Failed, s.Skipped, s.DurationMs)
	for _, o := range s.Outcomes {
		detail := o.Reason
		if o.Kind == execution.OutcomeExecuted {
			detail = fmt.Sprintf("trade #%d, %.2f %s", o.TradeID, o.TradeSize, o.Currency)
		}
		fmt.Fprintf(out, "  %-8s %-12s %s\n", o.Kind, o.Symbol, detail)
	}
	if s.Note != "" {
		fmt.Fprintf(out, "Note: %s\n", s.Note)
	}
}
