package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show capital and positions per market",
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	status, err := a.ledger.GetCapitalStatus(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(out, "Positions: %d/%d (%.1f%%)\n\n", status.TotalPositions, status.MaxTotalPositions, status.UtilizationPercent)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tCUR\tINITIAL\tREALIZED\tALLOCATED\tAVAILABLE\tPOSITIONS\tNEXT SIZE")
	for _, code := range a.registry.Codes() {
		m, ok := status.PerMarket[code]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%d/%d\t%.2f\n",
			m.Market, m.Currency, m.InitialCapital, m.RealizedPL, m.Allocated, m.Available,
			m.PositionCount, m.MaxPositions, m.NextTradeSize)
	}
	return w.Flush()
}
