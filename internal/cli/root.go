// Package cli wires the engine together and exposes it as the trader command.
package cli

import (
	"github.com/spf13/cobra"
)

// Version задается при сборке через -ldflags
var Version = "dev"

var dryRun bool

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Swing-trade lifecycle engine",
	Long: `Trader turns daily scanner signals into funded positions and closes them
when an exit rule fires.

It provides:
  - per-market capital accounting with position limits
  - scheduled signal execution in each market's local time
  - a periodic exit monitor (target, stop loss, max holding days, square-off)
  - Telegram notifications for executions and exits`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them to Telegram")
}
