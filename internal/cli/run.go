package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillm/swing-trader/internal/api"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/scheduler"
)

var noAPI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler, exit monitor and HTTP API",
	RunE:  runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&noAPI, "no-api", false, "do not start the HTTP API")
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, dryRun)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("🚀 Starting swing trader %s", Version)

	cron := scheduler.NewCronScheduler(a.logger.With("scheduler"))
	if err := a.executor.Initialize(cron); err != nil {
		return err
	}
	if err := a.monitor.Initialize(cron, a.cfg.Monitor.Schedule, a.cfg.Monitor.Timezone); err != nil {
		return err
	}
	cron.Start(ctx)
	defer cron.Stop()

	a.event(ctx, domain.LogLevelInfo, "engine started", map[string]interface{}{
		"version": Version,
		"holder":  a.guard.Holder(),
		"jobs":    cron.Jobs(),
	})

	errCh := make(chan error, 1)
	if !noAPI && a.cfg.APIPort > 0 {
		server := api.NewServer(api.Deps{
			Capital:  a.ledger,
			Executor: a.executor,
			Monitor:  a.monitor,
			Trades:   a.store,
			Runs:     a.store,
			Signals:  a.store,
			Registry: a.registry,
			Token:    a.cfg.APIToken,
			Version:  Version,
			Logger:   a.logger.With("api"),
		})
		go func() {
			errCh <- server.Run(ctx, a.cfg.APIPort)
		}()
	}

	a.logger.Info("✅ Swing trader is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			a.logger.Error("❌ HTTP server error: %v", err)
		}
	}

	a.logger.Info("🛑 Shutting down...")
	a.event(context.Background(), domain.LogLevelInfo, "engine stopped", map[string]interface{}{"version": Version})
	return err
}
