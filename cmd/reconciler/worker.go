package main

import (
	"context"
	"errors"
	"time"

	"billingsync/internal/orchestrator/reconcile"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the reconcile queue and run the periodic sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		noMonitor, _ := cmd.Flags().GetBool("no-monitor")
		cfg := app.Config

		worker := reconcile.NewWorker(app.Queue, app.Reconcile, reconcile.OptionsFromConfig(cfg), log)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return worker.Run(gctx) })
		if !noMonitor {
			monitor := reconcile.NewMonitor(app.Reconcile, app.Health, reconcile.MonitorConfig{
				SweepInterval:  time.Duration(cfg.SweepIntervalSec) * time.Second,
				HealthInterval: time.Duration(cfg.HealthIntervalSec) * time.Second,
			}, log)
			g.Go(func() error {
				monitor.Run(gctx)
				return nil
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info().Msg("Reconciler stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().Bool("no-monitor", false, "Run only the queue worker, without sweeps or health checks")
}
