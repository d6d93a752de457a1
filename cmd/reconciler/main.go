package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billingsync/internal/bootstrap"
	"billingsync/internal/config"
	"billingsync/internal/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log = logger.New()

var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Billing reconciliation worker and operator tools",
	Long: `Runs the reconcile queue worker and the periodic sweeps, and exposes
one-shot operator commands for replaying checkout sessions and verifying
handbooks against Stripe.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.Debug().Msg("No .env file found, relying on system environment variables")
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log = log.Level(zerolog.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(workerCmd, sweepCmd, healthCmd, replayCmd, verifyCmd, setupPubSubCmd, jwksToPEMCmd, migrateCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp is replaced in tests.
var newApp = func(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return bootstrap.New(initCtx, cfg, log)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
