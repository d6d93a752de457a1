package main

import (
	"billingsync/internal/api/v1/dto"
	"billingsync/internal/service"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark paid every trial handbook that already has an active subscription",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Reconcile.SweepOrphanedTrials(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"checked": res.Checked, "fixed": res.Fixed, "failed": res.Failed})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the webhook ingestion health report for the last 24 hours",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		detailed, _ := cmd.Flags().GetBool("detailed")
		rep, err := app.Health.Report(cmd.Context(), detailed)
		if err != nil {
			return err
		}
		out := dto.WebhookHealthSummaryDTO{
			TotalEvents:         rep.Summary.TotalEvents,
			SuccessfulEvents:    rep.Summary.SuccessfulEvents,
			FailedEvents:        rep.Summary.FailedEvents,
			SuccessRate:         rep.Summary.SuccessRate,
			AvgProcessingTimeMs: rep.Summary.AvgProcessingTimeMs,
			CriticalEventsCount: rep.Summary.CriticalEventsCount,
			CriticalSuccessRate: rep.Summary.CriticalSuccessRate,
		}
		return printJSON(cmd, map[string]any{
			"summary":         out,
			"eventTypes":      rep.EventTypes,
			"recommendations": rep.Recommendations,
			"failuresByType":  rep.FailuresByType,
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <session-ref>",
	Short: "Replay a Stripe checkout session and mark its handbook paid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Reconcile.ReplaySession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, dto.ReplayResponseDTO{
			Fixed:          res.Fixed,
			Tenant:         res.TenantID,
			Session:        res.SessionRef,
			PartialFailure: res.PartialFailure,
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <handbook-id> [owner-user-id]",
	Short: "Verify a handbook against Stripe and fix it if it should be paid",
	Long: `Verify a handbook against Stripe. Without an owner user id the handbook's
recorded owner is used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		var res *service.VerifyResult
		if len(args) == 2 {
			res, err = app.Reconcile.VerifyAndFix(ctx, args[0], args[1])
		} else {
			res, err = app.Reconcile.VerifyAndFixTenant(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, dto.VerifyResponseDTO{
			ShouldBePaid: res.ShouldBePaid,
			Fixed:        res.Fixed,
			Analysis: dto.VerifyAnalysisDTO{
				HasActiveSubscription: res.Analysis.HasActiveSubscription,
				HasRecentPayment:      res.Analysis.HasRecentPayment,
				HasSuccessfulCheckout: res.Analysis.HasSuccessfulCheckout,
			},
			PartialFailure: res.PartialFailure,
		})
	},
}

func init() {
	healthCmd.Flags().Bool("detailed", false, "Include failure counts by event type")
}
