package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts processed Stripe webhook attempts by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Stripe webhook processing attempts by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "billingsync",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconciliationsTotal counts reconciliation runs by entry point and result.
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Reconciliation runs by entry point (replay, verify, sweep) and result (fixed, unchanged, rejected, error).",
	}, []string{"entry", "result"})

	// PartialFailuresTotal counts subscription cache writes that failed after the tenant update.
	PartialFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "reconcile",
		Name:      "partial_failures_total",
		Help:      "Subscription upserts that failed after the handbook was marked paid.",
	})

	// ProviderRequestsTotal counts Stripe API calls by operation and outcome.
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Stripe API calls by operation and outcome.",
	}, []string{"op", "outcome"})

	// QueueJobsTotal counts reconcile queue jobs by outcome.
	QueueJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingsync",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Reconcile queue jobs by outcome (done, retry, dead_letter, invalid).",
	}, []string{"outcome"})

	// WebhookSuccessRatio is the trailing 24h success ratio reported by the health monitor.
	WebhookSuccessRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "billingsync",
		Subsystem: "health",
		Name:      "webhook_success_ratio",
		Help:      "Trailing 24h webhook success ratio (0-1).",
	})

	// CriticalWebhookSuccessRatio is the same ratio for checkout.session.completed only.
	CriticalWebhookSuccessRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "billingsync",
		Subsystem: "health",
		Name:      "critical_webhook_success_ratio",
		Help:      "Trailing 24h success ratio of checkout.session.completed events (0-1).",
	})
)
