package reconcile

import (
	"context"
	"time"

	"billingsync/internal/service"

	"github.com/rs/zerolog"
)

// MonitorConfig holds the periodic job intervals. A zero interval disables the job.
type MonitorConfig struct {
	SweepInterval  time.Duration
	HealthInterval time.Duration
}

// Monitor runs the orphaned-trial sweep and the webhook health report on
// fixed intervals.
type Monitor struct {
	reconcile service.ReconciliationService
	health    service.HealthService
	cfg       MonitorConfig
	logger    zerolog.Logger
}

func NewMonitor(reconcile service.ReconciliationService, health service.HealthService, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	return &Monitor{
		reconcile: reconcile,
		health:    health,
		cfg:       cfg,
		logger:    logger.With().Str("component", "monitor").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Dur("sweep_interval", m.cfg.SweepInterval).
		Dur("health_interval", m.cfg.HealthInterval).
		Msg("Monitor started")

	sweepC, stopSweep := tickerChan(m.cfg.SweepInterval)
	defer stopSweep()
	healthC, stopHealth := tickerChan(m.cfg.HealthInterval)
	defer stopHealth()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Monitor stopped")
			return
		case <-sweepC:
			m.Sweep(ctx)
		case <-healthC:
			m.CheckHealth(ctx)
		}
	}
}

// Sweep repairs trial tenants whose local subscription is already active.
func (m *Monitor) Sweep(ctx context.Context) {
	res, err := m.reconcile.SweepOrphanedTrials(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Orphaned trial sweep failed")
		return
	}
	ev := m.logger.Info()
	if res.Failed > 0 {
		ev = m.logger.Warn()
	}
	ev.Int("checked", res.Checked).Int("fixed", res.Fixed).Int("failed", res.Failed).Msg("Orphaned trial sweep finished")
}

// CheckHealth computes the webhook health report and logs its recommendations.
func (m *Monitor) CheckHealth(ctx context.Context) {
	rep, err := m.health.Report(ctx, false)
	if err != nil {
		m.logger.Error().Err(err).Msg("Webhook health report failed")
		return
	}
	for _, rec := range rep.Recommendations {
		if rec == service.RecommendationHealthy {
			m.logger.Debug().Str("success_rate", rep.Summary.SuccessRate).Msg(rec)
			continue
		}
		m.logger.Warn().
			Str("success_rate", rep.Summary.SuccessRate).
			Str("critical_success_rate", rep.Summary.CriticalSuccessRate).
			Int("failed_events", rep.Summary.FailedEvents).
			Msg(rec)
	}
}

// tickerChan returns a ticker channel, or a nil channel for d <= 0.
func tickerChan(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
