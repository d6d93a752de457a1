package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"billingsync/internal/metrics"
	"billingsync/internal/model"
	"billingsync/internal/repository"

	"github.com/rs/zerolog"
)

const (
	healthWindow          = 24 * time.Hour
	criticalRecentWindow  = 2 * time.Hour
	recentFailureLimit    = 10
	failureRateThreshold  = 0.10
	slowProcessingAvgMs   = 5000
	RecommendationHealthy = "Webhook system is operating normally"
)

type HealthSummary struct {
	TotalEvents         int
	SuccessfulEvents    int
	FailedEvents        int
	SuccessRate         string
	AvgProcessingTimeMs int64
	CriticalEventsCount int
	CriticalSuccessRate string

	// Ratios feed the health gauges.
	SuccessRatio         float64
	CriticalSuccessRatio float64
}

// HealthReport aggregates the trailing 24h of the webhook ingestion log.
type HealthReport struct {
	Summary         HealthSummary
	EventTypes      map[string]int
	RecentFailures  []model.WebhookRecord
	Recommendations []string

	// Set only for detailed reports.
	WindowStart    *time.Time
	WindowEnd      *time.Time
	FailuresByType map[string]int
}

// HealthService reads the ingestion log. It never writes.
type HealthService interface {
	Report(ctx context.Context, detailed bool) (*HealthReport, error)
}

type healthService struct {
	logRepo repository.WebhookLogRepository
	now     func() time.Time
	logger  zerolog.Logger
}

func NewHealthService(logRepo repository.WebhookLogRepository, logger zerolog.Logger) HealthService {
	return &healthService{
		logRepo: logRepo,
		now:     time.Now,
		logger:  logger.With().Str("service", "HealthService").Logger(),
	}
}

func (s *healthService) Report(ctx context.Context, detailed bool) (*HealthReport, error) {
	now := s.now()
	since := now.Add(-healthWindow)

	records, err := s.logRepo.ListSince(ctx, since)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read webhook log window")
		return nil, err
	}
	failures, err := s.logRepo.RecentFailures(ctx, recentFailureLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read recent webhook failures")
		return nil, err
	}

	rep := buildHealthReport(records, failures, now)
	if detailed {
		rep.WindowStart = &since
		rep.WindowEnd = &now
		rep.FailuresByType = make(map[string]int)
		for _, r := range records {
			if !r.Success {
				rep.FailuresByType[r.EventType]++
			}
		}
	}

	metrics.WebhookSuccessRatio.Set(rep.Summary.SuccessRatio)
	metrics.CriticalWebhookSuccessRatio.Set(rep.Summary.CriticalSuccessRatio)
	return rep, nil
}

func buildHealthReport(records, failures []model.WebhookRecord, now time.Time) *HealthReport {
	rep := &HealthReport{
		EventTypes:     make(map[string]int),
		RecentFailures: failures,
	}
	if rep.RecentFailures == nil {
		rep.RecentFailures = []model.WebhookRecord{}
	}
	sum := &rep.Summary

	var (
		timingTotal       int64
		timingCount       int
		criticalOK        int
		criticalRecentBad int
		signatureFailures int
	)
	for _, r := range records {
		sum.TotalEvents++
		if r.Success {
			sum.SuccessfulEvents++
		}
		rep.EventTypes[r.EventType]++
		if r.ProcessingTimeMs != nil {
			timingTotal += *r.ProcessingTimeMs
			timingCount++
		}
		switch r.EventType {
		case model.EventTypeCheckoutCompleted:
			sum.CriticalEventsCount++
			if r.Success {
				criticalOK++
			} else if now.Sub(r.ProcessedAt) <= criticalRecentWindow {
				criticalRecentBad++
			}
		case model.EventTypeSignatureFailed:
			signatureFailures++
		}
	}
	sum.FailedEvents = sum.TotalEvents - sum.SuccessfulEvents

	sum.SuccessRate = "0%"
	if sum.TotalEvents > 0 {
		sum.SuccessRatio = float64(sum.SuccessfulEvents) / float64(sum.TotalEvents)
		sum.SuccessRate = fmt.Sprintf("%.1f%%", sum.SuccessRatio*100)
	}

	// No critical events is no evidence of failure.
	sum.CriticalSuccessRate = "100%"
	sum.CriticalSuccessRatio = 1
	if sum.CriticalEventsCount > 0 {
		sum.CriticalSuccessRatio = float64(criticalOK) / float64(sum.CriticalEventsCount)
		sum.CriticalSuccessRate = fmt.Sprintf("%.1f%%", sum.CriticalSuccessRatio*100)
	}

	var avg float64
	if timingCount > 0 {
		avg = float64(timingTotal) / float64(timingCount)
		sum.AvgProcessingTimeMs = int64(math.Round(avg))
	}

	if sum.TotalEvents > 0 {
		if rate := float64(sum.FailedEvents) / float64(sum.TotalEvents); rate > failureRateThreshold {
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("High failure rate (%.1f%%) - check Stripe webhook configuration", rate*100))
		}
	}
	if criticalRecentBad > 0 {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("%d critical payment webhook(s) failed in the last 2 hours - immediate attention required", criticalRecentBad))
	}
	if avg > slowProcessingAvgMs {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("Slow webhook processing (%dms avg) - check database and provider latency", int64(math.Round(avg))))
	}
	if signatureFailures > 0 {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("%d signature verification failure(s) - check webhook secret configuration", signatureFailures))
	}
	if len(rep.Recommendations) == 0 {
		rep.Recommendations = []string{RecommendationHealthy}
	}
	return rep
}
