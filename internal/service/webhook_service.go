package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"billingsync/internal/metrics"
	"billingsync/internal/model"
	"billingsync/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// JobQueue hands verify-and-fix work to the reconcile worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job model.ReconcileJob) error
}

// WebhookResult describes one processed delivery.
type WebhookResult struct {
	EventID    string
	EventType  string
	Handled    bool
	RetryCount int
	TestMode   bool
}

// WebhookService verifies Stripe deliveries, routes them to reconciliation
// and records one ingestion log entry per attempt.
type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error)
}

type webhookService struct {
	secret    string
	reconcile ReconciliationService
	logRepo   repository.WebhookLogRepository
	queue     JobQueue
	now       func() time.Time
	logger    zerolog.Logger
}

// NewWebhookService creates a WebhookService. queue may be nil, in which case
// failed checkouts rely on Stripe redelivery alone.
func NewWebhookService(secret string, reconcile ReconciliationService, logRepo repository.WebhookLogRepository, queue JobQueue, logger zerolog.Logger) WebhookService {
	return &webhookService{
		secret:    secret,
		reconcile: reconcile,
		logRepo:   logRepo,
		queue:     queue,
		now:       time.Now,
		logger:    logger.With().Str("service", "WebhookService").Logger(),
	}
}

func (s *webhookService) HandleEvent(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	if s.secret == "" {
		return nil, ErrWebhookNotConfigured
	}
	start := s.now()

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		eventID := unverifiedEventID(payload)
		s.logger.Warn().Err(err).Str("event_id", eventID).Msg("Signature verification failed for Stripe webhook")
		s.record(ctx, &model.WebhookRecord{
			EventID:   eventID,
			EventType: model.EventTypeSignatureFailed,
			Success:   false,
		}, start, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	res := &WebhookResult{
		EventID:   event.ID,
		EventType: string(event.Type),
		TestMode:  !event.Livemode,
	}
	log := s.logger.With().Str("event_id", event.ID).Str("event_type", res.EventType).Logger()

	prior, err := s.logRepo.CountByEventID(ctx, event.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count earlier attempts; recording retry count 0")
		prior = 0
	}
	res.RetryCount = prior
	log.Info().Int("retry_count", prior).Bool("test_mode", res.TestMode).Msg("Stripe webhook received")

	procErr := s.route(ctx, &event, res, log)

	s.record(ctx, &model.WebhookRecord{
		EventID:    event.ID,
		EventType:  res.EventType,
		Success:    procErr == nil,
		RetryCount: prior,
		TestMode:   res.TestMode,
	}, start, procErr)

	if procErr != nil {
		return res, procErr
	}
	return res, nil
}

func (s *webhookService) route(ctx context.Context, event *stripe.Event, res *WebhookResult, log zerolog.Logger) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("%w: checkout.session: %v", ErrInvalidWebhookPayload, err)
		}
		res.Handled = true
		_, err := s.reconcile.ReplaySession(ctx, cs.ID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrInvalidState):
			// Async payment methods complete the session before payment
			// settles; the paid state arrives with a later event or sweep.
			log.Info().Str("session_ref", cs.ID).Msg("Checkout session not paid yet; nothing to apply")
			return nil
		case errors.Is(err, ErrMissingMetadata), errors.Is(err, ErrNotFound):
			// No retry or verify can succeed; the failure is only recorded.
			res.Handled = false
			log.Error().Err(err).Str("session_ref", cs.ID).Msg("Checkout session cannot be applied to a handbook")
			return err
		}
		s.enqueueVerify(ctx, cs.Metadata[model.MetadataTenantKey], cs.ID, log)
		return err

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: subscription: %v", ErrInvalidWebhookPayload, err)
		}
		res.Handled = true
		_, _, err := s.reconcile.CancelSubscription(ctx, sub.ID)
		return err

	default:
		log.Debug().Msg("Unhandled Stripe event type")
		return nil
	}
}

func (s *webhookService) enqueueVerify(ctx context.Context, tenantID, sessionRef string, log zerolog.Logger) {
	if s.queue == nil || tenantID == "" {
		return
	}
	job := model.ReconcileJob{
		TenantID:   tenantID,
		Reason:     "checkout_webhook_failed",
		SessionRef: sessionRef,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to enqueue verify job")
		return
	}
	log.Info().Str("tenant_id", tenantID).Msg("Enqueued verify job after failed checkout processing")
}

// record appends to the ingestion log. A failed write is logged and does not
// change the delivery outcome.
func (s *webhookService) record(ctx context.Context, rec *model.WebhookRecord, start time.Time, procErr error) {
	now := s.now()
	elapsed := now.Sub(start).Milliseconds()
	rec.ID = uuid.NewString()
	rec.ProcessingTimeMs = &elapsed
	rec.ProcessedAt = now.UTC()
	if procErr != nil {
		msg := procErr.Error()
		rec.ErrorMessage = &msg
	}

	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	metrics.WebhookEventsTotal.WithLabelValues(rec.EventType, outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(rec.EventType).Observe(now.Sub(start).Seconds())

	// The request context may already be cancelled; the audit row still goes in.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.logRepo.Record(recCtx, rec); err != nil {
		s.logger.Error().Err(err).Str("event_id", rec.EventID).Msg("Failed to record webhook processing attempt")
	}
}

// unverifiedEventID extracts the claimed event id from an unverified payload
// for correlation only.
func unverifiedEventID(payload []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return "unverified_" + uuid.NewString()
}
