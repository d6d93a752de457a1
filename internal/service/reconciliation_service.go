package service

import (
	"context"
	"fmt"
	"time"

	"billingsync/internal/metrics"
	"billingsync/internal/model"
	"billingsync/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	recentPaymentWindow   = 7 * 24 * time.Hour
	subscriptionPeriod    = 30 * 24 * time.Hour
	defaultPlanType       = "monthly"
	orphanedTrialBatchMax = 100
)

// Reconciliation sources, recorded on billing events and logs.
const (
	SourceReplay  = "replay"
	SourceVerify  = "verify"
	SourceSweep   = "sweep"
	SourceWebhook = "webhook"
)

// EventPublisher announces billing state changes to other services.
type EventPublisher interface {
	PublishBillingEvent(ctx context.Context, ev model.BillingEvent) error
}

type ReplayResult struct {
	Fixed          bool
	TenantID       string
	SessionRef     string
	PartialFailure bool
}

type VerifyAnalysis struct {
	HasActiveSubscription bool
	HasRecentPayment      bool
	HasSuccessfulCheckout bool
}

type VerifyResult struct {
	TenantID       string
	ShouldBePaid   bool
	Fixed          bool
	Analysis       VerifyAnalysis
	PartialFailure bool
}

type SweepResult struct {
	Checked int
	Fixed   int
	Failed  int
}

// ReconciliationService repairs local billing state from the payment provider.
// Every mutation is a guarded update or a conflict-key upsert, so concurrent
// and repeated calls converge on the same rows.
type ReconciliationService interface {
	ReplaySession(ctx context.Context, sessionRef string) (*ReplayResult, error)
	VerifyAndFix(ctx context.Context, tenantID, userID string) (*VerifyResult, error)
	// VerifyAndFixTenant runs VerifyAndFix on behalf of the handbook's owner.
	// It is used by the queue worker and the CLI, which act as the system.
	VerifyAndFixTenant(ctx context.Context, tenantID string) (*VerifyResult, error)
	SweepOrphanedTrials(ctx context.Context) (*SweepResult, error)
	CancelSubscription(ctx context.Context, stripeSubscriptionID string) (tenantID string, changed bool, err error)
}

type reconciliationService struct {
	tenantRepo repository.TenantRepository
	userRepo   repository.UserRepository
	subRepo    repository.SubscriptionRepository
	provider   PaymentProvider
	publisher  EventPublisher
	now        func() time.Time
	logger     zerolog.Logger
}

func NewReconciliationService(
	tenantRepo repository.TenantRepository,
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	provider PaymentProvider,
	publisher EventPublisher,
	logger zerolog.Logger,
) ReconciliationService {
	return &reconciliationService{
		tenantRepo: tenantRepo,
		userRepo:   userRepo,
		subRepo:    subRepo,
		provider:   provider,
		publisher:  publisher,
		now:        time.Now,
		logger:     logger.With().Str("service", "ReconciliationService").Logger(),
	}
}

func (s *reconciliationService) ReplaySession(ctx context.Context, sessionRef string) (*ReplayResult, error) {
	log := s.logger.With().Str("session_ref", sessionRef).Logger()

	sess, err := s.provider.RetrieveCheckoutSession(ctx, sessionRef)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(SourceReplay, "error").Inc()
		return nil, err
	}
	if sess.Status != model.CheckoutStatusComplete || sess.PaymentStatus != model.PaymentStatusPaid {
		log.Warn().
			Str("status", sess.Status).
			Str("payment_status", sess.PaymentStatus).
			Msg("Checkout session is not in a payable state")
		metrics.ReconciliationsTotal.WithLabelValues(SourceReplay, "rejected").Inc()
		return nil, fmt.Errorf("session %s status=%s payment_status=%s: %w", sessionRef, sess.Status, sess.PaymentStatus, ErrInvalidState)
	}
	tenantID := sess.TenantID()
	if tenantID == "" {
		log.Error().Msg("Checkout session has no handbookId metadata")
		metrics.ReconciliationsTotal.WithLabelValues(SourceReplay, "rejected").Inc()
		return nil, fmt.Errorf("session %s: %w", sessionRef, ErrMissingMetadata)
	}
	log = log.With().Str("tenant_id", tenantID).Logger()

	tenant, err := s.tenantRepo.GetTenant(ctx, tenantID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch handbook for replay")
		metrics.ReconciliationsTotal.WithLabelValues(SourceReplay, "error").Inc()
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("handbook %s: %w", tenantID, ErrNotFound)
	}

	plan := sess.Metadata[model.MetadataPlanKey]
	if plan == "" {
		plan = defaultPlanType
	}
	customerID := sess.CustomerID
	changed, partial, err := s.markPaid(ctx, tenant, model.SubscriptionUpsert{
		UserID:               tenant.OwnerID,
		Status:               model.SubscriptionStatusActive,
		PlanType:             plan,
		StripeSubscriptionID: sess.SubscriptionID,
		StripeCustomerID:     customerID,
	}, SourceReplay, sessionRef)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(SourceReplay, "error").Inc()
		return nil, err
	}

	metrics.ReconciliationsTotal.WithLabelValues(SourceReplay, resultLabel(changed)).Inc()
	log.Info().Bool("fixed", changed).Bool("partial_failure", partial).Msg("Replayed checkout session")
	return &ReplayResult{Fixed: changed, TenantID: tenantID, SessionRef: sessionRef, PartialFailure: partial}, nil
}

func (s *reconciliationService) VerifyAndFix(ctx context.Context, tenantID, userID string) (*VerifyResult, error) {
	log := s.logger.With().Str("tenant_id", tenantID).Str("user_id", userID).Logger()

	tenant, err := s.tenantRepo.GetTenant(ctx, tenantID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch handbook for verify")
		metrics.ReconciliationsTotal.WithLabelValues(SourceVerify, "error").Inc()
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("handbook %s: %w", tenantID, ErrNotFound)
	}
	if tenant.OwnerID != userID {
		log.Warn().Str("owner_id", tenant.OwnerID).Msg("Verify requested for a user that does not own the handbook")
		return nil, ErrForbidden
	}

	res := &VerifyResult{TenantID: tenantID}

	owner, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch owner profile")
		metrics.ReconciliationsTotal.WithLabelValues(SourceVerify, "error").Inc()
		return nil, err
	}
	if owner == nil || owner.StripeCustomerID == nil || *owner.StripeCustomerID == "" {
		// Nothing can be confirmed without a customer reference.
		log.Info().Msg("Owner has no Stripe customer; nothing to verify")
		metrics.ReconciliationsTotal.WithLabelValues(SourceVerify, "unchanged").Inc()
		return res, nil
	}
	customerID := *owner.StripeCustomerID
	log = log.With().Str("stripe_customer_id", customerID).Logger()

	var (
		activeSubs []model.ProviderSubscription
		charges    []model.Charge
		sessions   []model.CheckoutSession
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		activeSubs, err = s.provider.ListActiveSubscriptions(gctx, customerID, subscriptionListLimit)
		return err
	})
	g.Go(func() error {
		var err error
		charges, err = s.provider.ListRecentCharges(gctx, customerID, chargeListLimit)
		return err
	})
	g.Go(func() error {
		var err error
		sessions, err = s.provider.ListCheckoutSessions(gctx, customerID, sessionListLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		// Inconclusive: leave the handbook as it is.
		log.Error().Err(err).Msg("Provider lookup failed; handbook left unchanged")
		metrics.ReconciliationsTotal.WithLabelValues(SourceVerify, "error").Inc()
		return nil, err
	}

	now := s.now()
	res.Analysis.HasActiveSubscription = len(activeSubs) > 0
	for _, ch := range charges {
		if ch.Status == model.ChargeStatusSucceeded && now.Sub(ch.Created) <= recentPaymentWindow {
			res.Analysis.HasRecentPayment = true
			break
		}
	}
	var paidSession *model.CheckoutSession
	for i := range sessions {
		if sessions[i].PaymentStatus == model.PaymentStatusPaid && sessions[i].TenantID() == tenantID {
			paidSession = &sessions[i]
			res.Analysis.HasSuccessfulCheckout = true
			break
		}
	}
	res.ShouldBePaid = res.Analysis.HasActiveSubscription || res.Analysis.HasRecentPayment || res.Analysis.HasSuccessfulCheckout

	log.Info().
		Bool("has_active_subscription", res.Analysis.HasActiveSubscription).
		Bool("has_recent_payment", res.Analysis.HasRecentPayment).
		Bool("has_successful_checkout", res.Analysis.HasSuccessfulCheckout).
		Bool("in_trial", tenant.InTrial()).
		Msg("Verified handbook against provider")

	if !res.ShouldBePaid || !tenant.InTrial() {
		metrics.ReconciliationsTotal.WithLabelValues(SourceVerify, "unchanged").Inc()
		return res, nil
	}

	fields := model.SubscriptionUpsert{
		UserID:           tenant.OwnerID,
		Status:           model.SubscriptionStatusActive,
		PlanType:         defaultPlanType,
		StripeCustomerID: customerID,
	}
	// A customer can own several handbooks; only a checkout naming this
	// handbook identifies its subscription.
	switch {
	case paidSession != nil && paidSession.SubscriptionID != "":
		fields.StripeSubscriptionID = paidSession.SubscriptionID
	case len(activeSubs) > 0:
		fields.StripeSubscriptionID = activeSubs[0].ID
	}
	if paidSession != nil {
		if plan := paidSession.Metadata[model.MetadataPlanKey]; plan != "" {
			fields.PlanType = plan
		}
	}

	changed, partial, err := s.markPaid(ctx, tenant, fields, SourceVerify, "")
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(SourceVerify, "error").Inc()
		return nil, err
	}
	res.Fixed = changed
	res.PartialFailure = partial
	metrics.ReconciliationsTotal.WithLabelValues(SourceVerify, resultLabel(changed)).Inc()
	return res, nil
}

func (s *reconciliationService) VerifyAndFixTenant(ctx context.Context, tenantID string) (*VerifyResult, error) {
	tenant, err := s.tenantRepo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("handbook %s: %w", tenantID, ErrNotFound)
	}
	return s.VerifyAndFix(ctx, tenantID, tenant.OwnerID)
}

// SweepOrphanedTrials marks paid every handbook that still carries a trial
// although an active subscription row exists for it.
func (s *reconciliationService) SweepOrphanedTrials(ctx context.Context) (*SweepResult, error) {
	tenants, err := s.tenantRepo.ListTrialTenantsWithActiveSubscription(ctx, orphanedTrialBatchMax)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list orphaned trials")
		metrics.ReconciliationsTotal.WithLabelValues(SourceSweep, "error").Inc()
		return nil, err
	}

	res := &SweepResult{Checked: len(tenants)}
	for i := range tenants {
		t := &tenants[i]
		if err := ctx.Err(); err != nil {
			return res, err
		}
		changed, err := s.tenantRepo.MarkTenantPaid(ctx, t.ID)
		if err != nil {
			res.Failed++
			s.logger.Error().Err(err).Str("tenant_id", t.ID).Msg("Failed to fix orphaned trial")
			continue
		}
		if changed {
			res.Fixed++
			s.publish(ctx, model.BillingEvent{
				Type:     model.BillingEventTenantMarkedPaid,
				TenantID: t.ID,
				UserID:   t.OwnerID,
				Source:   SourceSweep,
			})
		}
	}

	result := "unchanged"
	if res.Fixed > 0 {
		result = "fixed"
	}
	metrics.ReconciliationsTotal.WithLabelValues(SourceSweep, result).Inc()
	s.logger.Info().Int("checked", res.Checked).Int("fixed", res.Fixed).Int("failed", res.Failed).Msg("Orphaned trial sweep finished")
	return res, nil
}

// CancelSubscription marks the local row for a Stripe subscription as cancelled.
func (s *reconciliationService) CancelSubscription(ctx context.Context, stripeSubscriptionID string) (string, bool, error) {
	tenantID, changed, err := s.subRepo.CancelByStripeSubscriptionID(ctx, stripeSubscriptionID)
	if err != nil {
		s.logger.Error().Err(err).Str("stripe_subscription_id", stripeSubscriptionID).Msg("Failed to cancel subscription")
		return "", false, err
	}
	if !changed {
		s.logger.Info().Str("stripe_subscription_id", stripeSubscriptionID).Msg("No active subscription row to cancel")
		return "", false, nil
	}
	s.logger.Info().Str("stripe_subscription_id", stripeSubscriptionID).Str("tenant_id", tenantID).Msg("Subscription cancelled")
	s.publish(ctx, model.BillingEvent{
		Type:     model.BillingEventSubscriptionCancelled,
		TenantID: tenantID,
		Source:   SourceWebhook,
	})
	return tenantID, true, nil
}

// markPaid clears the handbook's trial and upserts its subscription row.
// A failed upsert after the handbook update is a partial failure: logged and
// reported, but not an error.
func (s *reconciliationService) markPaid(ctx context.Context, tenant *model.Tenant, fields model.SubscriptionUpsert, source, sessionRef string) (changed, partial bool, err error) {
	log := s.logger.With().Str("tenant_id", tenant.ID).Str("source", source).Logger()

	changed, err = s.tenantRepo.MarkTenantPaid(ctx, tenant.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark handbook paid")
		return false, false, err
	}

	now := s.now()
	fields.PeriodStart = now
	fields.PeriodEnd = now.Add(subscriptionPeriod)
	if err := s.subRepo.UpsertSubscription(ctx, tenant.ID, fields); err != nil {
		partial = true
		metrics.PartialFailuresTotal.Inc()
		log.Error().
			Err(fmt.Errorf("%w: %w", ErrPartialFailure, err)).
			Bool("tenant_updated", changed).
			Msg("Subscription upsert failed after handbook was marked paid")
	}

	if changed {
		s.publish(ctx, model.BillingEvent{
			Type:       model.BillingEventTenantMarkedPaid,
			TenantID:   tenant.ID,
			UserID:     tenant.OwnerID,
			Source:     source,
			SessionRef: sessionRef,
		})
	}
	return changed, partial, nil
}

func (s *reconciliationService) publish(ctx context.Context, ev model.BillingEvent) {
	if s.publisher == nil {
		return
	}
	ev.OccurredAt = s.now().UTC()
	if err := s.publisher.PublishBillingEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", ev.TenantID).Str("event", ev.Type).Msg("Failed to publish billing event")
	}
}

func resultLabel(changed bool) string {
	if changed {
		return "fixed"
	}
	return "unchanged"
}
