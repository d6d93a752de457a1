package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"billingsync/internal/config"
	"billingsync/internal/metrics"
	"billingsync/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

const (
	subscriptionListLimit = 10
	chargeListLimit       = 5
	sessionListLimit      = 10
)

// PaymentProvider is the read-only view of the payment provider used for
// reconciliation. It is the source of truth when it disagrees with the store.
type PaymentProvider interface {
	ListActiveSubscriptions(ctx context.Context, customerRef string, limit int64) ([]model.ProviderSubscription, error)
	ListRecentCharges(ctx context.Context, customerRef string, limit int64) ([]model.Charge, error)
	ListCheckoutSessions(ctx context.Context, customerRef string, limit int64) ([]model.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionRef string) (*model.CheckoutSession, error)
}

// StripeService implements PaymentProvider on a per-instance Stripe client.
type StripeService struct {
	sc     *client.API
	logger zerolog.Logger
}

// NewStripeClient builds a Stripe API client with bounded retries and a
// per-request timeout. No package-level key is set.
func NewStripeClient(cfg *config.Config, secretKey string) *client.API {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.StripeMaxNetworkRetries),
		HTTPClient:        &http.Client{Timeout: cfg.ProviderTimeout()},
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	})
	return client.New(secretKey, backends)
}

// NewStripeService wraps an initialized Stripe client.
func NewStripeService(sc *client.API, logger zerolog.Logger) *StripeService {
	lg := logger.With().Str("service", "StripeService").Logger()
	return &StripeService{sc: sc, logger: lg}
}

func (s *StripeService) ListActiveSubscriptions(ctx context.Context, customerRef string, limit int64) ([]model.ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.ListParams = listParams(ctx, limit)

	var out []model.ProviderSubscription
	iter := s.sc.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		ps := model.ProviderSubscription{ID: sub.ID, Status: string(sub.Status)}
		if sub.Customer != nil {
			ps.CustomerID = sub.Customer.ID
		}
		out = append(out, ps)
	}
	if err := iter.Err(); err != nil {
		return nil, s.providerError("list_subscriptions", err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues("list_subscriptions", "ok").Inc()
	return out, nil
}

func (s *StripeService) ListRecentCharges(ctx context.Context, customerRef string, limit int64) ([]model.Charge, error) {
	params := &stripe.ChargeListParams{Customer: stripe.String(customerRef)}
	params.ListParams = listParams(ctx, limit)

	var out []model.Charge
	iter := s.sc.Charges.List(params)
	for iter.Next() {
		ch := iter.Charge()
		out = append(out, model.Charge{
			ID:      ch.ID,
			Status:  string(ch.Status),
			Created: time.Unix(ch.Created, 0),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, s.providerError("list_charges", err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues("list_charges", "ok").Inc()
	return out, nil
}

func (s *StripeService) ListCheckoutSessions(ctx context.Context, customerRef string, limit int64) ([]model.CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{Customer: stripe.String(customerRef)}
	params.ListParams = listParams(ctx, limit)

	var out []model.CheckoutSession
	iter := s.sc.CheckoutSessions.List(params)
	for iter.Next() {
		out = append(out, *toCheckoutSession(iter.CheckoutSession()))
	}
	if err := iter.Err(); err != nil {
		return nil, s.providerError("list_checkout_sessions", err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues("list_checkout_sessions", "ok").Inc()
	return out, nil
}

// RetrieveCheckoutSession returns ErrNotFound when Stripe has no such session.
func (s *StripeService) RetrieveCheckoutSession(ctx context.Context, sessionRef string) (*model.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.sc.CheckoutSessions.Get(sessionRef, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && (se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound) {
			metrics.ProviderRequestsTotal.WithLabelValues("retrieve_checkout_session", "not_found").Inc()
			return nil, fmt.Errorf("checkout session %s: %w", sessionRef, ErrNotFound)
		}
		return nil, s.providerError("retrieve_checkout_session", err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues("retrieve_checkout_session", "ok").Inc()
	return toCheckoutSession(cs), nil
}

// providerError classifies err and wraps it as *ProviderError.
func (s *StripeService) providerError(op string, err error) error {
	pe := &ProviderError{Op: op, Err: err, Timeout: isTimeout(err)}
	outcome := "error"
	if pe.Timeout {
		outcome = "timeout"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, outcome).Inc()

	ev := s.logger.Error().Err(err).Str("op", op).Bool("timeout", pe.Timeout)
	var se *stripe.Error
	if errors.As(err, &se) {
		ev = ev.Int("http_status", se.HTTPStatusCode).Str("stripe_code", string(se.Code)).Str("request_id", se.RequestID)
	}
	ev.Msg("Stripe API call failed")
	return pe
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func listParams(ctx context.Context, limit int64) stripe.ListParams {
	return stripe.ListParams{
		Context: ctx,
		Limit:   stripe.Int64(limit),
		Single:  true,
	}
}

func toCheckoutSession(cs *stripe.CheckoutSession) *model.CheckoutSession {
	out := &model.CheckoutSession{
		ID:            cs.ID,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		Metadata:      cs.Metadata,
		Livemode:      cs.Livemode,
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	return out
}
