package repository

import (
	"context"
	"errors"
	"fmt"

	"billingsync/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository defines methods for accessing subscription data.
type SubscriptionRepository interface {
	// ListForTenant returns the owner's active and cancelled rows for a
	// handbook, newest first.
	ListForTenant(ctx context.Context, tenantID, userID string) ([]model.Subscription, error)
	// UpsertSubscription writes the single subscription row of a handbook.
	// handbook_id is the conflict key: repeating the call with the same fields
	// leaves the row untouched, and different fields overwrite it in place.
	UpsertSubscription(ctx context.Context, tenantID string, fields model.SubscriptionUpsert) error
	// CancelByStripeSubscriptionID marks the row for a Stripe subscription as
	// cancelled and returns its handbook id. ok is false when no active row matched.
	CancelByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (tenantID string, ok bool, err error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) ListForTenant(ctx context.Context, tenantID, userID string) ([]model.Subscription, error) {
	const q = `
        SELECT id, user_id, handbook_id, status, plan_type, trial_ends_at, cancelled_at,
               stripe_subscription_id, stripe_customer_id, current_period_start, current_period_end,
               created_at, updated_at
        FROM subscriptions
        WHERE handbook_id = $1
          AND user_id = $2
          AND status IN ('active', 'cancelled')
        ORDER BY created_at DESC
    `
	rows, err := r.pool.Query(ctx, q, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscriptions for handbook %s: %w", tenantID, err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.TenantID,
			&s.Status,
			&s.PlanType,
			&s.TrialEndsAt,
			&s.CancelledAt,
			&s.StripeSubscriptionID,
			&s.StripeCustomerID,
			&s.CurrentPeriodStart,
			&s.CurrentPeriodEnd,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription for handbook %s: %w", tenantID, err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions for handbook %s: %w", tenantID, err)
	}
	return subs, nil
}

func (r *subscriptionRepo) UpsertSubscription(ctx context.Context, tenantID string, fields model.SubscriptionUpsert) error {
	const q = `
        INSERT INTO subscriptions (user_id, handbook_id, status, plan_type, stripe_subscription_id, stripe_customer_id,
                                   current_period_start, current_period_end, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, NOW(), NOW())
        ON CONFLICT (handbook_id) DO UPDATE
        SET user_id = EXCLUDED.user_id,
            status = EXCLUDED.status,
            plan_type = EXCLUDED.plan_type,
            stripe_subscription_id = EXCLUDED.stripe_subscription_id,
            stripe_customer_id = EXCLUDED.stripe_customer_id,
            current_period_start = EXCLUDED.current_period_start,
            current_period_end = EXCLUDED.current_period_end,
            cancelled_at = NULL,
            updated_at = NOW()
        WHERE subscriptions.status IS DISTINCT FROM EXCLUDED.status
           OR subscriptions.user_id IS DISTINCT FROM EXCLUDED.user_id
           OR subscriptions.stripe_subscription_id IS DISTINCT FROM EXCLUDED.stripe_subscription_id
           OR subscriptions.stripe_customer_id IS DISTINCT FROM EXCLUDED.stripe_customer_id;
    `
	_, err := r.pool.Exec(ctx, q,
		fields.UserID,
		tenantID,
		fields.Status,
		fields.PlanType,
		fields.StripeSubscriptionID,
		fields.StripeCustomerID,
		fields.PeriodStart,
		fields.PeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription for handbook %s: %w", tenantID, err)
	}
	return nil
}

func (r *subscriptionRepo) CancelByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (string, bool, error) {
	const q = `
        UPDATE subscriptions
        SET status = 'cancelled',
            cancelled_at = NOW(),
            updated_at = NOW()
        WHERE stripe_subscription_id = $1
          AND status <> 'cancelled'
        RETURNING handbook_id
    `
	var tenantID string
	err := r.pool.QueryRow(ctx, q, stripeSubscriptionID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cancel subscription %s: %w", stripeSubscriptionID, err)
	}
	return tenantID, true, nil
}
