package model

import "time"

const (
	BillingEventTenantMarkedPaid      = "tenant.marked_paid"
	BillingEventSubscriptionCancelled = "subscription.cancelled"
)

// BillingEvent is published after a reconciliation changes tenant state.
type BillingEvent struct {
	Type       string    `json:"type"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id,omitempty"`
	Source     string    `json:"source"`
	SessionRef string    `json:"session_ref,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
