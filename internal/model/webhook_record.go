package model

import "time"

const (
	// EventTypeCheckoutCompleted is the critical event: its failure blocks a paying customer.
	EventTypeCheckoutCompleted   = "checkout.session.completed"
	EventTypeSubscriptionDeleted = "customer.subscription.deleted"
	// EventTypeSignatureFailed is recorded when a delivery cannot be verified.
	EventTypeSignatureFailed = "signature_verification_failed"
)

// WebhookRecord is one processing attempt of an inbound provider event.
// Records are append-only.
type WebhookRecord struct {
	ID               string    `db:"id" json:"id"`
	EventID          string    `db:"event_id" json:"event_id"`
	EventType        string    `db:"event_type" json:"event_type"`
	Success          bool      `db:"success" json:"success"`
	ErrorMessage     *string   `db:"error_message" json:"error_message"`
	ProcessingTimeMs *int64    `db:"processing_time_ms" json:"processing_time_ms"`
	RetryCount       int       `db:"retry_count" json:"retry_count"`
	TestMode         bool      `db:"test_mode" json:"test_mode"`
	ProcessedAt      time.Time `db:"processed_at" json:"processed_at"`
}
