package model

import "time"

// ReconcileJob is a queued verify-and-fix request.
type ReconcileJob struct {
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	Reason     string    `json:"reason"`
	SessionRef string    `json:"session_ref,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeadLetterJob wraps a job that exhausted its retries.
type DeadLetterJob struct {
	Job       ReconcileJob `json:"job"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error"`
	FailedAt  time.Time    `json:"failed_at"`
}
