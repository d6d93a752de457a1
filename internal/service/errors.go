package service

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired = errors.New("billing: authentication required")
	ErrForbidden              = errors.New("billing: caller not authorized for this handbook")
	ErrNotFound               = errors.New("billing: not found")
	ErrMissingMetadata        = errors.New("billing: checkout session has no handbook metadata")
	ErrInvalidState           = errors.New("billing: checkout session is not complete and paid")
	ErrProviderUnavailable    = errors.New("billing: payment provider unavailable")
	// ErrPartialFailure marks a secondary write that failed after the tenant
	// update committed. It is logged, never returned to callers.
	ErrPartialFailure = errors.New("billing: partial failure")
)

// ProviderError wraps a failed payment provider call.
type ProviderError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrProviderUnavailable, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}

var (
	ErrInvalidSignature      = errors.New("billing: invalid webhook signature")
	ErrWebhookNotConfigured  = errors.New("billing: webhook secret not configured")
	ErrInvalidWebhookPayload = errors.New("billing: invalid webhook payload")
)
