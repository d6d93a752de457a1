package model

import "time"

// Provider-side snapshot types. They are fetched live and never persisted.

type ProviderSubscription struct {
	ID         string
	Status     string
	CustomerID string
}

type Charge struct {
	ID      string
	Status  string
	Created time.Time
}

type CheckoutSession struct {
	ID             string
	Status         string
	PaymentStatus  string
	Metadata       map[string]string
	CustomerID     string
	SubscriptionID string
	Livemode       bool
}

const (
	CheckoutStatusComplete = "complete"
	PaymentStatusPaid      = "paid"
	ChargeStatusSucceeded  = "succeeded"

	// MetadataTenantKey links a checkout session back to its handbook.
	MetadataTenantKey = "handbookId"
	MetadataPlanKey   = "planType"
)

// TenantID returns the handbook referenced by the session metadata.
func (s *CheckoutSession) TenantID() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[MetadataTenantKey]
}
