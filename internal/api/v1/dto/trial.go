package dto

import "time"

// TrialStatusResponseDTO is the role-shaped trial status of a handbook.
// Owner-only fields are omitted for editors and viewers.
type TrialStatusResponseDTO struct {
	IsInTrial             bool       `json:"isInTrial"`
	SubscriptionStatus    string     `json:"subscriptionStatus"`
	IsPaid                bool       `json:"isPaid"`
	HasActiveSubscription bool       `json:"hasActiveSubscription"`
	TrialDaysRemaining    int        `json:"trialDaysRemaining"`
	TrialEndsAt           *time.Time `json:"trialEndsAt"`
	CanCreateHandbook     bool       `json:"canCreateHandbook"`
	HasUsedTrial          *bool      `json:"hasUsedTrial,omitempty"`
	SubscriptionCount     *int       `json:"subscriptionCount,omitempty"`
	TrialPhase            string     `json:"trialPhase,omitempty"`
	UrgencyLevel          string     `json:"urgencyLevel,omitempty"`
	Role                  string     `json:"role"`
}
