package dto

type ReplayRequestDTO struct {
	SessionRef string `json:"sessionRef" validate:"required,max=255"`
}

type ReplayResponseDTO struct {
	Fixed          bool   `json:"fixed"`
	Tenant         string `json:"tenant"`
	Session        string `json:"session"`
	PartialFailure bool   `json:"partialFailure,omitempty"`
}

type VerifyRequestDTO struct {
	TenantID string `json:"tenantId" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"required,max=64"`
}

type VerifyAnalysisDTO struct {
	HasActiveSubscription bool `json:"hasActiveSubscription"`
	HasRecentPayment      bool `json:"hasRecentPayment"`
	HasSuccessfulCheckout bool `json:"hasSuccessfulCheckout"`
}

type VerifyResponseDTO struct {
	ShouldBePaid   bool              `json:"shouldBePaid"`
	Fixed          bool              `json:"fixed"`
	Analysis       VerifyAnalysisDTO `json:"analysis"`
	PartialFailure bool              `json:"partialFailure,omitempty"`
}
