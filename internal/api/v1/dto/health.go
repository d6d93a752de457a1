package dto

import "time"

type WebhookHealthSummaryDTO struct {
	TotalEvents         int    `json:"totalEvents"`
	SuccessfulEvents    int    `json:"successfulEvents"`
	FailedEvents        int    `json:"failedEvents"`
	SuccessRate         string `json:"successRate"`
	AvgProcessingTimeMs int64  `json:"avgProcessingTimeMs"`
	CriticalEventsCount int    `json:"criticalEventsCount"`
	CriticalSuccessRate string `json:"criticalSuccessRate"`
}

type WebhookFailureDTO struct {
	EventType        string    `json:"eventType"`
	EventID          string    `json:"eventId"`
	ErrorMessage     *string   `json:"errorMessage"`
	ProcessingTimeMs *int64    `json:"processingTimeMs"`
	RetryCount       int       `json:"retryCount"`
	ProcessedAt      time.Time `json:"processedAt"`
	TestMode         bool      `json:"testMode"`
}

type HealthWindowDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type WebhookHealthResponseDTO struct {
	Summary         WebhookHealthSummaryDTO `json:"summary"`
	EventTypes      map[string]int          `json:"eventTypes"`
	RecentFailures  []WebhookFailureDTO     `json:"recentFailures"`
	Recommendations []string                `json:"recommendations"`
	Window          *HealthWindowDTO        `json:"window,omitempty"`
	FailuresByType  map[string]int          `json:"failuresByType,omitempty"`
}
