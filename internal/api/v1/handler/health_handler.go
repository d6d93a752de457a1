package handler

import (
	"net/http"
	"strconv"

	"billingsync/internal/api/v1/dto"
	"billingsync/internal/service"

	"github.com/rs/zerolog"
)

type HealthHandler struct {
	healthSvc service.HealthService
	logger    zerolog.Logger
}

func NewHealthHandler(healthSvc service.HealthService, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{healthSvc: healthSvc, logger: logger}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux, operatorMw func(http.Handler) http.Handler) {
	mux.Handle("/health/webhooks", operatorMw(http.HandlerFunc(h.WebhookHealth)))
}

// WebhookHealth godoc
// @Summary Webhook ingestion health over the last 24 hours
// @Tags health
// @Produce json
// @Param detailed query bool false "Include window bounds and per-type failure counts"
// @Success 200 {object} dto.WebhookHealthResponseDTO
// @Router /health/webhooks [get]
func (h *HealthHandler) WebhookHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger)
		return
	}
	detailed := false
	if r.URL.Query().Has("detailed") {
		v := r.URL.Query().Get("detailed")
		// A bare ?detailed counts as true.
		detailed = v == ""
		if b, err := strconv.ParseBool(v); err == nil {
			detailed = b
		}
	}

	rep, err := h.healthSvc.Report(r.Context(), detailed)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp := dto.WebhookHealthResponseDTO{
		Summary: dto.WebhookHealthSummaryDTO{
			TotalEvents:         rep.Summary.TotalEvents,
			SuccessfulEvents:    rep.Summary.SuccessfulEvents,
			FailedEvents:        rep.Summary.FailedEvents,
			SuccessRate:         rep.Summary.SuccessRate,
			AvgProcessingTimeMs: rep.Summary.AvgProcessingTimeMs,
			CriticalEventsCount: rep.Summary.CriticalEventsCount,
			CriticalSuccessRate: rep.Summary.CriticalSuccessRate,
		},
		EventTypes:      rep.EventTypes,
		RecentFailures:  make([]dto.WebhookFailureDTO, 0, len(rep.RecentFailures)),
		Recommendations: rep.Recommendations,
		FailuresByType:  rep.FailuresByType,
	}
	for _, f := range rep.RecentFailures {
		resp.RecentFailures = append(resp.RecentFailures, dto.WebhookFailureDTO{
			EventType:        f.EventType,
			EventID:          f.EventID,
			ErrorMessage:     f.ErrorMessage,
			ProcessingTimeMs: f.ProcessingTimeMs,
			RetryCount:       f.RetryCount,
			ProcessedAt:      f.ProcessedAt,
			TestMode:         f.TestMode,
		})
	}
	if rep.WindowStart != nil && rep.WindowEnd != nil {
		resp.Window = &dto.HealthWindowDTO{Start: *rep.WindowStart, End: *rep.WindowEnd}
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}
