package handler

import (
	"net/http"

	"billingsync/internal/api/v1/dto"
	"billingsync/internal/middleware"
	"billingsync/internal/service"

	"github.com/rs/zerolog"
)

// TrialHandler serves the read path used to gate UI access.
type TrialHandler struct {
	trialSvc service.TrialService
	logger   zerolog.Logger
}

func NewTrialHandler(trialSvc service.TrialService, logger zerolog.Logger) *TrialHandler {
	return &TrialHandler{trialSvc: trialSvc, logger: logger}
}

func (h *TrialHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/trial-status", authMw(http.HandlerFunc(h.GetTrialStatus)))
}

// GetTrialStatus godoc
// @Summary Get the trial status of a handbook
// @Description Returns the access decision for the handbook, shaped by the caller's role.
// @Tags trial
// @Produce json
// @Param tenantId query string true "Handbook ID"
// @Param userId query string true "Caller user ID"
// @Success 200 {object} dto.TrialStatusResponseDTO
// @Failure 400 {object} dto.ErrorResponseDTO
// @Failure 401 {object} dto.ErrorResponseDTO
// @Failure 403 {object} dto.ErrorResponseDTO
// @Failure 404 {object} dto.ErrorResponseDTO
// @Router /trial-status [get]
func (h *TrialHandler) GetTrialStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger)
		return
	}
	tenantID := r.URL.Query().Get("tenantId")
	userID := r.URL.Query().Get("userId")
	if tenantID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenantId and userId are required", h.logger)
		return
	}

	callerID := middleware.UserIDFromContext(r.Context())
	if callerID == "" {
		writeError(w, http.StatusUnauthorized, "authentication_required", "authentication required", h.logger)
		return
	}
	// Callers may only ask about themselves.
	if callerID != userID {
		h.logger.Warn().Str("caller_id", callerID).Str("user_id", userID).Msg("trial status requested for another user")
		writeError(w, http.StatusForbidden, "forbidden", "userId does not match the authenticated user", h.logger)
		return
	}

	st, err := h.trialSvc.GetTrialStatus(r.Context(), tenantID, callerID)
	if err != nil {
		writeServiceError(w, err, h.logger.With().Str("tenant_id", tenantID).Logger())
		return
	}

	resp := dto.TrialStatusResponseDTO{
		IsInTrial:             st.IsInTrial,
		SubscriptionStatus:    st.SubscriptionStatus,
		IsPaid:                st.IsPaid,
		HasActiveSubscription: st.HasActiveSubscription,
		TrialDaysRemaining:    st.TrialDaysRemaining,
		TrialEndsAt:           st.TrialEndsAt,
		CanCreateHandbook:     st.CanCreateHandbook,
		HasUsedTrial:          st.HasUsedTrial,
		SubscriptionCount:     st.SubscriptionCount,
		TrialPhase:            st.TrialPhase,
		UrgencyLevel:          st.UrgencyLevel,
		Role:                  string(st.Role),
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}
