package handler

import (
	"encoding/json"
	"net/http"

	"billingsync/internal/api/v1/dto"
	"billingsync/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const reconcileBodyLimit = 64 * 1024

// ReconcileHandler exposes manual repair for operators.
type ReconcileHandler struct {
	reconcileSvc service.ReconciliationService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewReconcileHandler(reconcileSvc service.ReconciliationService, v *validator.Validate, logger zerolog.Logger) *ReconcileHandler {
	return &ReconcileHandler{reconcileSvc: reconcileSvc, validate: v, logger: logger}
}

// RegisterRoutes registers the reconcile endpoints.
func (h *ReconcileHandler) RegisterRoutes(mux *http.ServeMux, operatorMw func(http.Handler) http.Handler) {
	mux.Handle("/reconcile/replay", operatorMw(http.HandlerFunc(h.Replay)))
	mux.Handle("/reconcile/verify", operatorMw(http.HandlerFunc(h.Verify)))
}

// decode reads and validates a JSON body into dst. It writes the 400 itself.
func (h *ReconcileHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, reconcileBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request payload", h.logger)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "validation failed: "+err.Error(), h.logger)
		return false
	}
	return true
}

// Replay godoc
// @Summary Replay a checkout session
// @Description Fetches the session from Stripe and marks its handbook paid when the session is complete and paid.
// @Tags reconcile
// @Accept json
// @Produce json
// @Param body body dto.ReplayRequestDTO true "Session reference"
// @Success 200 {object} dto.ReplayResponseDTO
// @Failure 400 {object} dto.ErrorResponseDTO "session not paid or missing handbook metadata"
// @Failure 404 {object} dto.ErrorResponseDTO "handbook or session not found"
// @Failure 502 {object} dto.ErrorResponseDTO "payment provider error"
// @Router /reconcile/replay [post]
func (h *ReconcileHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger)
		return
	}
	var req dto.ReplayRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.reconcileSvc.ReplaySession(r.Context(), req.SessionRef)
	if err != nil {
		writeServiceError(w, err, h.logger.With().Str("session_ref", req.SessionRef).Logger())
		return
	}
	writeJSON(w, http.StatusOK, dto.ReplayResponseDTO{
		Fixed:          res.Fixed,
		Tenant:         res.TenantID,
		Session:        res.SessionRef,
		PartialFailure: res.PartialFailure,
	}, h.logger)
}

// Verify godoc
// @Summary Verify a handbook against Stripe and fix it if needed
// @Tags reconcile
// @Accept json
// @Produce json
// @Param body body dto.VerifyRequestDTO true "Handbook and owner"
// @Success 200 {object} dto.VerifyResponseDTO
// @Failure 400 {object} dto.ErrorResponseDTO
// @Failure 403 {object} dto.ErrorResponseDTO "user does not own the handbook"
// @Failure 404 {object} dto.ErrorResponseDTO
// @Failure 502 {object} dto.ErrorResponseDTO
// @Router /reconcile/verify [post]
func (h *ReconcileHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger)
		return
	}
	var req dto.VerifyRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.reconcileSvc.VerifyAndFix(r.Context(), req.TenantID, req.UserID)
	if err != nil {
		writeServiceError(w, err, h.logger.With().Str("tenant_id", req.TenantID).Logger())
		return
	}
	writeJSON(w, http.StatusOK, dto.VerifyResponseDTO{
		ShouldBePaid: res.ShouldBePaid,
		Fixed:        res.Fixed,
		Analysis: dto.VerifyAnalysisDTO{
			HasActiveSubscription: res.Analysis.HasActiveSubscription,
			HasRecentPayment:      res.Analysis.HasRecentPayment,
			HasSuccessfulCheckout: res.Analysis.HasSuccessfulCheckout,
		},
		PartialFailure: res.PartialFailure,
	}, h.logger)
}
