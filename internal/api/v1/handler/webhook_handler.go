package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"billingsync/internal/service"

	"github.com/rs/zerolog"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler receives Stripe deliveries. Any non-2xx makes Stripe redeliver.
type WebhookHandler struct {
	webhookSvc service.WebhookService
	logger     zerolog.Logger
}

func NewWebhookHandler(webhookSvc service.WebhookService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc, logger: logger}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/stripe", h.Stripe)
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body", h.logger)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		writeError(w, http.StatusBadRequest, "invalid_signature", "missing Stripe signature", h.logger)
		return
	}

	res, err := h.webhookSvc.HandleEvent(r.Context(), payload, sigHeader)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "handled": res.Handled}, h.logger)
	case errors.Is(err, service.ErrMissingMetadata), errors.Is(err, service.ErrNotFound):
		// Acknowledged so Stripe stops redelivering; the failure is in the ingestion log.
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "handled": false}, h.logger)
	case errors.Is(err, service.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", "invalid Stripe signature", h.logger)
	case errors.Is(err, service.ErrInvalidWebhookPayload):
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid event payload", h.logger)
	case errors.Is(err, service.ErrWebhookNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "stripe_unavailable", "webhook secret not configured", h.logger)
	default:
		evLog := h.logger
		if res != nil {
			evLog = h.logger.With().Str("event_id", res.EventID).Str("event_type", res.EventType).Logger()
		}
		writeServiceError(w, err, evLog)
	}
}
