package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"billingsync/internal/api/v1/dto"
	"billingsync/internal/service"

	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, v any, logger zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string, logger zerolog.Logger) {
	writeJSON(w, status, dto.ErrorResponseDTO{Error: code, Message: msg}, logger)
}

// writeServiceError maps service errors to HTTP status codes. Unknown errors
// are logged and returned as 500 without their detail.
func writeServiceError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	var pe *service.ProviderError
	switch {
	case errors.Is(err, service.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "authentication_required", "authentication required", logger)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "not authorized for this handbook", logger)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), logger)
	case errors.Is(err, service.ErrMissingMetadata):
		writeError(w, http.StatusBadRequest, "missing_metadata", err.Error(), logger)
	case errors.Is(err, service.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error(), logger)
	case errors.As(err, &pe):
		logger.Error().Err(err).Str("op", pe.Op).Bool("timeout", pe.Timeout).Msg("payment provider error")
		if pe.Timeout {
			writeError(w, http.StatusServiceUnavailable, "provider_timeout", "payment provider timed out", logger)
			return
		}
		writeError(w, http.StatusBadGateway, "provider_error", "payment provider request failed", logger)
	default:
		logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
	}
}

func methodNotAllowed(w http.ResponseWriter, logger zerolog.Logger) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", logger)
}
