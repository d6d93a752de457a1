package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
)

const OperatorKeyHeader = "X-Operator-Key"

// TokenValidator validates a Google-signed ID token. idtoken.Validate satisfies it.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// OperatorAuthConfig guards the reconcile and health endpoints.
type OperatorAuthConfig struct {
	IsLocalDev    bool
	APIKey        string
	Audience      string
	ExpectedEmail string
	Validate      TokenValidator
}

// OperatorAuthMiddleware accepts either the static operator key or an ID token
// minted for the scheduler service account. Local development bypasses the
// check when nothing is configured.
func OperatorAuthMiddleware(cfg OperatorAuthConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	if cfg.Validate == nil {
		cfg.Validate = idtoken.Validate
	}
	tokenAuth := cfg.Audience != "" && cfg.ExpectedEmail != ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIKey != "" {
				if key := r.Header.Get(OperatorKeyHeader); key != "" {
					if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) == 1 {
						next.ServeHTTP(w, r)
						return
					}
					logger.Warn().Str("path", r.URL.Path).Msg("Operator key mismatch")
					writeAuthError(w, http.StatusForbidden, "forbidden", "invalid operator key")
					return
				}
			}

			if cfg.APIKey == "" && !tokenAuth {
				if cfg.IsLocalDev {
					logger.Debug().Msg("Skipping operator authentication for local environment")
					next.ServeHTTP(w, r)
					return
				}
				logger.Error().Msg("Operator auth configured without a key, audience or email; requests will be denied")
				writeAuthError(w, http.StatusInternalServerError, "configuration_error", "operator auth not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if !tokenAuth || len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				logger.Warn().Str("path", r.URL.Path).Msg("Missing operator credentials")
				writeAuthError(w, http.StatusUnauthorized, "authentication_required", "operator credentials required")
				return
			}

			payload, err := cfg.Validate(r.Context(), parts[1], cfg.Audience)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to validate operator ID token")
				writeAuthError(w, http.StatusUnauthorized, "authentication_required", "invalid token")
				return
			}
			email, _ := payload.Claims["email"].(string)
			if email != cfg.ExpectedEmail {
				logger.Warn().
					Str("token_email", email).
					Str("expected_email", cfg.ExpectedEmail).
					Msg("Operator token email does not match expected service account")
				writeAuthError(w, http.StatusForbidden, "forbidden", "token email does not match expected service account")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
