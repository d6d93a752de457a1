package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"billingsync/internal/api/v1/handler"
	"billingsync/internal/bootstrap"
	"billingsync/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New builds the HTTP handler for the wired application.
func New(app *bootstrap.App, logger zerolog.Logger) http.Handler {
	cfg := app.Config
	logger.Info().Str("environment", cfg.Environment).Msg("Router initialized")

	validate := validator.New(validator.WithRequiredStructEnabled())

	trialHandler := handler.NewTrialHandler(app.Trial, logger)
	reconcileHandler := handler.NewReconcileHandler(app.Reconcile, validate, logger)
	healthHandler := handler.NewHealthHandler(app.Health, logger)
	webhookHandler := handler.NewWebhookHandler(app.Webhooks, logger)

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)
	operatorMiddleware := middleware.OperatorAuthMiddleware(middleware.OperatorAuthConfig{
		IsLocalDev:    cfg.IsLocalDev(),
		APIKey:        cfg.OperatorAPIKey,
		Audience:      cfg.OperatorTokenAudience,
		ExpectedEmail: cfg.OperatorServiceAccountEmail,
	}, logger)

	apiV1Mux := http.NewServeMux()
	trialHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	reconcileHandler.RegisterRoutes(apiV1Mux, operatorMiddleware)
	healthHandler.RegisterRoutes(apiV1Mux, operatorMiddleware)
	// Webhook deliveries authenticate by signature, not by bearer token.
	webhookHandler.RegisterRoutes(apiV1Mux)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", http.TimeoutHandler(apiV1Mux, cfg.RequestTimeout(), `{"error":"timeout","message":"request timed out"}`)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.Pool.Ping(ctx); err != nil {
			logger.Error().Err(err).Msg("Readiness check failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusPermanentRedirect)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || strings.HasPrefix(r.URL.Path, "/v1/") {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/v1"+r.URL.Path, http.StatusPermanentRedirect)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.OperatorKeyHeader, middleware.RequestIDHeader},
		AllowCredentials: false,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux))
}
