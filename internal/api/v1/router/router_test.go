package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"billingsync/internal/bootstrap"
	"billingsync/internal/config"
	"billingsync/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stubHealth struct{}

func (stubHealth) Report(context.Context, bool) (*service.HealthReport, error) {
	return &service.HealthReport{
		Summary:         service.HealthSummary{SuccessRate: "0%", CriticalSuccessRate: "100%"},
		EventTypes:      map[string]int{},
		Recommendations: []string{service.RecommendationHealthy},
	}, nil
}

func testApp() *bootstrap.App {
	return &bootstrap.App{
		Config: &config.Config{
			Environment:       "production",
			JWTSecret:         "router-test-secret",
			OperatorAPIKey:    "op-key",
			RequestTimeoutSec: 5,
		},
		Health: stubHealth{},
	}
}

func TestRouterRoutes(t *testing.T) {
	h := New(testApp(), zerolog.Nop())

	tests := []struct {
		name       string
		method     string
		path       string
		header     map[string]string
		wantStatus int
		wantLoc    string
	}{
		{"trial requires auth", http.MethodGet, "/v1/trial-status?tenantId=a&userId=b", nil, http.StatusUnauthorized, ""},
		{"health requires operator", http.MethodGet, "/v1/health/webhooks", nil, http.StatusUnauthorized, ""},
		{"health with key", http.MethodGet, "/v1/health/webhooks", map[string]string{"X-Operator-Key": "op-key"}, http.StatusOK, ""},
		{"legacy api prefix", http.MethodPost, "/api/webhooks/stripe", nil, http.StatusPermanentRedirect, "/v1/webhooks/stripe"},
		{"root path redirect", http.MethodGet, "/trial-status", nil, http.StatusPermanentRedirect, "/v1/trial-status"},
		{"metrics", http.MethodGet, "/metrics", nil, http.StatusOK, ""},
		{"unknown v1", http.MethodGet, "/v1/nope", nil, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, rr.Header().Get("Location"))
			}
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	h := New(testApp(), zerolog.Nop())
	req := httptest.NewRequest(http.MethodOptions, "/v1/trial-status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
