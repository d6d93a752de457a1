package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billingsync/internal/middleware"
	"billingsync/internal/model"
	"billingsync/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "handler-test-secret-with-enough-length"

type stubTrialService struct {
	status *service.TrialStatus
	err    error
}

func (s *stubTrialService) GetTrialStatus(_ context.Context, _, _ string) (*service.TrialStatus, error) {
	return s.status, s.err
}

type stubReconcileService struct {
	replay    *service.ReplayResult
	verify    *service.VerifyResult
	err       error
	gotTenant string
	gotUser   string
}

func (s *stubReconcileService) ReplaySession(_ context.Context, ref string) (*service.ReplayResult, error) {
	return s.replay, s.err
}

func (s *stubReconcileService) VerifyAndFix(_ context.Context, tenantID, userID string) (*service.VerifyResult, error) {
	s.gotTenant, s.gotUser = tenantID, userID
	return s.verify, s.err
}

func (s *stubReconcileService) VerifyAndFixTenant(_ context.Context, tenantID string) (*service.VerifyResult, error) {
	return s.verify, s.err
}

func (s *stubReconcileService) SweepOrphanedTrials(context.Context) (*service.SweepResult, error) {
	return &service.SweepResult{}, nil
}

func (s *stubReconcileService) CancelSubscription(context.Context, string) (string, bool, error) {
	return "", false, nil
}

type stubHealthService struct {
	report   *service.HealthReport
	detailed bool
}

func (s *stubHealthService) Report(_ context.Context, detailed bool) (*service.HealthReport, error) {
	s.detailed = detailed
	return s.report, nil
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func trialMux(svc service.TrialService) *http.ServeMux {
	mux := http.NewServeMux()
	NewTrialHandler(svc, zerolog.Nop()).RegisterRoutes(mux, middleware.AuthMiddleware(testJWTSecret, zerolog.Nop()))
	return mux
}

func TestTrialStatusHandler(t *testing.T) {
	used := true
	count := 1
	owner := &service.TrialStatus{
		IsInTrial:          true,
		SubscriptionStatus: service.TrialStatusTrial,
		TrialDaysRemaining: 5,
		CanCreateHandbook:  true,
		HasUsedTrial:       &used,
		SubscriptionCount:  &count,
		Role:               model.RoleOwner,
	}

	tests := []struct {
		name       string
		url        string
		auth       string
		svc        *stubTrialService
		wantStatus int
	}{
		{"ok", "/trial-status?tenantId=hb-1&userId=user-1", bearer(t, "user-1"), &stubTrialService{status: owner}, http.StatusOK},
		{"missing params", "/trial-status?tenantId=hb-1", bearer(t, "user-1"), &stubTrialService{}, http.StatusBadRequest},
		{"no token", "/trial-status?tenantId=hb-1&userId=user-1", "", &stubTrialService{}, http.StatusUnauthorized},
		{"bad token", "/trial-status?tenantId=hb-1&userId=user-1", "Bearer nope", &stubTrialService{}, http.StatusUnauthorized},
		{"other user", "/trial-status?tenantId=hb-1&userId=user-2", bearer(t, "user-1"), &stubTrialService{}, http.StatusForbidden},
		{"not member", "/trial-status?tenantId=hb-1&userId=user-1", bearer(t, "user-1"), &stubTrialService{err: service.ErrForbidden}, http.StatusForbidden},
		{"not found", "/trial-status?tenantId=hb-x&userId=user-1", bearer(t, "user-1"), &stubTrialService{err: service.ErrNotFound}, http.StatusNotFound},
		{"store down", "/trial-status?tenantId=hb-1&userId=user-1", bearer(t, "user-1"), &stubTrialService{err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()
			trialMux(tt.svc).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestTrialStatusHandlerOmitsOwnerFieldsForViewer(t *testing.T) {
	viewer := &service.TrialStatus{SubscriptionStatus: service.TrialStatusExpired, Role: model.RoleViewer}
	req := httptest.NewRequest(http.MethodGet, "/trial-status?tenantId=hb-1&userId=viewer-1", nil)
	req.Header.Set("Authorization", bearer(t, "viewer-1"))
	rr := httptest.NewRecorder()
	trialMux(&stubTrialService{status: viewer}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotContains(t, body, "hasUsedTrial")
	assert.NotContains(t, body, "subscriptionCount")
	assert.Equal(t, false, body["canCreateHandbook"])
	assert.Nil(t, body["trialEndsAt"])
	assert.Equal(t, "viewer", body["role"])
}

func passthrough(next http.Handler) http.Handler { return next }

func reconcileMux(svc service.ReconciliationService) *http.ServeMux {
	mux := http.NewServeMux()
	NewReconcileHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop()).RegisterRoutes(mux, passthrough)
	return mux
}

func TestReplayHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svc        *stubReconcileService
		wantStatus int
	}{
		{"ok", `{"sessionRef":"cs_1"}`, &stubReconcileService{replay: &service.ReplayResult{Fixed: true, TenantID: "T1", SessionRef: "cs_1"}}, http.StatusOK},
		{"missing ref", `{}`, &stubReconcileService{}, http.StatusBadRequest},
		{"bad json", `{`, &stubReconcileService{}, http.StatusBadRequest},
		{"invalid state", `{"sessionRef":"cs_1"}`, &stubReconcileService{err: service.ErrInvalidState}, http.StatusBadRequest},
		{"missing metadata", `{"sessionRef":"cs_1"}`, &stubReconcileService{err: service.ErrMissingMetadata}, http.StatusBadRequest},
		{"tenant missing", `{"sessionRef":"cs_1"}`, &stubReconcileService{err: service.ErrNotFound}, http.StatusNotFound},
		{"provider down", `{"sessionRef":"cs_1"}`, &stubReconcileService{err: &service.ProviderError{Op: "retrieve", Err: errors.New("500")}}, http.StatusBadGateway},
		{"provider timeout", `{"sessionRef":"cs_1"}`, &stubReconcileService{err: &service.ProviderError{Op: "retrieve", Timeout: true, Err: context.DeadlineExceeded}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/reconcile/replay", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			reconcileMux(tt.svc).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestReplayHandlerBody(t *testing.T) {
	svc := &stubReconcileService{replay: &service.ReplayResult{Fixed: true, TenantID: "T1", SessionRef: "cs_1"}}
	req := httptest.NewRequest(http.MethodPost, "/reconcile/replay", bytes.NewBufferString(`{"sessionRef":"cs_1"}`))
	rr := httptest.NewRecorder()
	reconcileMux(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"fixed":true,"tenant":"T1","session":"cs_1"}`, rr.Body.String())
}

func TestVerifyHandler(t *testing.T) {
	svc := &stubReconcileService{verify: &service.VerifyResult{
		ShouldBePaid: true,
		Fixed:        true,
		Analysis:     service.VerifyAnalysis{HasRecentPayment: true},
	}}
	req := httptest.NewRequest(http.MethodPost, "/reconcile/verify", bytes.NewBufferString(`{"tenantId":"T1","userId":"owner-1"}`))
	rr := httptest.NewRecorder()
	reconcileMux(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "T1", svc.gotTenant)
	assert.Equal(t, "owner-1", svc.gotUser)
	assert.JSONEq(t, `{
		"shouldBePaid": true,
		"fixed": true,
		"analysis": {"hasActiveSubscription": false, "hasRecentPayment": true, "hasSuccessfulCheckout": false}
	}`, rr.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/reconcile/verify", bytes.NewBufferString(`{"tenantId":"T1"}`))
	rr = httptest.NewRecorder()
	reconcileMux(svc).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/reconcile/verify", nil)
	rr = httptest.NewRecorder()
	reconcileMux(svc).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWebhookHealthHandler(t *testing.T) {
	msg := "boom"
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	svc := &stubHealthService{report: &service.HealthReport{
		Summary:    service.HealthSummary{TotalEvents: 2, SuccessfulEvents: 1, FailedEvents: 1, SuccessRate: "50.0%", CriticalSuccessRate: "100%"},
		EventTypes: map[string]int{"invoice.paid": 2},
		RecentFailures: []model.WebhookRecord{
			{EventID: "evt_1", EventType: "invoice.paid", ErrorMessage: &msg, ProcessedAt: end},
		},
		Recommendations: []string{"High failure rate (50.0%) - check Stripe webhook configuration"},
		WindowStart:     &start,
		WindowEnd:       &end,
	}}
	mux := http.NewServeMux()
	NewHealthHandler(svc, zerolog.Nop()).RegisterRoutes(mux, passthrough)

	req := httptest.NewRequest(http.MethodGet, "/health/webhooks?detailed", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, svc.detailed)
	var body struct {
		Summary        map[string]any   `json:"summary"`
		EventTypes     map[string]int   `json:"eventTypes"`
		RecentFailures []map[string]any `json:"recentFailures"`
		Window         map[string]any   `json:"window"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "50.0%", body.Summary["successRate"])
	assert.Equal(t, 2, body.EventTypes["invoice.paid"])
	require.Len(t, body.RecentFailures, 1)
	assert.Equal(t, "evt_1", body.RecentFailures[0]["eventId"])
	assert.Equal(t, "boom", body.RecentFailures[0]["errorMessage"])
	assert.NotNil(t, body.Window)

	req = httptest.NewRequest(http.MethodGet, "/health/webhooks?detailed=false", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, svc.detailed)
}
