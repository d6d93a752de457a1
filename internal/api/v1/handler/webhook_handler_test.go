package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"billingsync/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stubWebhookService struct {
	res    *service.WebhookResult
	err    error
	called bool
}

func (s *stubWebhookService) HandleEvent(_ context.Context, _ []byte, _ string) (*service.WebhookResult, error) {
	s.called = true
	return s.res, s.err
}

func TestStripeWebhookHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		sig        string
		svc        *stubWebhookService
		wantStatus int
		wantCalled bool
	}{
		{"handled", http.MethodPost, "t=1,v1=abc", &stubWebhookService{res: &service.WebhookResult{Handled: true}}, http.StatusOK, true},
		{"missing signature", http.MethodPost, "", &stubWebhookService{}, http.StatusBadRequest, false},
		{"bad signature", http.MethodPost, "t=1,v1=abc", &stubWebhookService{err: service.ErrInvalidSignature}, http.StatusBadRequest, true},
		{"not configured", http.MethodPost, "t=1,v1=abc", &stubWebhookService{err: service.ErrWebhookNotConfigured}, http.StatusServiceUnavailable, true},
		{"processing failed", http.MethodPost, "t=1,v1=abc", &stubWebhookService{
			res: &service.WebhookResult{EventID: "evt_1", EventType: "checkout.session.completed"},
			err: errors.New("db down"),
		}, http.StatusInternalServerError, true},
		{"missing metadata", http.MethodPost, "t=1,v1=abc", &stubWebhookService{
			res: &service.WebhookResult{EventID: "evt_1"},
			err: service.ErrMissingMetadata,
		}, http.StatusOK, true},
		{"handbook not found", http.MethodPost, "t=1,v1=abc", &stubWebhookService{
			res: &service.WebhookResult{EventID: "evt_1"},
			err: service.ErrNotFound,
		}, http.StatusOK, true},
		{"wrong method", http.MethodGet, "t=1,v1=abc", &stubWebhookService{}, http.StatusMethodNotAllowed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			NewWebhookHandler(tt.svc, zerolog.Nop()).RegisterRoutes(mux)

			req := httptest.NewRequest(tt.method, "/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
			if tt.sig != "" {
				req.Header.Set("Stripe-Signature", tt.sig)
			}
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantCalled, tt.svc.called)
		})
	}
}

func TestStripeWebhookHandlerAcknowledgesUnapplicableCheckout(t *testing.T) {
	mux := http.NewServeMux()
	NewWebhookHandler(&stubWebhookService{
		res: &service.WebhookResult{EventID: "evt_1", EventType: "checkout.session.completed"},
		err: service.ErrMissingMetadata,
	}, zerolog.Nop()).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true,"handled":false}`, rr.Body.String())
}
