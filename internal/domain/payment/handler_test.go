package payment

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homescout/homescout-api/internal/pkg/razorpay"
)

func TestWebhookEndpoint(t *testing.T) {
	svc, repo, credits, _ := newTestService()
	handler := NewHandler(svc)

	router := chi.NewRouter()
	router.Mount("/webhooks", handler.WebhookRoutes())

	userID := uuid.New()
	order, err := svc.CreateOrder(context.Background(), userID, "Basic")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	body, sig := capturedWebhook(t, order.OrderID, "pay_http1", order.Amount)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", sig)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := repo.status(order.OrderID); got != StatusCompleted {
		t.Errorf("transaction status = %q, want completed", got)
	}
	if balance, _ := credits.GetBalance(context.Background(), userID); balance != 10 {
		t.Errorf("balance = %d, want 10", balance)
	}

	// Redelivery is still a 200 for the gateway.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", sig)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec.Code)
	}
	if credits.grants != 1 {
		t.Errorf("grants = %d, want 1", credits.grants)
	}
}

// A capture that fails for a transient reason must not be acknowledged; the
// gateway keeps the event and redelivers until settlement goes through.
func TestWebhookEndpointTransientFailure(t *testing.T) {
	svc, repo, credits, _ := newTestService()
	handler := NewHandler(svc)

	router := chi.NewRouter()
	router.Mount("/webhooks", handler.WebhookRoutes())

	userID := uuid.New()
	order, err := svc.CreateOrder(context.Background(), userID, "Basic")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	body, sig := capturedWebhook(t, order.OrderID, "pay_http2", order.Amount)

	repo.failBegin(errors.New("connection reset"))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", sig)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := repo.status(order.OrderID); got != StatusPending {
		t.Errorf("transaction status = %q, want pending", got)
	}
	if credits.grants != 0 {
		t.Errorf("grants = %d, want 0", credits.grants)
	}

	// Redelivery after the outage settles normally.
	repo.failBegin(nil)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", sig)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec.Code)
	}
	if got := repo.status(order.OrderID); got != StatusCompleted {
		t.Errorf("transaction status = %q, want completed", got)
	}
	if credits.grants != 1 {
		t.Errorf("grants = %d, want 1", credits.grants)
	}
}

// An authenticated body that can never be processed is acknowledged so the
// gateway stops redelivering it.
func TestWebhookEndpointUnusablePayloadAcked(t *testing.T) {
	svc, _, credits, _ := newTestService()
	handler := NewHandler(svc)

	router := chi.NewRouter()
	router.Mount("/webhooks", handler.WebhookRoutes())

	body := []byte(`{"event":"payment.captured","payload":{}}`)
	sig := razorpay.SignWebhook(body, testWebhookSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", sig)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if credits.grants != 0 {
		t.Errorf("grants = %d, want 0", credits.grants)
	}
}

func TestWebhookEndpointBadSignature(t *testing.T) {
	svc, _, credits, _ := newTestService()
	handler := NewHandler(svc)

	router := chi.NewRouter()
	router.Mount("/webhooks", handler.WebhookRoutes())

	body, _ := capturedWebhook(t, "order_x", "pay_x", 100)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", "forged")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if credits.grants != 0 {
		t.Errorf("grants = %d, want 0", credits.grants)
	}
}
