package razorpay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_id" || pass != "key_secret" {
			t.Error("missing or wrong basic auth")
		}
		w.Write([]byte(`{"id":"order_test1","amount":50000,"currency":"INR","receipt":"rcpt_1","status":"created"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "key_id", KeySecret: "key_secret"})

	order, err := client.CreateOrder(context.Background(), 50000, "INR", "rcpt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "order_test1" || order.Amount != 50000 {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestCreateOrderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s", Timeout: 20 * time.Millisecond})

	_, err := client.CreateOrder(context.Background(), 50000, "INR", "rcpt_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCreateOrderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s"})

	_, err := client.CreateOrder(context.Background(), 50000, "INR", "rcpt_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on 5xx, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost", KeyID: "k", KeySecret: "s"})
	if _, err := client.CreateOrder(context.Background(), 0, "INR", "r"); err == nil {
		t.Fatal("expected validation error for zero amount")
	}
}

func TestFetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/pay_1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"pay_1","order_id":"order_1","amount":50000,"status":"captured","method":"upi"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s"})

	p, err := client.FetchPayment(context.Background(), "pay_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OrderID != "order_1" || p.Status != "captured" {
		t.Fatalf("unexpected payment: %+v", p)
	}
}
