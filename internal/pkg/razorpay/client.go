package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned when the gateway cannot be reached within the
// configured timeout. Callers may retry the whole operation.
var ErrUnavailable = errors.New("payment provider unavailable")

// Config holds Razorpay API configuration
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client is an injectable Razorpay API client. There is deliberately no
// package-level instance: every consumer receives one at construction time.
type Client struct {
	httpClient *http.Client
	config     Config
}

// Order is a provider-side payment intent
type Order struct {
	ID       string `json:"id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment holds provider payment details (read-only)
type Payment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
	Status  string `json:"status"`
	Method  string `json:"method"`
	Email   string `json:"email"`
}

type createOrderRequest struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// NewClient creates a Razorpay API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	cfg.Timeout = timeout

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
	}
}

// CreateOrder mints a payment order at the gateway. Amount is in the minor
// currency unit (paise).
func (c *Client) CreateOrder(ctx context.Context, amount int, currency, receipt string) (*Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("validation error: amount must be > 0")
	}
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("razorpay client is not initialized")
	}
	if strings.TrimSpace(c.config.KeyID) == "" || strings.TrimSpace(c.config.KeySecret) == "" {
		return nil, fmt.Errorf("razorpay config error: key credentials are empty")
	}
	if currency == "" {
		currency = "INR"
	}

	var out Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", createOrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPayment fetches payment details from the gateway
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("validation error: payment_id must be non-empty")
	}

	var out Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	base := strings.TrimRight(c.config.BaseURL, "/")
	url := base + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode razorpay request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("razorpay api call failed: %w", err)
	}
	httpReq.SetBasicAuth(c.config.KeyID, c.config.KeySecret)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and transport failures surface as a retryable typed error
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("razorpay api returned non-2xx status: %d, body: %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse razorpay response: %w", err)
	}
	return nil
}
