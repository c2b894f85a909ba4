package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/homescout/homescout-api/internal/domain/credit"
	"github.com/homescout/homescout-api/internal/pkg/razorpay"
)

const (
	testKeySecret     = "test_key_secret"
	testWebhookSecret = "test_webhook_secret"
)

// fakeRepo keeps transactions in memory. CompleteTx and MarkFailed implement
// the same status-guarded compare-and-set the Postgres repository does.
type fakeRepo struct {
	mu           sync.Mutex
	transactions map[string]*Transaction
	packages     map[string]CreditPackage
	beginErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		transactions: make(map[string]*Transaction),
		packages: map[string]CreditPackage{
			"Basic":   {ID: uuid.New(), Name: "Basic", Price: 50000, Credits: 10, Active: true},
			"Pro":     {ID: uuid.New(), Name: "Pro", Price: 100000, Credits: 25, Active: true},
			"Premium": {ID: uuid.New(), Name: "Premium", Price: 200000, Credits: 50, Active: true},
		},
	}
}

func (r *fakeRepo) BeginTxx(ctx context.Context) (*sqlx.Tx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return nil, r.beginErr
}

func (r *fakeRepo) CommitTx(tx *sqlx.Tx) error { return nil }
func (r *fakeRepo) RollbackTx(tx *sqlx.Tx)     {}

// failBegin makes every settlement attempt fail until cleared
func (r *fakeRepo) failBegin(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginErr = err
}

func (r *fakeRepo) CreatePending(ctx context.Context, t *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.transactions[t.OrderID] = &cp
	return nil
}

func (r *fakeRepo) GetByOrderID(ctx context.Context, orderID string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[orderID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) GetByOrderIDTx(ctx context.Context, tx *sqlx.Tx, orderID string) (*Transaction, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r *fakeRepo) CompleteTx(ctx context.Context, tx *sqlx.Tx, orderID, paymentID, signature string, rawPayload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[orderID]
	if !ok || t.Status != StatusPending {
		return false, nil
	}
	t.Status = StatusCompleted
	t.PaymentID.String, t.PaymentID.Valid = paymentID, paymentID != ""
	t.Signature.String, t.Signature.Valid = signature, signature != ""
	t.RawCallbackPayload = rawPayload
	return true, nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, orderID string, rawPayload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[orderID]
	if !ok || t.Status != StatusPending {
		return false, nil
	}
	t.Status = StatusFailed
	if rawPayload != nil {
		t.RawCallbackPayload = rawPayload
	}
	return true, nil
}

func (r *fakeRepo) GetPackageByName(ctx context.Context, name string) (*CreditPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packages[name]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return &p, nil
}

func (r *fakeRepo) ListPackages(ctx context.Context) ([]CreditPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CreditPackage, 0, len(r.packages))
	for _, p := range r.packages {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transaction, 0)
	for _, t := range r.transactions {
		if t.UserID.String() == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeRepo) status(orderID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.transactions[orderID]; ok {
		return t.Status
	}
	return ""
}

// fakeCredits counts grants so races can be asserted on
type fakeCredits struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	grants   int
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{balances: make(map[uuid.UUID]int)}
}

func (c *fakeCredits) AddTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, txType credit.TxType, meta credit.TxMeta) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[userID] += amount
	c.grants++
	return c.balances[userID], nil
}

func (c *fakeCredits) Add(ctx context.Context, userID uuid.UUID, amount int, txType credit.TxType, meta credit.TxMeta) (int, error) {
	return c.AddTx(ctx, nil, userID, amount, txType, meta)
}

func (c *fakeCredits) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[userID], nil
}

func (c *fakeCredits) Check(ctx context.Context, userID uuid.UUID, required int) (*credit.CheckResult, error) {
	b, _ := c.GetBalance(ctx, userID)
	return &credit.CheckResult{HasCredits: b >= required, Balance: b}, nil
}

func (c *fakeCredits) Deduct(ctx context.Context, userID uuid.UUID, amount int, meta credit.TxMeta) (int, error) {
	return 0, errors.New("not implemented")
}

func (c *fakeCredits) DeductTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, meta credit.TxMeta) (int, error) {
	return 0, errors.New("not implemented")
}

func (c *fakeCredits) HasSpend(ctx context.Context, listingID uuid.UUID) (bool, error) {
	return false, nil
}

func (c *fakeCredits) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]credit.CreditTransaction, error) {
	return nil, nil
}

type fakeProvider struct {
	mu         sync.Mutex
	orderSeq   int
	createErr  error
	fetchErr   error
	lastAmount int
}

func (p *fakeProvider) CreateOrder(ctx context.Context, amount int, currency, receipt string) (*razorpay.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.orderSeq++
	p.lastAmount = amount
	return &razorpay.Order{
		ID:       fmt.Sprintf("order_test%04d", p.orderSeq),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (p *fakeProvider) FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error) {
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return &razorpay.Payment{ID: paymentID, Status: "captured"}, nil
}

func newTestService() (*Service, *fakeRepo, *fakeCredits, *fakeProvider) {
	repo := newFakeRepo()
	credits := newFakeCredits()
	provider := &fakeProvider{}
	svc := NewService(repo, credits, provider, nil, Config{
		KeyID:         "rzp_test_key",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
	})
	return svc, repo, credits, provider
}

func capturedWebhook(t *testing.T, orderID, paymentID string, amount int) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": orderID,
					"amount":   amount,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	return body, razorpay.SignWebhook(body, testWebhookSecret)
}

func TestCreateOrder(t *testing.T) {
	svc, repo, _, provider := newTestService()
	userID := uuid.New()

	result, err := svc.CreateOrder(context.Background(), userID, "Pro")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if result.Credits != 25 {
		t.Errorf("credits = %d, want 25", result.Credits)
	}
	if result.Amount != 100000 {
		t.Errorf("amount = %d, want 100000", result.Amount)
	}
	if provider.lastAmount != 100000 {
		t.Errorf("provider got amount %d, want 100000", provider.lastAmount)
	}
	if result.KeyID != "rzp_test_key" {
		t.Errorf("key id = %q", result.KeyID)
	}

	if got := repo.status(result.OrderID); got != StatusPending {
		t.Errorf("transaction status = %q, want pending", got)
	}
}

func TestCreateOrderUnknownPackage(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.CreateOrder(context.Background(), uuid.New(), "Platinum")
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("err = %v, want ErrPackageNotFound", err)
	}
}

func TestCreateOrderProviderDown(t *testing.T) {
	svc, repo, _, provider := newTestService()
	provider.createErr = fmt.Errorf("%w: connection refused", razorpay.ErrUnavailable)

	_, err := svc.CreateOrder(context.Background(), uuid.New(), "Basic")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if len(repo.transactions) != 0 {
		t.Errorf("pending transaction recorded despite provider failure")
	}
}

func TestVerifyPaymentSettlesOnce(t *testing.T) {
	svc, repo, credits, _ := newTestService()
	userID := uuid.New()
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, userID, "Pro")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	req := VerifyPaymentRequest{
		OrderID:   order.OrderID,
		PaymentID: "pay_abc123",
		Signature: razorpay.SignPayment(order.OrderID, "pay_abc123", testKeySecret),
	}

	result, err := svc.VerifyPayment(ctx, userID, req)
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if result.CreditsAdded != 25 {
		t.Errorf("credits added = %d, want 25", result.CreditsAdded)
	}
	if result.NewBalance != 25 {
		t.Errorf("new balance = %d, want 25", result.NewBalance)
	}
	if got := repo.status(order.OrderID); got != StatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}

	// Second delivery of the same confirmation grants nothing.
	_, err = svc.VerifyPayment(ctx, userID, req)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second verify err = %v, want ErrAlreadyProcessed", err)
	}
	if credits.grants != 1 {
		t.Errorf("grants = %d, want 1", credits.grants)
	}
}

func TestVerifyPaymentSignatureMismatch(t *testing.T) {
	svc, repo, credits, _ := newTestService()
	userID := uuid.New()
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, userID, "Basic")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	_, err = svc.VerifyPayment(ctx, userID, VerifyPaymentRequest{
		OrderID:   order.OrderID,
		PaymentID: "pay_abc123",
		Signature: "deadbeef",
	})
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("err = %v, want ErrSignatureMismatch", err)
	}
	if got := repo.status(order.OrderID); got != StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if credits.grants != 0 {
		t.Errorf("grants = %d, want 0", credits.grants)
	}
}

func TestVerifyPaymentWrongUser(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, uuid.New(), "Basic")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	_, err = svc.VerifyPayment(ctx, uuid.New(), VerifyPaymentRequest{
		OrderID:   order.OrderID,
		PaymentID: "pay_abc123",
		Signature: razorpay.SignPayment(order.OrderID, "pay_abc123", testKeySecret),
	})
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestWebhookCaptured(t *testing.T) {
	svc, repo, credits, _ := newTestService()
	userID := uuid.New()
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, userID, "Premium")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	body, sig := capturedWebhook(t, order.OrderID, "pay_wh1", order.Amount)
	if err := svc.HandleWebhook(ctx, body, sig); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	if got := repo.status(order.OrderID); got != StatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
	if balance, _ := credits.GetBalance(ctx, userID); balance != 50 {
		t.Errorf("balance = %d, want 50", balance)
	}

	// Gateway redelivery is acknowledged without a second grant.
	if err := svc.HandleWebhook(ctx, body, sig); err != nil {
		t.Fatalf("redelivered webhook: %v", err)
	}
	if credits.grants != 1 {
		t.Errorf("grants = %d, want 1", credits.grants)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	svc, _, credits, _ := newTestService()

	body, _ := capturedWebhook(t, "order_x", "pay_x", 100)
	err := svc.HandleWebhook(context.Background(), body, "bad_signature")
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("err = %v, want ErrSignatureMismatch", err)
	}
	if credits.grants != 0 {
		t.Errorf("grants = %d, want 0", credits.grants)
	}
}

func TestWebhookUnknownOrder(t *testing.T) {
	svc, _, _, _ := newTestService()

	body, sig := capturedWebhook(t, "order_unknown", "pay_x", 100)
	if err := svc.HandleWebhook(context.Background(), body, sig); err != nil {
		t.Fatalf("unknown order should be acknowledged, got %v", err)
	}
}

func TestWebhookPaymentFailed(t *testing.T) {
	svc, repo, credits, _ := newTestService()
	userID := uuid.New()
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, userID, "Basic")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	body, err := json.Marshal(map[string]any{
		"event": "payment.failed",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       "pay_f1",
					"order_id": order.OrderID,
					"amount":   order.Amount,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	sig := razorpay.SignWebhook(body, testWebhookSecret)

	if err := svc.HandleWebhook(ctx, body, sig); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if got := repo.status(order.OrderID); got != StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}

	// A capture arriving after the failure does not resurrect the transaction.
	capBody, capSig := capturedWebhook(t, order.OrderID, "pay_f1", order.Amount)
	if err := svc.HandleWebhook(ctx, capBody, capSig); err != nil {
		t.Fatalf("late capture webhook: %v", err)
	}
	if credits.grants != 0 {
		t.Errorf("grants = %d, want 0", credits.grants)
	}
}

func TestWebhookMissingOrderID(t *testing.T) {
	svc, _, credits, _ := newTestService()

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_x"}}}}`)
	sig := razorpay.SignWebhook(body, testWebhookSecret)

	err := svc.HandleWebhook(context.Background(), body, sig)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
	if credits.grants != 0 {
		t.Errorf("grants = %d, want 0", credits.grants)
	}
}

func TestWebhookUnparseableBody(t *testing.T) {
	svc, _, _, _ := newTestService()

	body := []byte(`{"event":"payment.captured"`)
	sig := razorpay.SignWebhook(body, testWebhookSecret)

	err := svc.HandleWebhook(context.Background(), body, sig)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	svc, _, _, _ := newTestService()

	body := []byte(`{"event":"refund.processed","payload":{}}`)
	sig := razorpay.SignWebhook(body, testWebhookSecret)
	if err := svc.HandleWebhook(context.Background(), body, sig); err != nil {
		t.Fatalf("unknown event should be ignored, got %v", err)
	}
}

// TestVerifyWebhookRace delivers both confirmations concurrently many times.
// Whatever the interleaving, each order settles exactly once.
func TestVerifyWebhookRace(t *testing.T) {
	svc, _, credits, _ := newTestService()
	userID := uuid.New()
	ctx := context.Background()

	const rounds = 20
	for i := 0; i < rounds; i++ {
		order, err := svc.CreateOrder(ctx, userID, "Pro")
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}

		paymentID := fmt.Sprintf("pay_race%d", i)
		req := VerifyPaymentRequest{
			OrderID:   order.OrderID,
			PaymentID: paymentID,
			Signature: razorpay.SignPayment(order.OrderID, paymentID, testKeySecret),
		}
		body, sig := capturedWebhook(t, order.OrderID, paymentID, order.Amount)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyPayment(ctx, userID, req); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
				t.Errorf("verify: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := svc.HandleWebhook(ctx, body, sig); err != nil {
				t.Errorf("webhook: %v", err)
			}
		}()
		wg.Wait()
	}

	if credits.grants != rounds {
		t.Errorf("grants = %d, want %d", credits.grants, rounds)
	}
	if balance, _ := credits.GetBalance(ctx, userID); balance != rounds*25 {
		t.Errorf("balance = %d, want %d", balance, rounds*25)
	}
}

func TestFetchPaymentProviderDown(t *testing.T) {
	svc, _, _, provider := newTestService()
	provider.fetchErr = fmt.Errorf("%w: timeout", razorpay.ErrUnavailable)

	_, err := svc.FetchPayment(context.Background(), "pay_x")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}
