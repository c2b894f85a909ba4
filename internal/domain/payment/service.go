package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/homescout/homescout-api/internal/domain/credit"
	"github.com/homescout/homescout-api/internal/pkg/razorpay"
	"github.com/homescout/homescout-api/internal/pkg/retry"
)

const (
	conflictAttempts = 3
	conflictBackoff  = 25 * time.Millisecond

	packagesCacheKey = "credit_packages:v1"
	packagesCacheTTL = 5 * time.Minute
)

// Provider is the slice of the gateway client the service needs
type Provider interface {
	CreateOrder(ctx context.Context, amount int, currency, receipt string) (*razorpay.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error)
}

// Config holds the gateway credentials the service signs and verifies with
type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// Service settles credit purchases. Confirmations arrive on two independent
// paths, the client verify call and the gateway webhook, and either may win;
// the pending transaction row is the arbiter that makes the grant happen
// exactly once.
type Service struct {
	repo     Repository
	credits  credit.Service
	provider Provider
	cache    *redis.Client
	cfg      Config
}

// NewService creates payment service. cache may be nil.
func NewService(repo Repository, credits credit.Service, provider Provider, cache *redis.Client, cfg Config) *Service {
	return &Service{
		repo:     repo,
		credits:  credits,
		provider: provider,
		cache:    cache,
		cfg:      cfg,
	}
}

// CreateOrder opens a gateway order for a credit package and records it as
// pending before anything is returned to the client.
func (s *Service) CreateOrder(ctx context.Context, userID uuid.UUID, packageName string) (*CreateOrderResponse, error) {
	pkg, err := s.repo.GetPackageByName(ctx, packageName)
	if err != nil {
		return nil, err
	}

	receipt := "rcpt_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	order, err := s.provider.CreateOrder(ctx, pkg.Price, "INR", receipt)
	if err != nil {
		if errors.Is(err, razorpay.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	txn := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		OrderID:     order.ID,
		Amount:      pkg.Price,
		Credits:     pkg.Credits,
		PackageName: pkg.Name,
		Status:      StatusPending,
	}
	if err := s.repo.CreatePending(ctx, txn); err != nil {
		return nil, err
	}

	return &CreateOrderResponse{
		OrderID:     order.ID,
		Amount:      pkg.Price,
		Currency:    order.Currency,
		Credits:     pkg.Credits,
		PackageName: pkg.Name,
		KeyID:       s.cfg.KeyID,
	}, nil
}

// VerifyPayment settles a purchase from the client callback. The signature is
// checked before anything is written; a mismatch fails the transaction and
// grants nothing.
func (s *Service) VerifyPayment(ctx context.Context, userID uuid.UUID, req VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	txn, err := s.repo.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		// Not revealing that the order exists for someone else.
		return nil, ErrTransactionNotFound
	}

	if !razorpay.VerifyPaymentSignature(req.OrderID, req.PaymentID, req.Signature, s.cfg.KeySecret) {
		if _, ferr := s.repo.MarkFailed(ctx, req.OrderID, nil); ferr != nil {
			log.Error().Err(ferr).Str("order_id", req.OrderID).Msg("failed to mark transaction failed")
		}
		return nil, ErrSignatureMismatch
	}

	credits, balance, err := s.settle(ctx, req.OrderID, req.PaymentID, req.Signature, nil)
	if err != nil {
		return nil, err
	}

	return &VerifyPaymentResponse{
		CreditsAdded: credits,
		NewBalance:   balance,
		OrderID:      req.OrderID,
		PaymentID:    req.PaymentID,
	}, nil
}

// webhookEvent mirrors the slice of the gateway webhook body we consume
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int    `json:"amount"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook settles a purchase from the gateway callback. The raw body is
// authenticated against the webhook secret before parsing. Events for already
// settled transactions are acknowledged without effect, so the verify path
// and the webhook can race safely.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !razorpay.VerifyWebhookSignature(rawBody, signature, s.cfg.WebhookSecret) {
		return ErrSignatureMismatch
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	entity := event.Payload.Payment.Entity
	switch event.Event {
	case "payment.captured":
		if entity.OrderID == "" {
			return fmt.Errorf("%w: %s event missing order id", ErrInvalidPayload, event.Event)
		}
		_, _, err := s.settle(ctx, entity.OrderID, entity.ID, "", rawBody)
		if err != nil {
			if errors.Is(err, ErrAlreadyProcessed) {
				log.Info().Str("order_id", entity.OrderID).Msg("webhook for settled transaction, skipping")
				return nil
			}
			if errors.Is(err, ErrTransactionNotFound) {
				log.Warn().Str("order_id", entity.OrderID).Msg("webhook for unknown order, skipping")
				return nil
			}
			return err
		}
		return nil

	case "payment.failed":
		if entity.OrderID == "" {
			return fmt.Errorf("%w: %s event missing order id", ErrInvalidPayload, event.Event)
		}
		flipped, err := s.repo.MarkFailed(ctx, entity.OrderID, rawBody)
		if err != nil {
			return err
		}
		if !flipped {
			log.Info().Str("order_id", entity.OrderID).Msg("failure webhook for settled transaction, skipping")
		}
		return nil

	default:
		log.Debug().Str("event", event.Event).Msg("ignoring webhook event")
		return nil
	}
}

// FetchPayment proxies a payment lookup to the gateway
func (s *Service) FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error) {
	p, err := s.provider.FetchPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, razorpay.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, err
	}
	return p, nil
}

// ListPackages returns the active package catalog, cached briefly in Redis
func (s *Service) ListPackages(ctx context.Context) ([]CreditPackage, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, packagesCacheKey).Bytes(); err == nil {
			var packages []CreditPackage
			if err := json.Unmarshal(cached, &packages); err == nil {
				return packages, nil
			}
		}
	}

	packages, err := s.repo.ListPackages(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(packages); err == nil {
			if err := s.cache.Set(ctx, packagesCacheKey, data, packagesCacheTTL).Err(); err != nil {
				log.Warn().Err(err).Msg("failed to cache package catalog")
			}
		}
	}

	return packages, nil
}

// GetHistory returns the user's payment transactions, newest first
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	return s.repo.ListByUser(ctx, userID.String(), limit, offset)
}

// settle flips the transaction to completed and grants its credits in one
// database transaction, retrying on serialization conflicts.
func (s *Service) settle(ctx context.Context, orderID, paymentID, signature string, rawPayload []byte) (int, int, error) {
	var credits, balance int
	err := retry.Do(ctx, conflictAttempts, conflictBackoff, func() error {
		c, b, err := s.settleOnce(ctx, orderID, paymentID, signature, rawPayload)
		if err != nil {
			if errors.Is(err, credit.ErrConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		credits, balance = c, b
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return credits, balance, nil
}

func (s *Service) settleOnce(ctx context.Context, orderID, paymentID, signature string, rawPayload []byte) (int, int, error) {
	tx, err := s.repo.BeginTxx(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin settle tx: %w", err)
	}
	defer s.repo.RollbackTx(tx)

	txn, err := s.repo.GetByOrderIDTx(ctx, tx, orderID)
	if err != nil {
		return 0, 0, err
	}

	flipped, err := s.repo.CompleteTx(ctx, tx, orderID, paymentID, signature, rawPayload)
	if err != nil {
		return 0, 0, err
	}
	if !flipped {
		return 0, 0, ErrAlreadyProcessed
	}

	balance, err := s.credits.AddTx(ctx, tx, txn.UserID, txn.Credits, credit.TxTypePurchase, credit.TxMeta{
		Description: fmt.Sprintf("Purchased %s package (%d credits)", txn.PackageName, txn.Credits),
	})
	if err != nil {
		return 0, 0, err
	}

	if err := s.repo.CommitTx(tx); err != nil {
		return 0, 0, err
	}

	return txn.Credits, balance, nil
}
