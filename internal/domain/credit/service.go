package credit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/homescout/homescout-api/internal/pkg/retry"
)

// Conflict retries stay inside the service; callers never see ErrConflict.
const (
	conflictAttempts = 3
	conflictBackoff  = 25 * time.Millisecond
)

// service implements the Service interface
type service struct {
	repo *CreditRepository
}

// NewService creates a new credit service
func NewService(db *sqlx.DB) Service {
	return &service{
		repo: NewRepository(db),
	}
}

func (s *service) Check(ctx context.Context, userID uuid.UUID, required int) (*CheckResult, error) {
	balance, err := s.repo.GetBalance(ctx, userID.String())
	if err != nil {
		return nil, err
	}
	return &CheckResult{
		HasCredits: balance >= required,
		Balance:    balance,
	}, nil
}

func (s *service) Deduct(ctx context.Context, userID uuid.UUID, amount int, meta TxMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance int
	err := retry.Do(ctx, conflictAttempts, conflictBackoff, func() error {
		nb, err := s.repo.Deduct(ctx, userID.String(), amount, meta)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		newBalance = nb
		return nil
	})
	return newBalance, err
}

func (s *service) DeductTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, meta TxMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	// Conflicts inside a caller-owned tx abort the whole unit; the caller's
	// retry loop re-runs it.
	return s.repo.DeductTx(ctx, tx, userID.String(), amount, meta)
}

func (s *service) Add(ctx context.Context, userID uuid.UUID, amount int, txType TxType, meta TxMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance int
	err := retry.Do(ctx, conflictAttempts, conflictBackoff, func() error {
		nb, err := s.repo.Add(ctx, userID.String(), amount, txType, meta)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		newBalance = nb
		return nil
	})
	return newBalance, err
}

func (s *service) AddTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, txType TxType, meta TxMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.repo.AddTx(ctx, tx, userID.String(), amount, txType, meta)
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.GetBalance(ctx, userID.String())
}

func (s *service) HasSpend(ctx context.Context, listingID uuid.UUID) (bool, error) {
	return s.repo.HasSpend(ctx, listingID.String())
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 20
	}

	return s.repo.ListTransactions(ctx, userID.String(), Pagination{
		Limit:  limit,
		Offset: offset,
	})
}
