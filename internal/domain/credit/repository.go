package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// CreditRepository provides credit ledger and balance operations.
type CreditRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Deduct decrements the balance and appends a spend row in one transaction.
// The UPDATE carries the balance floor in its WHERE clause, so the check and
// the decrement are a single conditional write.
func (r *CreditRepository) Deduct(ctx context.Context, userID string, amount int, meta TxMeta) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var newBalance int
	err = tx.QueryRowContext(ctx2, `
		UPDATE users
		SET credit_balance = credit_balance - $2, updated_at = NOW()
		WHERE id = $1 AND credit_balance >= $2
		RETURNING credit_balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, r.classifyDeductFailure(ctx2, tx, userID, amount)
		}
		if isSerializationErr(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("%w: update user balance", ErrInternal)
	}

	if err := r.insertLedger(ctx2, tx, userID, -amount, TxTypeSpend, meta); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationErr(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return newBalance, nil
}

// DeductTx deducts credits within an external transaction using FOR UPDATE row lock.
// This method does NOT commit or rollback the transaction — the caller is responsible.
func (r *CreditRepository) DeductTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int, meta TxMeta) (int, error) {
	var balance int
	err := tx.QueryRowContext(ctx, `SELECT credit_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		if isSerializationErr(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("%w: lock user row", ErrInternal)
	}

	if balance < amount {
		return 0, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientCredits, balance, amount)
	}

	var newBalance int
	err = tx.QueryRowContext(ctx, `
		UPDATE users
		SET credit_balance = credit_balance - $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credit_balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("%w: update user balance", ErrInternal)
	}

	if err := r.insertLedger(ctx, tx, userID, -amount, TxTypeSpend, meta); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Add increments the balance and appends a ledger row in one transaction.
func (r *CreditRepository) Add(ctx context.Context, userID string, amount int, txType TxType, meta TxMeta) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	newBalance, err := r.AddTx(ctx2, tx, userID, amount, txType, meta)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationErr(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return newBalance, nil
}

// AddTx increments the balance and appends a ledger row within an external
// transaction. The caller owns commit/rollback.
func (r *CreditRepository) AddTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int, txType TxType, meta TxMeta) (int, error) {
	var newBalance int
	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET credit_balance = credit_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credit_balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		if isSerializationErr(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("%w: update user balance", ErrInternal)
	}

	if err := r.insertLedger(ctx, tx, userID, amount, txType, meta); err != nil {
		return 0, err
	}

	return newBalance, nil
}

func (r *CreditRepository) GetBalance(ctx context.Context, userID string) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := r.db.GetContext(ctx2, &balance, `SELECT credit_balance FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("%w: get balance", ErrInternal)
	}

	return balance, nil
}

func (r *CreditRepository) HasSpend(ctx context.Context, listingID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := r.db.GetContext(ctx2, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM credit_transactions
			WHERE listing_id = $1 AND tx_type = $2
		)
	`, listingID, TxTypeSpend)
	if err != nil {
		return false, fmt.Errorf("%w: check spend", ErrInternal)
	}

	return exists, nil
}

func (r *CreditRepository) ListTransactions(ctx context.Context, userID string, pagination Pagination) ([]CreditTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	transactions := make([]CreditTransaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount_delta, tx_type, listing_id, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, pagination.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return transactions, nil
}

// classifyDeductFailure distinguishes a missing user from an insufficient
// balance after the conditional UPDATE touched no rows.
func (r *CreditRepository) classifyDeductFailure(ctx context.Context, tx *sqlx.Tx, userID string, amount int) error {
	var balance int
	err := tx.QueryRowContext(ctx, `SELECT credit_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: read balance", ErrInternal)
	}
	return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientCredits, balance, amount)
}

func (r *CreditRepository) insertLedger(ctx context.Context, tx *sqlx.Tx, userID string, amountDelta int, txType TxType, meta TxMeta) error {
	if txType != TxTypeSpend && txType != TxTypeRefund && txType != TxTypePurchase {
		return fmt.Errorf("%w: unknown tx type %q", ErrInternal, txType)
	}

	if strings.TrimSpace(meta.Description) == "" {
		meta.Description = "credit balance adjustment"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount_delta, tx_type, listing_id, description
		)
		VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5
		)
	`, userID, amountDelta, txType, meta.ListingID, meta.Description)
	if err != nil {
		if isSerializationErr(err) {
			return ErrConflict
		}
		return fmt.Errorf("%w: insert transaction", ErrInternal)
	}

	return nil
}

// isSerializationErr reports whether err is a Postgres serialization failure
// or deadlock, both safe to retry.
func isSerializationErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
