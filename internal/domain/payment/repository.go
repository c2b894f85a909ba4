package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/homescout/homescout-api/internal/domain/credit"
)

const queryTimeout = 3 * time.Second

// Repository persists payment transactions and the package catalog
type Repository interface {
	BeginTxx(ctx context.Context) (*sqlx.Tx, error)
	CommitTx(tx *sqlx.Tx) error
	RollbackTx(tx *sqlx.Tx)
	CreatePending(ctx context.Context, t *Transaction) error
	GetByOrderID(ctx context.Context, orderID string) (*Transaction, error)
	GetByOrderIDTx(ctx context.Context, tx *sqlx.Tx, orderID string) (*Transaction, error)
	CompleteTx(ctx context.Context, tx *sqlx.Tx, orderID, paymentID, signature string, rawPayload []byte) (bool, error)
	MarkFailed(ctx context.Context, orderID string, rawPayload []byte) (bool, error)
	GetPackageByName(ctx context.Context, name string) (*CreditPackage, error)
	ListPackages(ctx context.Context) ([]CreditPackage, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Transaction, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) BeginTxx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{})
}

// CommitTx commits a settlement transaction, mapping serialization failures
// to the retryable conflict sentinel.
func (r *repository) CommitTx(tx *sqlx.Tx) error {
	if err := tx.Commit(); err != nil {
		if isSerializationErr(err) {
			return credit.ErrConflict
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RollbackTx discards an unfinished settlement transaction. Safe after commit.
func (r *repository) RollbackTx(tx *sqlx.Tx) {
	_ = tx.Rollback()
}

func (r *repository) CreatePending(ctx context.Context, t *Transaction) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO payment_transactions (
			id, user_id, order_id, amount, credits, package_name, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.UserID, t.OrderID, t.Amount, t.Credits, t.PackageName, StatusPending)
	if err != nil {
		return fmt.Errorf("insert pending transaction: %w", err)
	}

	return nil
}

func (r *repository) GetByOrderID(ctx context.Context, orderID string) (*Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Transaction
	err := r.db.GetContext(ctx2, &t, `
		SELECT * FROM payment_transactions WHERE order_id = $1
	`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	return &t, nil
}

func (r *repository) GetByOrderIDTx(ctx context.Context, tx *sqlx.Tx, orderID string) (*Transaction, error) {
	var t Transaction
	err := tx.GetContext(ctx, &t, `
		SELECT * FROM payment_transactions WHERE order_id = $1
	`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	return &t, nil
}

// CompleteTx flips a pending transaction to completed. The status guard in
// the WHERE clause makes the flip a compare-and-set: when two settlers race,
// exactly one sees a row updated. Returns false when the transaction was
// already terminal.
func (r *repository) CompleteTx(ctx context.Context, tx *sqlx.Tx, orderID, paymentID, signature string, rawPayload []byte) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $2,
		    payment_id = $3,
		    signature = $4,
		    raw_callback_payload = $5,
		    paid_at = NOW(),
		    updated_at = NOW()
		WHERE order_id = $1 AND status = $6
	`, orderID, StatusCompleted,
		sql.NullString{String: paymentID, Valid: paymentID != ""},
		sql.NullString{String: signature, Valid: signature != ""},
		nullableJSON(rawPayload), StatusPending)
	if err != nil {
		if isSerializationErr(err) {
			return false, credit.ErrConflict
		}
		return false, fmt.Errorf("complete transaction: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete transaction: %w", err)
	}

	return rows == 1, nil
}

// MarkFailed flips a pending transaction to failed. Transactions already in a
// terminal state are left untouched and false is returned.
func (r *repository) MarkFailed(ctx context.Context, orderID string, rawPayload []byte) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE payment_transactions
		SET status = $2,
		    raw_callback_payload = COALESCE($3, raw_callback_payload),
		    failed_at = NOW(),
		    updated_at = NOW()
		WHERE order_id = $1 AND status = $4
	`, orderID, StatusFailed, nullableJSON(rawPayload), StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark transaction failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark transaction failed: %w", err)
	}

	return rows == 1, nil
}

func (r *repository) GetPackageByName(ctx context.Context, name string) (*CreditPackage, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p CreditPackage
	err := r.db.GetContext(ctx2, &p, `
		SELECT * FROM credit_packages WHERE name = $1 AND active = TRUE
	`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}

	return &p, nil
}

func (r *repository) ListPackages(ctx context.Context) ([]CreditPackage, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	packages := make([]CreditPackage, 0)
	err := r.db.SelectContext(ctx2, &packages, `
		SELECT * FROM credit_packages WHERE active = TRUE ORDER BY price ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	return packages, nil
}

func (r *repository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT * FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return transactions, nil
}

// nullableJSON passes the payload as text: lib/pq would encode []byte as
// bytea, which jsonb columns reject.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isSerializationErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
