package credit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Service defines the credit ledger operations. Every mutation pairs a balance
// update with exactly one ledger row inside a single database transaction.
type Service interface {
	// Check reports whether the user holds at least required credits.
	// Read-only; returns ErrUserNotFound for unknown users.
	Check(ctx context.Context, userID uuid.UUID, required int) (*CheckResult, error)

	// Deduct atomically deducts credits and appends a spend ledger row.
	// The balance is re-read inside the atomic unit, so a stale Check result
	// can never drive the balance below zero. Returns the new balance.
	Deduct(ctx context.Context, userID uuid.UUID, amount int, meta TxMeta) (int, error)

	// DeductTx deducts within a caller-owned transaction using a FOR UPDATE
	// row lock. Used when the debit must commit together with another write
	// (e.g. flipping a listing to active).
	DeductTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, meta TxMeta) (int, error)

	// Add atomically adds credits (purchase or refund) and appends a ledger
	// row. Returns the new balance.
	Add(ctx context.Context, userID uuid.UUID, amount int, txType TxType, meta TxMeta) (int, error)

	// AddTx adds within a caller-owned transaction. Used by payment
	// settlement so the order status flip and the credit grant are one
	// atomic unit.
	AddTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, txType TxType, meta TxMeta) (int, error)

	// GetBalance returns the current credit balance for a user
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)

	// HasSpend reports whether a spend ledger row exists for the listing.
	// Refund eligibility on delete keys off this, not off dates.
	HasSpend(ctx context.Context, listingID uuid.UUID) (bool, error)

	// ListTransactions returns paginated transaction history for a user
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]CreditTransaction, error)
}
