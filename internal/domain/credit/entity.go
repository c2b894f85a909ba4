package credit

import (
	"time"

	"github.com/google/uuid"
)

// TxType defines supported credit transaction types.
type TxType string

const (
	TxTypePurchase TxType = "purchase"
	TxTypeSpend    TxType = "spend"
	TxTypeRefund   TxType = "refund"
)

// TxMeta represents optional metadata attached to a credit transaction.
type TxMeta struct {
	ListingID   *uuid.UUID
	Description string
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// CheckResult reports whether a user can afford an operation.
type CheckResult struct {
	HasCredits bool `json:"has_credits"`
	Balance    int  `json:"balance"`
}

// CreditTransaction is a ledger row. Rows are append-only: they are never
// updated or deleted, and the sum of AmountDelta per user equals that user's
// current balance.
type CreditTransaction struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	AmountDelta int        `db:"amount_delta" json:"amount_delta"`
	TxType      TxType     `db:"tx_type" json:"tx_type"`
	ListingID   *uuid.UUID `db:"listing_id" json:"listing_id,omitempty"`
	Description string     `db:"description" json:"description"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
