package payment

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents transaction status. Completed and failed are terminal:
// a transaction never leaves either state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// JSONRawMessage handles NULL json fields from DB
type JSONRawMessage []byte

func (j *JSONRawMessage) Scan(src any) error {
	if src == nil {
		*j = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", src)
	}
	return nil
}

func (j JSONRawMessage) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// Transaction represents one attempt to buy a credit package. It is keyed by
// the gateway-issued order id and bridges the payment provider and the ledger.
type Transaction struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	UserID             uuid.UUID      `db:"user_id" json:"user_id"`
	OrderID            string         `db:"order_id" json:"order_id"`
	PaymentID          sql.NullString `db:"payment_id" json:"payment_id,omitempty"`
	Signature          sql.NullString `db:"signature" json:"-"`
	Amount             int            `db:"amount" json:"amount"`
	Credits            int            `db:"credits" json:"credits"`
	PackageName        string         `db:"package_name" json:"package_name"`
	Status             Status         `db:"status" json:"status"`
	RawCallbackPayload JSONRawMessage `db:"raw_callback_payload" json:"-"`
	PaidAt             sql.NullTime   `db:"paid_at" json:"paid_at,omitempty"`
	FailedAt           sql.NullTime   `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the transaction can no longer change state
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// CreditPackage is a static catalog entry. Prices are in the minor currency
// unit (paise).
type CreditPackage struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Price       int       `db:"price" json:"price"`
	Credits     int       `db:"credits" json:"credits"`
	Description string    `db:"description" json:"description"`
	Active      bool      `db:"active" json:"active"`
}
