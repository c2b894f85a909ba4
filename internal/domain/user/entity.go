package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the account row. CreditBalance is mutated only through the credit
// service, never directly.
type User struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	Username      string    `db:"username" json:"username"`
	AvatarURL     *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	CreditBalance int       `db:"credit_balance" json:"credit_balance"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
