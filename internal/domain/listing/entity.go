package listing

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status is the listing lifecycle state. Publishing costs one credit and
// stamps an expiry; the expire worker flips overdue actives to expired.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Listing represents a property listing
type Listing struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	UserID       uuid.UUID    `db:"user_id" json:"user_id"`
	Title        string       `db:"title" json:"title"`
	Description  string       `db:"description" json:"description"`
	Price        int64        `db:"price" json:"price"`
	Address      string       `db:"address" json:"address"`
	City         string       `db:"city" json:"city"`
	Bedrooms     int          `db:"bedrooms" json:"bedrooms"`
	Bathrooms    int          `db:"bathrooms" json:"bathrooms"`
	ListingType  string       `db:"listing_type" json:"listing_type"`
	PropertyKind string       `db:"property_kind" json:"property_kind"`
	Status       Status       `db:"status" json:"status"`
	ExpiresAt    sql.NullTime `db:"expires_at" json:"expires_at,omitempty"`
	ViewCount    int          `db:"view_count" json:"view_count"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// IsLive reports whether the listing is active and not past its expiry
func (l *Listing) IsLive(now time.Time) bool {
	return l.Status == StatusActive && l.ExpiresAt.Valid && l.ExpiresAt.Time.After(now)
}
