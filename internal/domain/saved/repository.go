package saved

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/homescout/homescout-api/internal/domain/listing"
)

const queryTimeout = 3 * time.Second

// SavedListing bookmarks a listing for a user
type SavedListing struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	ListingID uuid.UUID `db:"listing_id" json:"listing_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Repository persists saved listings
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates saved listings repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Toggle saves the listing when it isn't saved and unsaves it when it is.
// Returns whether the listing is saved after the call.
func (r *Repository) Toggle(ctx context.Context, userID, listingID uuid.UUID) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		DELETE FROM saved_listings WHERE user_id = $1 AND listing_id = $2
	`, userID, listingID)
	if err != nil {
		return false, fmt.Errorf("unsave listing: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unsave listing: %w", err)
	}
	if rows == 1 {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx2, `
		INSERT INTO saved_listings (id, user_id, listing_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, listing_id) DO NOTHING
	`, uuid.New(), userID, listingID)
	if err != nil {
		if isForeignKeyErr(err) {
			return false, listing.ErrListingNotFound
		}
		return false, fmt.Errorf("save listing: %w", err)
	}

	return true, nil
}

// IsSaved reports whether the user has the listing saved
func (r *Repository) IsSaved(ctx context.Context, userID, listingID uuid.UUID) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	err := r.db.GetContext(ctx2, &count, `
		SELECT COUNT(*) FROM saved_listings WHERE user_id = $1 AND listing_id = $2
	`, userID, listingID)
	if err != nil {
		return false, fmt.Errorf("check saved listing: %w", err)
	}

	return count > 0, nil
}

// ListByUser returns the listings the user has saved, most recently saved
// first. Deleted listings disappear from the result via the cascade.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]listing.Listing, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	listings := make([]listing.Listing, 0)
	err := r.db.SelectContext(ctx2, &listings, `
		SELECT l.* FROM listings l
		JOIN saved_listings s ON s.listing_id = l.id
		WHERE s.user_id = $1
		ORDER BY s.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list saved listings: %w", err)
	}

	return listings, nil
}

func isForeignKeyErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
