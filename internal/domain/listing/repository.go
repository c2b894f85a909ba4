package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/homescout/homescout-api/internal/domain/credit"
)

const queryTimeout = 3 * time.Second

// ListingRepository persists property listings
type ListingRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) BeginTxx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{})
}

// CommitTx commits a lifecycle transaction, mapping serialization failures to
// the retryable conflict sentinel.
func (r *ListingRepository) CommitTx(tx *sqlx.Tx) error {
	if err := tx.Commit(); err != nil {
		if isSerializationErr(err) {
			return credit.ErrConflict
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *ListingRepository) RollbackTx(tx *sqlx.Tx) {
	_ = tx.Rollback()
}

func (r *ListingRepository) Create(ctx context.Context, l *Listing) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := r.CreateTx(ctx2, tx, l); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateTx inserts a listing within a caller-owned transaction
func (r *ListingRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, l *Listing) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO listings (
			id, user_id, title, description, price, address, city,
			bedrooms, bathrooms, listing_type, property_kind, status, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, l.ID, l.UserID, l.Title, l.Description, l.Price, l.Address, l.City,
		l.Bedrooms, l.Bathrooms, l.ListingType, l.PropertyKind, l.Status, l.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}

	return nil
}

func (r *ListingRepository) GetByID(ctx context.Context, id string) (*Listing, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var l Listing
	err := r.db.GetContext(ctx2, &l, `SELECT * FROM listings WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}

	return &l, nil
}

// ActivateTx flips a listing to active and stamps its expiry. The status
// guard makes the flip conditional: false means the listing was not in any of
// the allowed source states.
func (r *ListingRepository) ActivateTx(ctx context.Context, tx *sqlx.Tx, id string, from []Status, expiresAt time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE listings
		SET status = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`, id, StatusActive, expiresAt, pq.Array(statusStrings(from)))
	if err != nil {
		if isSerializationErr(err) {
			return false, credit.ErrConflict
		}
		return false, fmt.Errorf("activate listing: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate listing: %w", err)
	}

	return rows == 1, nil
}

func (r *ListingRepository) Update(ctx context.Context, l *Listing) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE listings
		SET title = $2, description = $3, price = $4, address = $5, city = $6,
		    bedrooms = $7, bathrooms = $8, updated_at = NOW()
		WHERE id = $1
	`, l.ID, l.Title, l.Description, l.Price, l.Address, l.City, l.Bedrooms, l.Bathrooms)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}

	return nil
}

func (r *ListingRepository) Delete(ctx context.Context, id string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete listing: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete listing: %w", err)
	}

	return rows == 1, nil
}

// ExpireDue flips overdue active listings to expired and returns how many
func (r *ListingRepository) ExpireDue(ctx context.Context) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE listings
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= NOW()
	`, StatusExpired, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("expire listings: %w", err)
	}

	return res.RowsAffected()
}

// ListExpiringSoon returns active listings whose expiry falls within the
// window, soonest first. Rows already past their expiry belong to ExpireDue
// and are not included.
func (r *ListingRepository) ListExpiringSoon(ctx context.Context, within time.Duration) ([]Listing, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cutoff := time.Now().Add(within)
	listings := make([]Listing, 0)
	err := r.db.SelectContext(ctx2, &listings, `
		SELECT * FROM listings
		WHERE status = $1 AND expires_at > NOW() AND expires_at <= $2
		ORDER BY expires_at ASC
	`, StatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring listings: %w", err)
	}

	return listings, nil
}

func (r *ListingRepository) IncrementViews(ctx context.Context, id string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE listings SET view_count = view_count + 1 WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}

	return nil
}

func (r *ListingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Listing, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	listings := make([]Listing, 0)
	err := r.db.SelectContext(ctx2, &listings, `
		SELECT * FROM listings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}

	return listings, nil
}

// ListActive returns the public feed of live listings, optionally filtered
func (r *ListingRepository) ListActive(ctx context.Context, filters ListFilters) ([]Listing, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT * FROM listings WHERE status = $1 AND expires_at > NOW()`
	args := []interface{}{StatusActive}

	if filters.City != "" {
		args = append(args, filters.City)
		query += ` AND city = $` + strconv.Itoa(len(args))
	}
	if filters.ListingType != "" {
		args = append(args, filters.ListingType)
		query += ` AND listing_type = $` + strconv.Itoa(len(args))
	}

	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filters.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	listings := make([]Listing, 0)
	err := r.db.SelectContext(ctx2, &listings, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}

	return listings, nil
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func isSerializationErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
