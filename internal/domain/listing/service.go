package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/homescout/homescout-api/internal/domain/credit"
	"github.com/homescout/homescout-api/internal/pkg/retry"
)

const (
	publishCost = 1

	conflictAttempts = 3
	conflictBackoff  = 25 * time.Millisecond
)

// Service manages the listing lifecycle. Publishing, renewing and creating
// with immediate publish each debit one credit inside the same database
// transaction as the status change, so a listing never goes live unpaid and
// a failed debit never leaves a live listing.
type Service struct {
	repo     *ListingRepository
	credits  credit.Service
	validity time.Duration
}

// NewService creates listing service. validityDays is how long a published
// listing stays live.
func NewService(db *sqlx.DB, credits credit.Service, validityDays int) *Service {
	if validityDays <= 0 {
		validityDays = 30
	}
	return &Service{
		repo:     NewRepository(db),
		credits:  credits,
		validity: time.Duration(validityDays) * 24 * time.Hour,
	}
}

// Create inserts a listing. With req.Publish it goes live immediately: the
// insert, the activation and the credit debit commit or roll back together.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateListingRequest) (*Listing, error) {
	l := &Listing{
		ID:           uuid.New(),
		UserID:       userID,
		Title:        req.Title,
		Description:  req.Description,
		Price:        req.Price,
		Address:      req.Address,
		City:         req.City,
		Bedrooms:     req.Bedrooms,
		Bathrooms:    req.Bathrooms,
		ListingType:  req.ListingType,
		PropertyKind: req.PropertyKind,
		Status:       StatusDraft,
	}

	if !req.Publish {
		if err := s.repo.Create(ctx, l); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, l.ID.String())
	}

	expiresAt := time.Now().Add(s.validity)
	l.Status = StatusActive
	l.ExpiresAt = sql.NullTime{Time: expiresAt, Valid: true}

	err := s.withConflictRetry(ctx, func() error {
		tx, err := s.repo.BeginTxx(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer s.repo.RollbackTx(tx)

		if err := s.repo.CreateTx(ctx, tx, l); err != nil {
			return err
		}
		if _, err := s.credits.DeductTx(ctx, tx, userID, publishCost, credit.TxMeta{
			ListingID:   &l.ID,
			Description: "Published listing " + l.Title,
		}); err != nil {
			return err
		}

		return s.repo.CommitTx(tx)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, l.ID.String())
}

// Publish takes a draft live, debiting one credit atomically with the flip
func (s *Service) Publish(ctx context.Context, userID, listingID uuid.UUID) (*Listing, error) {
	return s.activate(ctx, userID, listingID, []Status{StatusDraft}, "Published listing")
}

// Renew extends an active or expired listing for another validity window,
// debiting one credit atomically with the new expiry.
func (s *Service) Renew(ctx context.Context, userID, listingID uuid.UUID) (*Listing, error) {
	return s.activate(ctx, userID, listingID, []Status{StatusActive, StatusExpired}, "Renewed listing")
}

func (s *Service) activate(ctx context.Context, userID, listingID uuid.UUID, from []Status, action string) (*Listing, error) {
	l, err := s.repo.GetByID(ctx, listingID.String())
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, ErrNotOwner
	}

	expiresAt := time.Now().Add(s.validity)
	err = s.withConflictRetry(ctx, func() error {
		tx, err := s.repo.BeginTxx(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer s.repo.RollbackTx(tx)

		flipped, err := s.repo.ActivateTx(ctx, tx, listingID.String(), from, expiresAt)
		if err != nil {
			return err
		}
		if !flipped {
			return fmt.Errorf("%w: status %s", ErrInvalidStatus, l.Status)
		}

		if _, err := s.credits.DeductTx(ctx, tx, userID, publishCost, credit.TxMeta{
			ListingID:   &l.ID,
			Description: action + " " + l.Title,
		}); err != nil {
			return err
		}

		return s.repo.CommitTx(tx)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, listingID.String())
}

// Delete removes a listing. When it is live and its publish debit is on the
// ledger, the credit comes back best effort: a failed refund is logged and
// reported through the Refunded flag, never blocking the delete.
func (s *Service) Delete(ctx context.Context, userID, listingID uuid.UUID) (*DeleteListingResponse, error) {
	l, err := s.repo.GetByID(ctx, listingID.String())
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, ErrNotOwner
	}

	eligible := l.IsLive(time.Now())
	if eligible {
		hasSpend, err := s.credits.HasSpend(ctx, listingID)
		if err != nil {
			log.Error().Err(err).Str("listing_id", listingID.String()).Msg("failed to check spend marker")
			eligible = false
		} else {
			eligible = hasSpend
		}
	}

	deleted, err := s.repo.Delete(ctx, listingID.String())
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrListingNotFound
	}

	refunded := false
	if eligible {
		if _, err := s.credits.Add(ctx, userID, publishCost, credit.TxTypeRefund, credit.TxMeta{
			ListingID:   &listingID,
			Description: "Refund for deleted listing " + l.Title,
		}); err != nil {
			log.Error().Err(err).
				Str("listing_id", listingID.String()).
				Str("user_id", userID.String()).
				Msg("refund after delete failed")
		} else {
			refunded = true
		}
	}

	return &DeleteListingResponse{Deleted: true, Refunded: refunded}, nil
}

// Update edits a listing's content fields. Lifecycle state is untouched.
func (s *Service) Update(ctx context.Context, userID, listingID uuid.UUID, req UpdateListingRequest) (*Listing, error) {
	l, err := s.repo.GetByID(ctx, listingID.String())
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, ErrNotOwner
	}

	if req.Title != nil {
		l.Title = *req.Title
	}
	if req.Description != nil {
		l.Description = *req.Description
	}
	if req.Price != nil {
		l.Price = *req.Price
	}
	if req.Address != nil {
		l.Address = *req.Address
	}
	if req.City != nil {
		l.City = *req.City
	}
	if req.Bedrooms != nil {
		l.Bedrooms = *req.Bedrooms
	}
	if req.Bathrooms != nil {
		l.Bathrooms = *req.Bathrooms
	}

	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, listingID.String())
}

// GetByID returns a listing and counts the view
func (s *Service) GetByID(ctx context.Context, listingID uuid.UUID) (*Listing, error) {
	l, err := s.repo.GetByID(ctx, listingID.String())
	if err != nil {
		return nil, err
	}

	if err := s.repo.IncrementViews(ctx, listingID.String()); err != nil {
		log.Warn().Err(err).Str("listing_id", listingID.String()).Msg("failed to count view")
	}

	return l, nil
}

// ListByUser returns the user's own listings, any status
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Listing, error) {
	return s.repo.ListByUser(ctx, userID.String(), limit, offset)
}

// ListActive returns the public feed
func (s *Service) ListActive(ctx context.Context, filters ListFilters) ([]Listing, error) {
	return s.repo.ListActive(ctx, filters)
}

// ExpireDue flips overdue active listings to expired. Called by the worker.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	return s.repo.ExpireDue(ctx)
}

// ListExpiringSoon returns active listings expiring within the window,
// soonest first. The worker uses it for advance notice of upcoming expiries.
func (s *Service) ListExpiringSoon(ctx context.Context, within time.Duration) ([]Listing, error) {
	return s.repo.ListExpiringSoon(ctx, within)
}

func (s *Service) withConflictRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, conflictAttempts, conflictBackoff, func() error {
		if err := fn(); err != nil {
			if errors.Is(err, credit.ErrConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
}
