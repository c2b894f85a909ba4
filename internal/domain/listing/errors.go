package listing

import "errors"

var (
	// ErrListingNotFound is returned when the listing doesn't exist
	ErrListingNotFound = errors.New("listing not found")

	// ErrNotOwner is returned when a user operates on someone else's listing
	ErrNotOwner = errors.New("not the listing owner")

	// ErrInvalidStatus is returned when the lifecycle transition isn't allowed
	// from the listing's current status
	ErrInvalidStatus = errors.New("invalid listing status for this operation")
)
