package user

import "errors"

var (
	// ErrNotFound is returned when the user doesn't exist
	ErrNotFound = errors.New("user not found")
)
