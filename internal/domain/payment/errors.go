package payment

import "errors"

var (
	// ErrPackageNotFound is returned when the credit package doesn't exist or is inactive
	ErrPackageNotFound = errors.New("credit package not found")

	// ErrTransactionNotFound is returned when no transaction matches the order id
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyProcessed is returned when the transaction already reached a
	// terminal state. Toward the interactive verify path this is an explicit
	// error; toward the webhook it is a logged no-op.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrSignatureMismatch is returned when a gateway signature fails verification
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrInvalidPayload is returned when an authenticated webhook body can't be
	// used (unparseable, missing order id). Redelivering the same body can
	// never succeed, so the handler acknowledges instead of asking for a retry.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrProviderUnavailable is returned when the gateway times out or can't be reached
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)
