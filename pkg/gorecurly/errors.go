package gorecurly

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthenticationFailed is returned when webhook credentials do not match
	ErrAuthenticationFailed = errors.New("webhook authentication failed")

	// ErrMalformedPayload is returned when a notification body cannot be parsed
	ErrMalformedPayload = errors.New("malformed notification payload")

	// ErrNotFound is returned when the billing provider reports a missing record
	ErrNotFound = errors.New("record not found")

	// ErrUserNotFound is returned when a local user cannot be resolved
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidUser is returned when an operation needs a persisted user identity
	ErrInvalidUser = errors.New("invalid or unsaved user")

	// ErrUserExists is returned when creating a guest user with a taken email
	ErrUserExists = errors.New("user already exists")

	// ErrSnapshotNotFound is returned when a user has no persisted snapshot
	ErrSnapshotNotFound = errors.New("subscription snapshot not found")

	// ErrTicketNotFound is returned when an invitation ticket is missing or spent
	ErrTicketNotFound = errors.New("invitation ticket not found")

	// ErrInvalidTicket is returned when a ticket token fails signature checks
	ErrInvalidTicket = errors.New("invalid ticket token")

	// ErrNoAccountCode is returned when no billing account code can be resolved
	ErrNoAccountCode = errors.New("no billing account code for user")

	// ErrNoSubscriptions is a soft failure: the account exists but holds no
	// subscriptions. Sync still persists guest defaults when returning it.
	ErrNoSubscriptions = errors.New("account has no subscriptions")

	// ErrGatewayUnavailable wraps any provider/network-side failure
	ErrGatewayUnavailable = errors.New("billing gateway unavailable")

	// ErrAlreadySubscribed is the conflict signal for invites and redemptions
	ErrAlreadySubscribed = errors.New("user already has a subscription")

	// ErrInvalidEmail is returned for syntactically invalid addresses
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrStorageUnavailable is returned when storage is missing or unreachable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError carries field-level messages from a rejected provider
// create/update. The messages are surfaced to the caller verbatim.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("provider rejected request: %s", strings.Join(e.Messages, "; "))
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
