package gorecurly

import (
	"context"
	"time"
)

// Storage defines the persistence collaborator: per-user metadata plus the
// user directory and invitation tickets. All methods use concrete types from
// this package to avoid import cycles.
//
// Ownership rules the engine relies on:
//   - Sync is the only writer of snapshots and created dates.
//   - EnsureAccountCode is the only writer of account codes, through
//     SetAccountCodeIfAbsent.
type Storage interface {
	// GetUser returns the user with the given id, or ErrUserNotFound.
	GetUser(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail returns the user with the given email, or ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// CreateGuestUser creates a minimal guest user from notification profile
	// fields. Returns ErrUserExists if the email is already registered.
	CreateGuestUser(ctx context.Context, profile GuestProfile) (*User, error)

	// SetUserRole replaces the user's role.
	SetUserRole(ctx context.Context, userID int64, role Role) error

	// GetAccountCode returns the stored billing account code, or "" when the
	// user has none. Absence is not an error.
	GetAccountCode(ctx context.Context, userID int64) (string, error)

	// SetAccountCodeIfAbsent atomically stores code unless one already
	// exists, and returns whichever code is stored afterwards. Concurrent
	// first-time callers for the same user must all observe the same winner.
	SetAccountCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error)

	// FindUserByAccountCode reverse-looks-up a user by account code. If
	// several users share a code the result is an arbitrary single match.
	// Returns ErrUserNotFound when there is none.
	FindUserByAccountCode(ctx context.Context, code string) (*User, error)

	// GetSnapshot returns the persisted snapshot, or ErrSnapshotNotFound.
	GetSnapshot(ctx context.Context, userID int64) (*Snapshot, error)

	// SetSnapshot overwrites the persisted snapshot as a whole record.
	SetSnapshot(ctx context.Context, userID int64, snap *Snapshot) error

	// GetCreatedDate returns the write-once created date, zero when unset.
	GetCreatedDate(ctx context.Context, userID int64) (time.Time, error)

	// SetCreatedDateIfAbsent stores t only if no created date exists yet.
	SetCreatedDateIfAbsent(ctx context.Context, userID int64, t time.Time) error

	// GetLegacyCapabilities returns externally maintained capability flags
	// (e.g. "subscriber-lifetime") that predate snapshot-derived roles.
	GetLegacyCapabilities(ctx context.Context, userID int64) ([]string, error)

	// SaveTicket stores a pending invitation ticket.
	SaveTicket(ctx context.Context, ticket *Ticket) error

	// GetTicket returns the ticket with the given id, or ErrTicketNotFound.
	GetTicket(ctx context.Context, id string) (*Ticket, error)

	// DeleteTicket removes a ticket. Deleting an absent ticket is not an
	// error; redemption relies on GetTicket for the single-use check.
	DeleteTicket(ctx context.Context, id string) error
}
