package gorecurly

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// newAccountCode generates an opaque 32-character hex account code.
func newAccountCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AccountCode returns the stored account code for the user, or "" when the
// user has never been linked to a billing account.
func (m *Manager) AccountCode(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", ErrInvalidUser
	}
	return m.storage.GetAccountCode(ctx, userID)
}

// EnsureAccountCode returns the user's account code, generating and storing a
// fresh one when none exists yet. Concurrent callers for the same user all
// observe the same winning code.
func (m *Manager) EnsureAccountCode(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", ErrInvalidUser
	}

	code, err := m.storage.GetAccountCode(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("getting account code: %w", err)
	}
	if code != "" {
		return code, nil
	}

	code, err = m.storage.SetAccountCodeIfAbsent(ctx, userID, newAccountCode())
	if err != nil {
		return "", fmt.Errorf("setting account code: %w", err)
	}

	m.logger.Debug("assigned account code",
		Field{Key: "user_id", Value: userID},
		Field{Key: "account_code", Value: code})
	return code, nil
}

// FindUserByAccountCode resolves an account code back to a user. Returns
// ErrUserNotFound when no user carries the code.
func (m *Manager) FindUserByAccountCode(ctx context.Context, accountCode string) (*User, error) {
	if accountCode == "" {
		return nil, ErrNoAccountCode
	}
	return m.storage.FindUserByAccountCode(ctx, accountCode)
}
