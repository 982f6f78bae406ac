package gorecurly

import (
	"context"
	"errors"
	"fmt"
)

// activeSubscription finds the user's current subscription at the provider.
func (m *Manager) activeSubscription(ctx context.Context, userID int64) (string, *Subscription, error) {
	code, err := m.storage.GetAccountCode(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("getting account code: %w", err)
	}
	if code == "" {
		return "", nil, ErrNoAccountCode
	}

	subs, err := m.gateway.ListSubscriptions(ctx, code)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	for i := range subs {
		if subs[i].State == StateActive || subs[i].State == StateInTrial {
			return code, &subs[i], nil
		}
	}
	return code, nil, ErrNoSubscriptions
}

// CancelSubscription cancels the user's current subscription at the provider.
// The subscription stays active until it expires; the refreshed snapshot
// reflects that as active with auto-renew off.
func (m *Manager) CancelSubscription(ctx context.Context, userID int64) (*Snapshot, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}

	_, sub, err := m.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.gateway.CancelSubscription(ctx, sub.UUID); err != nil {
		return nil, fmt.Errorf("canceling subscription: %w", err)
	}

	m.logger.Info("subscription canceled",
		Field{Key: "user_id", Value: userID},
		Field{Key: "subscription_uuid", Value: sub.UUID})
	return m.Sync(ctx, userID, nil)
}

// TerminateSubscription ends the user's current subscription immediately with
// the given refund behavior, then refreshes the snapshot.
func (m *Manager) TerminateSubscription(ctx context.Context, userID int64, refund RefundType) (*Snapshot, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}

	_, sub, err := m.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.gateway.TerminateSubscription(ctx, sub.UUID, refund); err != nil {
		return nil, fmt.Errorf("terminating subscription: %w", err)
	}

	m.logger.Info("subscription terminated",
		Field{Key: "user_id", Value: userID},
		Field{Key: "subscription_uuid", Value: sub.UUID},
		Field{Key: "refund", Value: string(refund)})

	snap, err := m.Sync(ctx, userID, nil)
	if errors.Is(err, ErrNoSubscriptions) {
		return snap, nil
	}
	return snap, err
}

// UpdateEmail pushes the user's current email to their provider account. A
// user without an account code is a no-op; there is nothing to update yet.
func (m *Manager) UpdateEmail(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrInvalidUser
	}

	user, err := m.storage.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}

	code, err := m.storage.GetAccountCode(ctx, userID)
	if err != nil {
		return fmt.Errorf("getting account code: %w", err)
	}
	if code == "" {
		return nil
	}

	if err := m.gateway.UpdateAccountEmail(ctx, code, user.Email); err != nil {
		return fmt.Errorf("updating account email: %w", err)
	}
	return nil
}
