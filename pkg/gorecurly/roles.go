package gorecurly

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role is the access role projected from a subscription snapshot.
type Role string

const (
	RoleGuest           Role = "guest"
	RoleSubscriber      Role = "subscriber"
	RoleSubscriberTrial Role = "subscriber-trial"
)

// Capability names granted by the projector.
const (
	CapSubscriber          = "subscriber"
	CapSubscriberTrial     = "subscriber-trial"
	CapDidTrial            = "did_trial"
	CapDidSubscription     = "did_subscription"
	CapHasSubscriptionData = "has_subscription_data"
	CapLoginWithKey        = "login_with_key"

	// capSubStatePrefix prefixes one capability per observed raw state,
	// e.g. "sub_state_active".
	capSubStatePrefix = "sub_state_"

	// LegacyLifetimeCap in a user's legacy capability record grants
	// subscriber access regardless of snapshot state.
	LegacyLifetimeCap = "subscriber-lifetime"
)

// DeriveRole projects a snapshot onto a role. A nil snapshot or any
// non-active state yields guest.
func DeriveRole(s *Snapshot, now time.Time) Role {
	if s == nil || s.State != StateActive {
		return RoleGuest
	}
	if s.InTrial(now) {
		return RoleSubscriberTrial
	}
	return RoleSubscriber
}

// CapabilitySet is an immutable set of granted capability names.
type CapabilitySet map[string]bool

// Has reports whether the capability is granted.
func (c CapabilitySet) Has(capability string) bool {
	return c[capability]
}

// capInput carries everything a capability rule may inspect.
type capInput struct {
	snapshot    *Snapshot
	accountCode bool
	legacyCaps  []string
	now         time.Time
}

type capabilityRule func(in capInput, set CapabilitySet)

// capabilityRules is applied in order; later rules may observe grants made by
// earlier ones but never revoke them.
var capabilityRules = []capabilityRule{
	func(in capInput, set CapabilitySet) {
		switch DeriveRole(in.snapshot, in.now) {
		case RoleSubscriber:
			set[CapSubscriber] = true
		case RoleSubscriberTrial:
			set[CapSubscriberTrial] = true
		}
	},
	func(in capInput, set CapabilitySet) {
		if in.snapshot != nil && in.snapshot.TrialStartedAt != "" {
			set[CapDidTrial] = true
		}
	},
	func(in capInput, set CapabilitySet) {
		if in.snapshot != nil && in.snapshot.DidSubscription {
			set[CapDidSubscription] = true
		}
	},
	func(in capInput, set CapabilitySet) {
		if in.snapshot != nil && in.snapshot.State != "" {
			set[capSubStatePrefix+string(in.snapshot.State)] = true
		}
	},
	func(in capInput, set CapabilitySet) {
		if in.accountCode {
			set[CapHasSubscriptionData] = true
		}
	},
	func(in capInput, set CapabilitySet) {
		// Passwordless invitation login is for prospects only; anyone with
		// subscription data authenticates normally.
		if !in.accountCode && !set[CapSubscriber] && !set[CapSubscriberTrial] {
			set[CapLoginWithKey] = true
		}
	},
	func(in capInput, set CapabilitySet) {
		for _, c := range in.legacyCaps {
			if c == LegacyLifetimeCap {
				set[CapSubscriber] = true
			}
		}
	},
}

// DeriveCapabilities computes the capability set for a user from their
// snapshot, account-code presence, and legacy capability record. Pure;
// callers must not cache the result beyond one authorization decision.
func DeriveCapabilities(s *Snapshot, accountCodePresent bool, legacyCaps []string, now time.Time) CapabilitySet {
	in := capInput{snapshot: s, accountCode: accountCodePresent, legacyCaps: legacyCaps, now: now}
	set := make(CapabilitySet)
	for _, rule := range capabilityRules {
		rule(in, set)
	}
	return set
}

// Capabilities loads the user's persisted state and projects their current
// capability set. Evaluated fresh on every call.
func (m *Manager) Capabilities(ctx context.Context, userID int64) (CapabilitySet, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}

	snapshot, err := m.storage.GetSnapshot(ctx, userID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}

	code, err := m.storage.GetAccountCode(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting account code: %w", err)
	}

	legacy, err := m.storage.GetLegacyCapabilities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting legacy capabilities: %w", err)
	}

	return DeriveCapabilities(snapshot, code != "", legacy, m.now()), nil
}

// UserCan reports whether the user currently holds the capability.
func (m *Manager) UserCan(ctx context.Context, userID int64, capability string) (bool, error) {
	set, err := m.Capabilities(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(capability), nil
}
