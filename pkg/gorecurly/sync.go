package gorecurly

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// formatTimestamp renders a gateway timestamp in storage form, "" when absent.
func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// Sync reconciles the user's local subscription snapshot against the billing
// provider and returns the persisted result. account, when non-nil, is a
// pre-fetched provider account (typically from a notification) that saves a
// profile lookup.
//
// Concurrent calls for the same user within one process are collapsed into a
// single reconciliation pass and share its result.
//
// An account with no subscriptions still persists a guest snapshot; Sync then
// returns it alongside ErrNoSubscriptions so callers can tell "empty" from
// "lookup failed".
func (m *Manager) Sync(ctx context.Context, userID int64, account *Account) (*Snapshot, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}

	start := time.Now()
	v, err, _ := m.syncGroup.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return m.syncUser(ctx, userID, account)
	})
	m.metrics.RecordSyncDuration(time.Since(start))

	switch {
	case err == nil:
		m.metrics.RecordSync("success")
	case errors.Is(err, ErrNoSubscriptions):
		m.metrics.RecordSync("no_subscriptions")
	default:
		m.metrics.RecordSync("error")
	}

	snap, _ := v.(*Snapshot)
	return snap, err
}

func (m *Manager) syncUser(ctx context.Context, userID int64, account *Account) (*Snapshot, error) {
	user, err := m.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	accountCode := ""
	if account != nil {
		accountCode = account.AccountCode
	}
	if accountCode == "" {
		accountCode, err = m.EnsureAccountCode(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	if accountCode == "" {
		return nil, ErrNoAccountCode
	}

	prior, err := m.storage.GetSnapshot(ctx, userID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	snap := &Snapshot{}

	// Carry names over from the stored snapshot; when missing, borrow them
	// from the provider account. A failed profile fetch is not fatal, names
	// just stay empty for this pass.
	switch {
	case prior != nil && (prior.FirstName != "" || prior.LastName != ""):
		snap.FirstName = prior.FirstName
		snap.LastName = prior.LastName
	case account != nil:
		snap.FirstName = account.FirstName
		snap.LastName = account.LastName
	default:
		if fetched, ferr := m.gateway.GetAccount(ctx, accountCode); ferr == nil {
			account = fetched
			snap.FirstName = fetched.FirstName
			snap.LastName = fetched.LastName
		} else if !errors.Is(ferr, ErrNotFound) {
			m.logger.Debug("account profile fetch failed",
				Field{Key: "user_id", Value: userID},
				Field{Key: "error", Value: ferr.Error()})
		}
	}

	subs, err := m.gateway.ListSubscriptions(ctx, accountCode)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("listing subscriptions: %w", err)
		}
		subs = nil
	}

	if len(subs) == 0 {
		if err := m.storage.SetUserRole(ctx, userID, RoleGuest); err != nil {
			return nil, fmt.Errorf("setting role: %w", err)
		}
		if err := m.storage.SetSnapshot(ctx, userID, snap); err != nil {
			return nil, fmt.Errorf("persisting snapshot: %w", err)
		}
		m.logger.Info("sync found no subscriptions",
			Field{Key: "user_id", Value: userID},
			Field{Key: "account_code", Value: accountCode})
		return snap, ErrNoSubscriptions
	}

	m.foldSubscriptions(snap, subs)

	// Best effort; a failed redemption lookup just leaves the coupon empty.
	if redemption, rerr := m.gateway.GetCouponRedemption(ctx, accountCode); rerr == nil && redemption != nil {
		snap.CouponCode = redemption.CouponCode
	}

	txs, err := m.gateway.ListTransactions(ctx, accountCode, TransactionQuery{
		State:   "successful",
		Type:    "purchase",
		PerPage: 1,
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	if prior != nil && prior.DidSubscription {
		snap.DidSubscription = true
	}
	if len(txs) > 0 {
		tx := txs[0]
		snap.DidSubscription = true
		snap.LastPaymentCents = tx.AmountCents
		snap.LastPaymentDate = formatTimestamp(tx.CreatedAt)
		snap.LastPaymentInvoice, _ = strconv.Atoi(tx.Reference)
		if prior != nil && prior.HasInitialPayment {
			snap.InitialPaymentCents = prior.InitialPaymentCents
			snap.HasInitialPayment = true
		} else {
			snap.InitialPaymentCents = tx.AmountCents
			snap.HasInitialPayment = true
		}
	} else if prior != nil && prior.HasInitialPayment {
		snap.InitialPaymentCents = prior.InitialPaymentCents
		snap.HasInitialPayment = true
		snap.LastPaymentCents = prior.LastPaymentCents
		snap.LastPaymentDate = prior.LastPaymentDate
		snap.LastPaymentInvoice = prior.LastPaymentInvoice
	}

	// Gateway work is done; everything below is local persistence, so a
	// gateway failure never leaves a half-written record behind.

	if snap.ActivatedAt != "" {
		created, cerr := m.storage.GetCreatedDate(ctx, userID)
		if cerr != nil {
			return nil, fmt.Errorf("loading created date: %w", cerr)
		}
		if created.IsZero() {
			activated, perr := time.Parse(TimestampLayout, snap.ActivatedAt)
			if perr == nil {
				if err := m.storage.SetCreatedDateIfAbsent(ctx, userID, activated); err != nil {
					return nil, fmt.Errorf("setting created date: %w", err)
				}
			}
		}
	}

	role := DeriveRole(snap, m.now())
	if err := m.storage.SetUserRole(ctx, userID, role); err != nil {
		return nil, fmt.Errorf("setting role: %w", err)
	}

	if err := m.storage.SetSnapshot(ctx, userID, snap); err != nil {
		return nil, fmt.Errorf("persisting snapshot: %w", err)
	}

	// Keep the provider's account email in step with the local user. Best
	// effort, the snapshot is already durable. The name carry-over above may
	// leave the account unfetched, so compare against a fresh copy.
	if account == nil && user.Email != "" {
		if fetched, ferr := m.gateway.GetAccount(ctx, accountCode); ferr == nil {
			account = fetched
		}
	}
	if account != nil && user.Email != "" && account.Email != user.Email {
		if uerr := m.gateway.UpdateAccountEmail(ctx, accountCode, user.Email); uerr != nil {
			m.logger.Warn("account email update failed",
				Field{Key: "user_id", Value: userID},
				Field{Key: "error", Value: uerr.Error()})
		}
	}

	m.logger.Info("sync completed",
		Field{Key: "user_id", Value: userID},
		Field{Key: "account_code", Value: accountCode},
		Field{Key: "plan_code", Value: snap.PlanCode},
		Field{Key: "state", Value: snap.State},
		Field{Key: "role", Value: string(role)})
	return snap, nil
}

// foldSubscriptions reduces the provider's subscription list into snap.
// The fold is order-sensitive on purpose: the first active candidate wins and
// later trial or non-active candidates cannot unseat it. The provider does
// not document list ordering, so reordering can change which non-active
// candidate is picked when no active one exists.
func (m *Manager) foldSubscriptions(snap *Snapshot, subs []Subscription) {
	now := m.now()
	for _, sub := range subs {
		if snap.State == StateActive {
			if sub.TrialEndsAt != nil && now.Before(*sub.TrialEndsAt) {
				continue
			}
			if sub.State != StateActive {
				continue
			}
		}

		snap.PlanCode = sub.PlanCode
		// "canceled" is an active subscription that will not renew; every
		// other state keeps the auto-renew default.
		if sub.State == StateCanceled {
			snap.State = StateActive
			snap.AutoRenew = false
		} else {
			snap.State = sub.State
			snap.AutoRenew = true
		}
		snap.ActivatedAt = formatTimestamp(sub.ActivatedAt)
		snap.CanceledAt = formatTimestamp(sub.CanceledAt)
		snap.ExpiresAt = formatTimestamp(sub.ExpiresAt)
		snap.CurrentPeriodStartedAt = formatTimestamp(sub.CurrentPeriodStartedAt)
		snap.CurrentPeriodEndsAt = formatTimestamp(sub.CurrentPeriodEndsAt)
		snap.TrialStartedAt = formatTimestamp(sub.TrialStartedAt)
		snap.TrialEndsAt = formatTimestamp(sub.TrialEndsAt)
	}
}
