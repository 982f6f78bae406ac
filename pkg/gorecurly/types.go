package gorecurly

import (
	"context"
	"time"
)

// Subscription states as reported by the billing provider.
// "canceled" is special: a canceled subscription is still active until it
// expires, it just will not renew. Sync normalizes it accordingly.
const (
	StateActive   = "active"
	StateCanceled = "canceled"
	StateExpired  = "expired"
	StateFuture   = "future"
	StateInTrial  = "in_trial"
	StatePastDue  = "past_due"
)

// TimestampLayout is the storage format for snapshot lifecycle timestamps.
// Matches the provider's UTC datetime representation; an absent timestamp is
// persisted as the empty string.
const TimestampLayout = "2006-01-02T15:04:05Z"

// User is the local site identity a billing account maps onto.
type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Role      Role   `json:"role"`
}

// GuestProfile carries the fields needed to create a minimal guest user,
// typically from the account block of an inbound notification.
type GuestProfile struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
}

// Snapshot is the locally persisted, reconciled view of a user's
// subscription. It is always written as a whole record, never field-patched.
type Snapshot struct {
	PlanCode  string `json:"plan_code,omitempty"`
	State     string `json:"state,omitempty"`
	AutoRenew bool   `json:"auto_renew"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	// Lifecycle timestamps in TimestampLayout form, "" when absent.
	ActivatedAt            string `json:"activated_at,omitempty"`
	CanceledAt             string `json:"canceled_at,omitempty"`
	ExpiresAt              string `json:"expires_at,omitempty"`
	CurrentPeriodStartedAt string `json:"current_period_started_at,omitempty"`
	CurrentPeriodEndsAt    string `json:"current_period_ends_at,omitempty"`
	TrialStartedAt         string `json:"trial_started_at,omitempty"`
	TrialEndsAt            string `json:"trial_ends_at,omitempty"`

	CouponCode string `json:"coupon_code,omitempty"`

	// DidSubscription is sticky: once a successful purchase has been
	// observed it stays true across every later reconciliation.
	DidSubscription bool `json:"did_subscription"`

	LastPaymentCents   int    `json:"last_payment_cents,omitempty"`
	LastPaymentDate    string `json:"last_payment_date,omitempty"`
	LastPaymentInvoice int    `json:"last_payment_invoice,omitempty"`

	// InitialPaymentCents is write-once. HasInitialPayment is the presence
	// flag; a zero amount is a legitimate value (fully-couponed purchases).
	InitialPaymentCents int  `json:"initial_payment_cents"`
	HasInitialPayment   bool `json:"has_initial_payment"`
}

// InTrial reports whether the snapshot's trial window extends past now.
func (s *Snapshot) InTrial(now time.Time) bool {
	if s == nil || s.TrialEndsAt == "" {
		return false
	}
	ends, err := time.Parse(TimestampLayout, s.TrialEndsAt)
	if err != nil {
		return false
	}
	return now.Before(ends)
}

// Ticket is a pending single-use free-trial invitation. The token handed to
// the invitee is the ticket ID plus an HMAC signature; the stored record is
// deleted on successful redemption and only then.
type Ticket struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FreeDays   int       `json:"free_days"`
	CouponCode string    `json:"coupon_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BatchInviteResult partitions a batch-invite input. Every input address
// lands in exactly one bucket.
type BatchInviteResult struct {
	Invited []string `json:"invited"`
	Skipped []string `json:"skipped"`
	Invalid []string `json:"invalid"`
}

// InviteOptions carries the free period and coupon an invitation grants.
type InviteOptions struct {
	// FreeDays is the trial length in days. Zero means Config.DefaultFreeDays.
	FreeDays int

	// CouponCode is applied to the subscription created on redemption.
	CouponCode string
}

// RedeemResult is returned by a successful ticket redemption.
type RedeemResult struct {
	User        *User
	Snapshot    *Snapshot
	RedirectURL string
}

// Email is an outbound message handed to the Mailer collaborator.
type Email struct {
	To      string
	From    string
	Subject string
	HTML    string
	Headers map[string]string
}

// Mailer sends invitation email. Delivery failure is an error return, never
// a panic; the core treats sends as fire-and-forget.
type Mailer interface {
	Send(ctx context.Context, msg *Email) error
}

// NoopMailer drops every message. Used when no mailer is configured.
type NoopMailer struct{}

func (NoopMailer) Send(ctx context.Context, msg *Email) error { return nil }
