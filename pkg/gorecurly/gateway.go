package gorecurly

import (
	"context"
	"time"
)

// Account is the provider-side profile a local user maps onto.
type Account struct {
	AccountCode string
	Email       string
	FirstName   string
	LastName    string
	CompanyName string
}

// Subscription is a transient candidate fetched from the gateway. One
// billing account may hold several; Sync folds them into a single Snapshot
// and discards them.
type Subscription struct {
	UUID             string
	PlanCode         string
	State            string
	Quantity         int
	UnitAmountCents  int
	Currency         string
	CollectionMethod string

	ActivatedAt            *time.Time
	CanceledAt             *time.Time
	ExpiresAt              *time.Time
	CurrentPeriodStartedAt *time.Time
	CurrentPeriodEndsAt    *time.Time
	TrialStartedAt         *time.Time
	TrialEndsAt            *time.Time
}

// Transaction is a provider-side payment record.
type Transaction struct {
	UUID        string
	Action      string
	Status      string
	AmountCents int
	Reference   string // invoice number
	CreatedAt   *time.Time
}

// CouponRedemption records a coupon applied to an account.
type CouponRedemption struct {
	CouponCode string
	State      string
}

// Coupon is a provider-side coupon definition.
type Coupon struct {
	CouponCode string
	Name       string
	State      string
}

// NewSubscription is the request payload for creating a subscription.
type NewSubscription struct {
	PlanCode         string
	Currency         string
	CollectionMethod string
	NetTerms         int
	TrialEndsAt      time.Time
	CouponCode       string
	Account          Account
}

// RefundType selects the terminate behavior for a subscription.
type RefundType string

const (
	RefundNone    RefundType = "none"
	RefundPartial RefundType = "partial"
	RefundFull    RefundType = "full"
)

// TransactionQuery filters a transaction listing.
type TransactionQuery struct {
	State   string
	Type    string
	PerPage int
}

// Gateway is the call surface over the external billing API. Implementations
// must translate provider failures into the package error taxonomy:
// ErrNotFound for missing records, *ValidationError for rejected writes, and
// ErrGatewayUnavailable (wrapped) for transport or server-side failures.
// Every call must honor context cancellation and carry a bounded timeout.
type Gateway interface {
	GetAccount(ctx context.Context, accountCode string) (*Account, error)
	UpdateAccountEmail(ctx context.Context, accountCode, email string) error

	ListSubscriptions(ctx context.Context, accountCode string) ([]Subscription, error)
	GetSubscription(ctx context.Context, uuid string) (*Subscription, error)
	CreateSubscription(ctx context.Context, sub *NewSubscription) (*Subscription, error)

	// ReviseSubscriptionAtRenewal queues a collection-method change to take
	// effect when the subscription renews.
	ReviseSubscriptionAtRenewal(ctx context.Context, uuid, collectionMethod string) error

	CancelSubscription(ctx context.Context, uuid string) error
	TerminateSubscription(ctx context.Context, uuid string, refund RefundType) error

	// ListTransactions returns matching transactions most-recent-first.
	ListTransactions(ctx context.Context, accountCode string, q TransactionQuery) ([]Transaction, error)

	GetCouponRedemption(ctx context.Context, accountCode string) (*CouponRedemption, error)
	ListRedeemableCoupons(ctx context.Context) ([]Coupon, error)
}
