package gorecurly

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okredo/go-recurly/pkg/gorecurly/internal"
)

const (
	defaultFreebiePlanCode = "annual"
	defaultCurrency        = "USD"
	defaultFreeDays        = 14
	defaultCouponCacheTTL  = 5 * time.Minute
	defaultRedirectPath    = "/subscription/thanks/"
)

// Config holds manager configuration. Storage and Gateway are passed to
// NewManager directly; everything here is optional unless noted.
type Config struct {
	// WebhookUsername and WebhookPassword are the basic-auth credentials the
	// provider's push notifications must present. Required to serve webhooks.
	WebhookUsername string
	WebhookPassword string

	// TicketSecret signs invitation ticket tokens. Required for the
	// invite/redeem workflow.
	TicketSecret string

	// FreebiePlanCode is the plan used for free-period subscriptions
	// (default "annual").
	FreebiePlanCode string

	// Currency for created subscriptions (default "USD").
	Currency string

	// DefaultFreeDays is the trial length when an invite doesn't specify one
	// (default 14).
	DefaultFreeDays int

	// RedemptionBaseURL is prepended to ticket tokens to build the
	// invitation link, e.g. "https://example.com/do/". Required for invites.
	RedemptionBaseURL string

	// RedirectAfterRedeem is the path a successful redemption redirects to
	// (default "/subscription/thanks/").
	RedirectAfterRedeem string

	// SupportContact is named in user-facing redemption failure messages.
	SupportContact string

	// InviteFrom and InviteSubject configure the invitation email.
	InviteFrom    string
	InviteSubject string

	// CouponCacheTTL bounds the in-process redeemable-coupon cache
	// (default 5 minutes).
	CouponCacheTTL time.Duration

	// Mailer sends invitation email (default: drop messages).
	Mailer Mailer

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking operations (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the clock, for tests. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.FreebiePlanCode == "" {
		c.FreebiePlanCode = defaultFreebiePlanCode
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.DefaultFreeDays <= 0 {
		c.DefaultFreeDays = defaultFreeDays
	}
	if c.CouponCacheTTL <= 0 {
		c.CouponCacheTTL = defaultCouponCacheTTL
	}
	if c.RedirectAfterRedeem == "" {
		c.RedirectAfterRedeem = defaultRedirectPath
	}
	if c.RedemptionBaseURL != "" && !strings.HasSuffix(c.RedemptionBaseURL, "/") {
		c.RedemptionBaseURL += "/"
	}
	if c.Mailer == nil {
		c.Mailer = NoopMailer{}
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics{}
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// Manager is the explicitly constructed service instance wiring storage, the
// billing gateway, and the collaborators together. Create one per process and
// pass it to whatever serves requests; it is safe for concurrent use.
type Manager struct {
	storage Storage
	gateway Gateway
	config  Config

	logger  Logger
	metrics Metrics
	mailer  Mailer
	now     func() time.Time

	// syncGroup collapses concurrent reconciliations for the same user into
	// one in-flight pass. In-process dedup only; cross-process races remain
	// last-writer-wins.
	syncGroup singleflight.Group

	webhookLimiter *internal.RateLimiter

	couponMu      sync.Mutex
	couponCache   []Coupon
	couponFetched time.Time
}

// NewManager creates a new manager with the given storage, gateway and
// configuration.
func NewManager(storage Storage, gateway Gateway, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if gateway == nil {
		return nil, fmt.Errorf("billing gateway is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		storage:        storage,
		gateway:        gateway,
		config:         config,
		logger:         config.Logger,
		metrics:        config.Metrics,
		mailer:         config.Mailer,
		now:            config.Now,
		webhookLimiter: internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
	}, nil
}

// RedeemableCoupons returns the provider's currently redeemable coupons,
// cached in-process for Config.CouponCacheTTL.
func (m *Manager) RedeemableCoupons(ctx context.Context) ([]Coupon, error) {
	m.couponMu.Lock()
	defer m.couponMu.Unlock()

	if m.couponCache != nil && m.now().Sub(m.couponFetched) < m.config.CouponCacheTTL {
		out := make([]Coupon, len(m.couponCache))
		copy(out, m.couponCache)
		return out, nil
	}

	coupons, err := m.gateway.ListRedeemableCoupons(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing redeemable coupons: %w", err)
	}

	m.couponCache = coupons
	m.couponFetched = m.now()

	out := make([]Coupon, len(coupons))
	copy(out, coupons)
	return out, nil
}
