package gorecurly

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// ValidEmail reports whether addr is a plain, syntactically valid address.
func ValidEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

func (m *Manager) signTicketID(id string) string {
	mac := hmac.New(sha256.New, []byte(m.config.TicketSecret))
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// TicketToken renders the signed token for a ticket, as embedded in the
// redemption URL.
func (m *Manager) TicketToken(t *Ticket) string {
	return t.ID + "." + m.signTicketID(t.ID)
}

// verifyTicketToken checks the token signature and returns the ticket id.
func (m *Manager) verifyTicketToken(token string) (string, error) {
	id, sig, ok := strings.Cut(token, ".")
	if !ok || id == "" {
		return "", ErrInvalidTicket
	}
	if !hmac.Equal([]byte(sig), []byte(m.signTicketID(id))) {
		return "", ErrInvalidTicket
	}
	return id, nil
}

// RedemptionURL builds the invitation link for a ticket.
func (m *Manager) RedemptionURL(t *Ticket) string {
	return m.config.RedemptionBaseURL + m.TicketToken(t)
}

// Invite issues a single-use free-trial ticket for the address and emails the
// redemption link. Returns ErrInvalidEmail for a malformed address and
// ErrAlreadySubscribed when the address belongs to a current subscriber; the
// latter is a skip, not a failure, and batch callers bucket it as such.
//
// The ticket is durable before the email goes out; a failed send is logged
// and the ticket stays redeemable (the link can be resent by inviting again
// with a fresh ticket).
func (m *Manager) Invite(ctx context.Context, email string, opts InviteOptions) (*Ticket, error) {
	if m.config.TicketSecret == "" {
		return nil, fmt.Errorf("ticket secret not configured")
	}
	if !ValidEmail(email) {
		m.metrics.RecordInvite("invalid")
		return nil, ErrInvalidEmail
	}

	user, err := m.storage.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}
	if user != nil {
		isSubscriber, err := m.UserCan(ctx, user.ID, CapSubscriber)
		if err != nil {
			return nil, err
		}
		if isSubscriber {
			m.metrics.RecordInvite("skipped")
			return nil, ErrAlreadySubscribed
		}
	}

	freeDays := opts.FreeDays
	if freeDays <= 0 {
		freeDays = m.config.DefaultFreeDays
	}

	ticket := &Ticket{
		ID:         uuid.NewString(),
		Email:      email,
		FreeDays:   freeDays,
		CouponCode: opts.CouponCode,
		CreatedAt:  m.now(),
	}
	if err := m.storage.SaveTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("saving ticket: %w", err)
	}

	msg := &Email{
		To:      email,
		From:    m.config.InviteFrom,
		Subject: m.config.InviteSubject,
		HTML:    m.inviteBody(ticket),
		Headers: map[string]string{"Content-Type": "text/html"},
	}
	if err := m.mailer.Send(ctx, msg); err != nil {
		m.logger.Warn("invitation email failed",
			Field{Key: "email", Value: email},
			Field{Key: "ticket_id", Value: ticket.ID},
			Field{Key: "error", Value: err.Error()})
	}

	m.metrics.RecordInvite("invited")
	m.logger.Info("issued invitation ticket",
		Field{Key: "email", Value: email},
		Field{Key: "free_days", Value: freeDays})
	return ticket, nil
}

func (m *Manager) inviteBody(t *Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>You have been invited to a free %d-day subscription.</p>", t.FreeDays)
	fmt.Fprintf(&b, `<p><a href="%s">Accept your invitation</a></p>`, m.RedemptionURL(t))
	if m.config.SupportContact != "" {
		fmt.Fprintf(&b, "<p>Questions? Contact %s.</p>", m.config.SupportContact)
	}
	return b.String()
}

// BatchInvite partitions the addresses into invited, skipped (already
// subscribed), and invalid, inviting each eligible one. Every input address
// lands in exactly one bucket. A storage or gateway failure aborts the batch
// and returns the partition built so far alongside the error.
func (m *Manager) BatchInvite(ctx context.Context, emails []string, opts InviteOptions) (*BatchInviteResult, error) {
	res := &BatchInviteResult{
		Invited: []string{},
		Skipped: []string{},
		Invalid: []string{},
	}
	for _, email := range emails {
		_, err := m.Invite(ctx, email, opts)
		switch {
		case err == nil:
			res.Invited = append(res.Invited, email)
		case errors.Is(err, ErrAlreadySubscribed):
			res.Skipped = append(res.Skipped, email)
		case errors.Is(err, ErrInvalidEmail):
			res.Invalid = append(res.Invalid, email)
		default:
			return res, fmt.Errorf("inviting %s: %w", email, err)
		}
	}
	return res, nil
}

// Redeem consumes a ticket token: it resolves or creates the invitee's user,
// creates the free-period subscription, reconciles, and only then deletes the
// ticket. Any failure before reconciliation succeeds leaves the ticket
// redeemable for retry.
//
// Returns ErrInvalidTicket for a bad signature, ErrTicketNotFound for an
// unknown or already-redeemed ticket, and ErrAlreadySubscribed when the
// account already holds any subscription.
func (m *Manager) Redeem(ctx context.Context, token string) (*RedeemResult, error) {
	res, err := m.redeem(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTicket), errors.Is(err, ErrTicketNotFound):
			m.metrics.RecordRedeem("invalid_ticket")
		case errors.Is(err, ErrAlreadySubscribed):
			m.metrics.RecordRedeem("conflict")
		default:
			m.metrics.RecordRedeem("error")
		}
		return nil, err
	}
	m.metrics.RecordRedeem("success")
	return res, nil
}

func (m *Manager) redeem(ctx context.Context, token string) (*RedeemResult, error) {
	id, err := m.verifyTicketToken(token)
	if err != nil {
		return nil, err
	}

	ticket, err := m.storage.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	user, err := m.storage.GetUserByEmail(ctx, ticket.Email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}
	if user == nil {
		user, err = m.storage.CreateGuestUser(ctx, GuestProfile{Email: ticket.Email})
		if err != nil {
			return nil, fmt.Errorf("creating guest user: %w", err)
		}
	}

	accountCode, err := m.EnsureAccountCode(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	existing, err := m.gateway.ListSubscriptions(ctx, accountCode)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking existing subscriptions: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("account %s already has a subscription: %w", accountCode, ErrAlreadySubscribed)
	}

	// Manual collection so the trial starts without billing info; flipped to
	// automatic at renewal so the first real charge collects normally.
	sub, err := m.gateway.CreateSubscription(ctx, &NewSubscription{
		PlanCode:         m.config.FreebiePlanCode,
		Currency:         m.config.Currency,
		CollectionMethod: "manual",
		TrialEndsAt:      m.now().AddDate(0, 0, ticket.FreeDays),
		CouponCode:       ticket.CouponCode,
		Account: Account{
			AccountCode: accountCode,
			Email:       user.Email,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}

	if err := m.gateway.ReviseSubscriptionAtRenewal(ctx, sub.UUID, "automatic"); err != nil {
		// The subscription exists; aborting now would strand the ticket
		// behind the duplicate guard. Collection stays manual until fixed.
		m.logger.Warn("collection method flip failed",
			Field{Key: "subscription_uuid", Value: sub.UUID},
			Field{Key: "error", Value: err.Error()})
	}

	snap, err := m.Sync(ctx, user.ID, nil)
	if err != nil && !errors.Is(err, ErrNoSubscriptions) {
		return nil, fmt.Errorf("reconciling after redemption: %w", err)
	}

	if err := m.storage.DeleteTicket(ctx, id); err != nil {
		m.logger.Warn("ticket delete failed after redemption",
			Field{Key: "ticket_id", Value: id},
			Field{Key: "error", Value: err.Error()})
	}

	m.logger.Info("ticket redeemed",
		Field{Key: "ticket_id", Value: id},
		Field{Key: "user_id", Value: user.ID},
		Field{Key: "plan_code", Value: m.config.FreebiePlanCode},
		Field{Key: "free_days", Value: ticket.FreeDays})
	return &RedeemResult{
		User:        user,
		Snapshot:    snap,
		RedirectURL: m.config.RedirectAfterRedeem,
	}, nil
}
