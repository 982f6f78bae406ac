package gorecurly

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okredo/go-recurly/pkg/gorecurly/internal"
)

const (
	maxWebhookBodyBytes      = 256 * 1024
	defaultRateLimitRequests = 100
	defaultRateLimitWindow   = time.Minute
)

// NotificationResult reports what processing one push notification did.
type NotificationResult struct {
	Notification *Notification

	// User is the resolved (or freshly created) local user, nil when the
	// notification carried neither an account code nor an email.
	User *User

	// UserCreated is true when a guest user was created for the delivery.
	UserCreated bool

	// Synced is true when a reconciliation pass ran for the user.
	Synced bool

	// SyncErr carries a failed dispatched reconciliation. It does not fail
	// the delivery; the provider's next subscription event retries naturally.
	SyncErr error
}

// ProcessNotification runs the ingestion state machine over one authenticated
// payload: parse, resolve the user, dispatch. Returned errors are the
// delivery failures the provider should retry on: ErrMalformedPayload for an
// unusable body, ErrUserNotFound for an account code no user carries, and
// user-creation failures. An unknown notification type or an unresolvable
// "no user" delivery is acknowledged without error.
func (m *Manager) ProcessNotification(ctx context.Context, payload []byte) (*NotificationResult, error) {
	n, err := ParseNotification(payload)
	if err != nil {
		return nil, err
	}
	res := &NotificationResult{Notification: n}

	switch {
	case n.Account.AccountCode != "":
		user, err := m.storage.FindUserByAccountCode(ctx, n.Account.AccountCode)
		if err != nil {
			// Deliberately hard: a 5xx makes the provider redeliver later,
			// when the user record may have caught up.
			return res, fmt.Errorf("resolving account code %q: %w", n.Account.AccountCode, err)
		}
		res.User = user

	case n.Account.Email != "":
		user, err := m.storage.GetUserByEmail(ctx, n.Account.Email)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return res, fmt.Errorf("looking up user by email: %w", err)
		}
		if user == nil {
			user, err = m.createGuestForNotification(ctx, n)
			if err != nil {
				return res, err
			}
			res.UserCreated = true
			res.Synced = true
		}
		res.User = user

	default:
		// Nothing to resolve against; acknowledge and drop.
		m.logger.Debug("notification carries no account reference",
			Field{Key: "type", Value: string(n.Type)})
		return res, nil
	}

	if res.User != nil && n.Type.TriggersSync() && !res.Synced {
		if _, serr := m.Sync(ctx, res.User.ID, notificationAccount(n)); serr != nil && !errors.Is(serr, ErrNoSubscriptions) {
			res.SyncErr = serr
			m.logger.Warn("dispatched sync failed",
				Field{Key: "type", Value: string(n.Type)},
				Field{Key: "user_id", Value: res.User.ID},
				Field{Key: "error", Value: serr.Error()})
		}
		res.Synced = true
	}

	return res, nil
}

// createGuestForNotification makes a minimal guest user from the embedded
// profile, assigns an account code, and reconciles once to seed the snapshot.
func (m *Manager) createGuestForNotification(ctx context.Context, n *Notification) (*User, error) {
	user, err := m.storage.CreateGuestUser(ctx, GuestProfile{
		Email:     n.Account.Email,
		FirstName: n.Account.FirstName,
		LastName:  n.Account.LastName,
		Company:   n.Account.CompanyName,
	})
	if err != nil {
		return nil, fmt.Errorf("creating guest user: %w", err)
	}

	if _, err := m.EnsureAccountCode(ctx, user.ID); err != nil {
		return nil, err
	}

	if _, err := m.Sync(ctx, user.ID, notificationAccount(n)); err != nil && !errors.Is(err, ErrNoSubscriptions) {
		m.logger.Warn("seed sync for created user failed",
			Field{Key: "user_id", Value: user.ID},
			Field{Key: "error", Value: err.Error()})
	}

	m.logger.Info("created guest user from notification",
		Field{Key: "user_id", Value: user.ID},
		Field{Key: "type", Value: string(n.Type)})
	return user, nil
}

// notificationAccount lifts the notification's account block into a gateway
// account so the dispatched sync skips the profile refetch. Nil when the
// notification has no account code.
func notificationAccount(n *Notification) *Account {
	if n.Account.AccountCode == "" {
		return nil
	}
	return &Account{
		AccountCode: n.Account.AccountCode,
		Email:       n.Account.Email,
		FirstName:   n.Account.FirstName,
		LastName:    n.Account.LastName,
		CompanyName: n.Account.CompanyName,
	}
}

// WebhookHandler returns the HTTP handler for provider push notifications,
// wrapped with per-IP rate limiting.
func (m *Manager) WebhookHandler() http.Handler {
	return m.webhookLimiter.Middleware(http.HandlerFunc(m.handleWebhook))
}

func (m *Manager) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if m.config.WebhookUsername == "" || m.config.WebhookPassword == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	if !m.checkWebhookAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		m.metrics.RecordWebhookError("auth_failed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			m.metrics.RecordWebhookError("payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			m.metrics.RecordWebhookError("invalid_payload")
		}
		return
	}

	res, err := m.ProcessNotification(r.Context(), body)
	notificationType := "UNKNOWN"
	if res != nil && res.Notification != nil {
		notificationType = string(res.Notification.Type)
	}

	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			m.metrics.RecordWebhookError("invalid_payload")
		} else {
			http.Error(w, "failed to process notification", http.StatusInternalServerError)
			m.metrics.RecordWebhookError("processing_error")
		}
		m.metrics.RecordWebhookEvent(notificationType, "error")
		m.metrics.RecordWebhookProcessingDuration(notificationType, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	m.metrics.RecordWebhookEvent(notificationType, "success")
	m.metrics.RecordWebhookProcessingDuration(notificationType, time.Since(startTime))
}

// checkWebhookAuth verifies basic-auth credentials in constant time.
func (m *Manager) checkWebhookAuth(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(m.config.WebhookUsername))
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(m.config.WebhookPassword))
	return userMatch&passMatch == 1
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
