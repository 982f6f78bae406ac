package gorecurly

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// NotificationType is the root element name of a provider push notification.
type NotificationType string

const (
	NotificationNewAccount         NotificationType = "new_account_notification"
	NotificationCanceledAccount    NotificationType = "canceled_account_notification"
	NotificationReactivatedAccount NotificationType = "reactivated_account_notification"
	NotificationBillingInfoUpdated NotificationType = "billing_info_updated_notification"

	NotificationNewSubscription      NotificationType = "new_subscription_notification"
	NotificationUpdatedSubscription  NotificationType = "updated_subscription_notification"
	NotificationCanceledSubscription NotificationType = "canceled_subscription_notification"
	NotificationExpiredSubscription  NotificationType = "expired_subscription_notification"
	NotificationRenewedSubscription  NotificationType = "renewed_subscription_notification"

	NotificationSuccessfulPayment NotificationType = "successful_payment_notification"
	NotificationFailedPayment     NotificationType = "failed_payment_notification"
	NotificationSuccessfulRefund  NotificationType = "successful_refund_notification"
	NotificationVoidPayment       NotificationType = "void_payment_notification"
)

var knownNotificationTypes = map[NotificationType]bool{
	NotificationNewAccount:           true,
	NotificationCanceledAccount:      true,
	NotificationReactivatedAccount:   true,
	NotificationBillingInfoUpdated:   true,
	NotificationNewSubscription:      true,
	NotificationUpdatedSubscription:  true,
	NotificationCanceledSubscription: true,
	NotificationExpiredSubscription:  true,
	NotificationRenewedSubscription:  true,
	NotificationSuccessfulPayment:    true,
	NotificationFailedPayment:        true,
	NotificationSuccessfulRefund:     true,
	NotificationVoidPayment:          true,
}

// syncNotificationTypes are the subscription-state-affecting events. Only
// these trigger a reconciliation pass; payment and dunning events are
// deliberately ignored because the follow-up subscription event carries the
// state that matters locally.
var syncNotificationTypes = map[NotificationType]bool{
	NotificationNewSubscription:     true,
	NotificationUpdatedSubscription: true,
	NotificationExpiredSubscription: true,
	NotificationRenewedSubscription: true,
	NotificationSuccessfulPayment:   true,
}

// Known reports whether the type is one the provider is documented to send.
func (t NotificationType) Known() bool { return knownNotificationTypes[t] }

// TriggersSync reports whether the notification type requires reconciling the
// affected user.
func (t NotificationType) TriggersSync() bool { return syncNotificationTypes[t] }

// NotificationAccount is the account block embedded in every notification.
type NotificationAccount struct {
	AccountCode string `xml:"account_code"`
	Username    string `xml:"username"`
	Email       string `xml:"email"`
	FirstName   string `xml:"first_name"`
	LastName    string `xml:"last_name"`
	CompanyName string `xml:"company_name"`
}

// NotificationSubscription is the subscription block carried by
// subscription-lifecycle notifications. Informational only; reconciliation
// always refetches authoritative state from the API.
type NotificationSubscription struct {
	PlanCode               string `xml:"plan>plan_code"`
	UUID                   string `xml:"uuid"`
	State                  string `xml:"state"`
	Quantity               int    `xml:"quantity"`
	TotalAmountCents       int    `xml:"total_amount_in_cents"`
	ActivatedAt            string `xml:"activated_at"`
	CanceledAt             string `xml:"canceled_at"`
	ExpiresAt              string `xml:"expires_at"`
	CurrentPeriodStartedAt string `xml:"current_period_started_at"`
	CurrentPeriodEndsAt    string `xml:"current_period_ends_at"`
	TrialStartedAt         string `xml:"trial_started_at"`
	TrialEndsAt            string `xml:"trial_ends_at"`
}

// Notification is a parsed push notification. Type is the XML root element
// name; Subscription is nil for account and payment events that omit the
// block.
type Notification struct {
	Type         NotificationType
	Account      NotificationAccount
	Subscription *NotificationSubscription
}

// notificationBody matches the child elements of any notification root.
type notificationBody struct {
	Account      NotificationAccount       `xml:"account"`
	Subscription *NotificationSubscription `xml:"subscription"`
}

// ParseNotification decodes a raw push payload. The root element name is the
// notification type; unknown roots still parse so the caller can acknowledge
// them. An empty or syntactically invalid body returns ErrMalformedPayload.
func ParseNotification(payload []byte) (*Notification, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrMalformedPayload
	}

	dec := xml.NewDecoder(bytes.NewReader(payload))
	var root xml.StartElement
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, ErrMalformedPayload
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			root = start
			break
		}
	}

	var body notificationBody
	if err := dec.DecodeElement(&body, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return &Notification{
		Type:         NotificationType(root.Name.Local),
		Account:      body.Account,
		Subscription: body.Subscription,
	}, nil
}
