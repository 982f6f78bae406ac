package recurly

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// xmlTime handles Recurly's nullable datetime elements: absent elements,
// nil="nil" empties, and RFC 3339 values.
type xmlTime struct {
	Time *time.Time
}

func (t *xmlTime) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return err
	}
	t.Time = &parsed
	return nil
}

func (t xmlTime) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if t.Time == nil {
		return e.EncodeElement("", start)
	}
	return e.EncodeElement(t.Time.UTC().Format(time.RFC3339), start)
}

// href extracts the trailing path segment of a Recurly resource link, which
// is the linked record's identifier.
type href struct {
	HRef string `xml:"href,attr"`
}

func (h href) id() string {
	trimmed := strings.TrimSuffix(h.HRef, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

type xmlAccount struct {
	XMLName     xml.Name `xml:"account"`
	AccountCode string   `xml:"account_code"`
	Email       string   `xml:"email"`
	FirstName   string   `xml:"first_name"`
	LastName    string   `xml:"last_name"`
	CompanyName string   `xml:"company_name"`
	State       string   `xml:"state"`
}

func (a *xmlAccount) toAccount() *gorecurly.Account {
	return &gorecurly.Account{
		AccountCode: a.AccountCode,
		Email:       a.Email,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		CompanyName: a.CompanyName,
	}
}

type xmlAccountUpdate struct {
	XMLName xml.Name `xml:"account"`
	Email   string   `xml:"email"`
}

type xmlPlan struct {
	PlanCode string `xml:"plan_code"`
	Name     string `xml:"name"`
}

type xmlSubscription struct {
	XMLName          xml.Name `xml:"subscription"`
	Plan             xmlPlan  `xml:"plan"`
	UUID             string   `xml:"uuid"`
	State            string   `xml:"state"`
	Quantity         int      `xml:"quantity"`
	UnitAmountCents  int      `xml:"unit_amount_in_cents"`
	Currency         string   `xml:"currency"`
	CollectionMethod string   `xml:"collection_method"`

	ActivatedAt            xmlTime `xml:"activated_at"`
	CanceledAt             xmlTime `xml:"canceled_at"`
	ExpiresAt              xmlTime `xml:"expires_at"`
	CurrentPeriodStartedAt xmlTime `xml:"current_period_started_at"`
	CurrentPeriodEndsAt    xmlTime `xml:"current_period_ends_at"`
	TrialStartedAt         xmlTime `xml:"trial_started_at"`
	TrialEndsAt            xmlTime `xml:"trial_ends_at"`
}

type xmlSubscriptionList struct {
	XMLName       xml.Name          `xml:"subscriptions"`
	Subscriptions []xmlSubscription `xml:"subscription"`
}

func (s *xmlSubscription) toSubscription() gorecurly.Subscription {
	return gorecurly.Subscription{
		UUID:                   s.UUID,
		PlanCode:               s.Plan.PlanCode,
		State:                  s.State,
		Quantity:               s.Quantity,
		UnitAmountCents:        s.UnitAmountCents,
		Currency:               s.Currency,
		CollectionMethod:       s.CollectionMethod,
		ActivatedAt:            s.ActivatedAt.Time,
		CanceledAt:             s.CanceledAt.Time,
		ExpiresAt:              s.ExpiresAt.Time,
		CurrentPeriodStartedAt: s.CurrentPeriodStartedAt.Time,
		CurrentPeriodEndsAt:    s.CurrentPeriodEndsAt.Time,
		TrialStartedAt:         s.TrialStartedAt.Time,
		TrialEndsAt:            s.TrialEndsAt.Time,
	}
}

// xmlNewSubscription is the create-subscription request document.
type xmlNewSubscription struct {
	XMLName          xml.Name      `xml:"subscription"`
	PlanCode         string        `xml:"plan_code"`
	Currency         string        `xml:"currency"`
	CollectionMethod string        `xml:"collection_method,omitempty"`
	NetTerms         int           `xml:"net_terms"`
	TrialEndsAt      *xmlTime      `xml:"trial_ends_at,omitempty"`
	CouponCode       string        `xml:"coupon_code,omitempty"`
	Account          xmlSubAccount `xml:"account"`
}

type xmlSubAccount struct {
	AccountCode string `xml:"account_code"`
	Email       string `xml:"email,omitempty"`
	FirstName   string `xml:"first_name,omitempty"`
	LastName    string `xml:"last_name,omitempty"`
	CompanyName string `xml:"company_name,omitempty"`
}

// xmlSubscriptionUpdate queues subscription changes; timeframe "renewal"
// defers them to the next renewal.
type xmlSubscriptionUpdate struct {
	XMLName          xml.Name `xml:"subscription"`
	Timeframe        string   `xml:"timeframe,omitempty"`
	CollectionMethod string   `xml:"collection_method,omitempty"`
}

type xmlTransaction struct {
	UUID        string  `xml:"uuid"`
	Action      string  `xml:"action"`
	Status      string  `xml:"status"`
	AmountCents int     `xml:"amount_in_cents"`
	Reference   string  `xml:"reference"`
	Invoice     href    `xml:"invoice"`
	CreatedAt   xmlTime `xml:"created_at"`
}

type xmlTransactionList struct {
	XMLName      xml.Name         `xml:"transactions"`
	Transactions []xmlTransaction `xml:"transaction"`
}

func (t *xmlTransaction) toTransaction() gorecurly.Transaction {
	ref := t.Reference
	if ref == "" {
		ref = t.Invoice.id()
	}
	return gorecurly.Transaction{
		UUID:        t.UUID,
		Action:      t.Action,
		Status:      t.Status,
		AmountCents: t.AmountCents,
		Reference:   ref,
		CreatedAt:   t.CreatedAt.Time,
	}
}

type xmlRedemption struct {
	XMLName     xml.Name `xml:"redemption"`
	Coupon      href     `xml:"coupon"`
	CouponCode  string   `xml:"coupon_code"`
	AccountCode string   `xml:"account_code"`
	State       string   `xml:"state"`
}

func (r *xmlRedemption) toRedemption() *gorecurly.CouponRedemption {
	code := r.CouponCode
	if code == "" {
		code = r.Coupon.id()
	}
	return &gorecurly.CouponRedemption{CouponCode: code, State: r.State}
}

type xmlCoupon struct {
	CouponCode string `xml:"coupon_code"`
	Name       string `xml:"name"`
	State      string `xml:"state"`
}

type xmlCouponList struct {
	XMLName xml.Name    `xml:"coupons"`
	Coupons []xmlCoupon `xml:"coupon"`
}

type xmlErrors struct {
	XMLName xml.Name   `xml:"errors"`
	Errors  []xmlError `xml:"error"`
}

type xmlError struct {
	Field   string `xml:"field,attr"`
	Symbol  string `xml:"symbol,attr"`
	Message string `xml:",chardata"`
}

// xmlBillingInfo is returned when exchanging a recurly.js result token.
type xmlBillingInfo struct {
	XMLName          xml.Name `xml:"billing_info"`
	FirstName        string   `xml:"first_name"`
	LastName         string   `xml:"last_name"`
	CardType         string   `xml:"card_type"`
	Year             int      `xml:"year"`
	Month            int      `xml:"month"`
	FirstSix         string   `xml:"first_six"`
	LastFour         string   `xml:"last_four"`
	Account          href     `xml:"account"`
}
