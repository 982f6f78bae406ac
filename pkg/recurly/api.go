package recurly

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// GetAccount fetches an account profile.
func (c *Client) GetAccount(ctx context.Context, accountCode string) (*gorecurly.Account, error) {
	var out xmlAccount
	path := "/accounts/" + url.PathEscape(accountCode)
	if err := c.do(ctx, http.MethodGet, path, "get_account", nil, &out); err != nil {
		return nil, err
	}
	return out.toAccount(), nil
}

// UpdateAccountEmail replaces the account's email address.
func (c *Client) UpdateAccountEmail(ctx context.Context, accountCode, email string) error {
	path := "/accounts/" + url.PathEscape(accountCode)
	return c.do(ctx, http.MethodPut, path, "update_account", &xmlAccountUpdate{Email: email}, nil)
}

// ListSubscriptions returns every subscription under the account in the
// provider's order.
func (c *Client) ListSubscriptions(ctx context.Context, accountCode string) ([]gorecurly.Subscription, error) {
	var out xmlSubscriptionList
	path := "/accounts/" + url.PathEscape(accountCode) + "/subscriptions"
	if err := c.do(ctx, http.MethodGet, path, "list_subscriptions", nil, &out); err != nil {
		return nil, err
	}
	subs := make([]gorecurly.Subscription, 0, len(out.Subscriptions))
	for i := range out.Subscriptions {
		subs = append(subs, out.Subscriptions[i].toSubscription())
	}
	return subs, nil
}

// GetSubscription fetches one subscription by uuid.
func (c *Client) GetSubscription(ctx context.Context, uuid string) (*gorecurly.Subscription, error) {
	var out xmlSubscription
	path := "/subscriptions/" + url.PathEscape(uuid)
	if err := c.do(ctx, http.MethodGet, path, "get_subscription", nil, &out); err != nil {
		return nil, err
	}
	sub := out.toSubscription()
	return &sub, nil
}

// CreateSubscription creates a subscription for the embedded account.
func (c *Client) CreateSubscription(ctx context.Context, sub *gorecurly.NewSubscription) (*gorecurly.Subscription, error) {
	body := &xmlNewSubscription{
		PlanCode:         sub.PlanCode,
		Currency:         sub.Currency,
		CollectionMethod: sub.CollectionMethod,
		NetTerms:         sub.NetTerms,
		CouponCode:       sub.CouponCode,
		Account: xmlSubAccount{
			AccountCode: sub.Account.AccountCode,
			Email:       sub.Account.Email,
			FirstName:   sub.Account.FirstName,
			LastName:    sub.Account.LastName,
			CompanyName: sub.Account.CompanyName,
		},
	}
	if !sub.TrialEndsAt.IsZero() {
		t := sub.TrialEndsAt
		body.TrialEndsAt = &xmlTime{Time: &t}
	}

	var out xmlSubscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", "create_subscription", body, &out); err != nil {
		return nil, err
	}
	created := out.toSubscription()
	return &created, nil
}

// ReviseSubscriptionAtRenewal queues a collection-method change for the next
// renewal.
func (c *Client) ReviseSubscriptionAtRenewal(ctx context.Context, uuid, collectionMethod string) error {
	body := &xmlSubscriptionUpdate{Timeframe: "renewal", CollectionMethod: collectionMethod}
	path := "/subscriptions/" + url.PathEscape(uuid)
	return c.do(ctx, http.MethodPut, path, "update_subscription", body, nil)
}

// CancelSubscription marks the subscription to expire at period end.
func (c *Client) CancelSubscription(ctx context.Context, uuid string) error {
	path := "/subscriptions/" + url.PathEscape(uuid) + "/cancel"
	return c.do(ctx, http.MethodPut, path, "cancel_subscription", nil, nil)
}

// TerminateSubscription ends the subscription immediately with the given
// refund behavior.
func (c *Client) TerminateSubscription(ctx context.Context, uuid string, refund gorecurly.RefundType) error {
	if refund == "" {
		refund = gorecurly.RefundNone
	}
	path := fmt.Sprintf("/subscriptions/%s/terminate?refund=%s", url.PathEscape(uuid), url.QueryEscape(string(refund)))
	return c.do(ctx, http.MethodPut, path, "terminate_subscription", nil, nil)
}

// ListTransactions returns the account's transactions, most recent first,
// filtered by the query.
func (c *Client) ListTransactions(ctx context.Context, accountCode string, q gorecurly.TransactionQuery) ([]gorecurly.Transaction, error) {
	params := url.Values{}
	if q.State != "" {
		params.Set("state", q.State)
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.PerPage > 0 {
		params.Set("per_page", fmt.Sprintf("%d", q.PerPage))
	}
	path := "/accounts/" + url.PathEscape(accountCode) + "/transactions"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out xmlTransactionList
	if err := c.do(ctx, http.MethodGet, path, "list_transactions", nil, &out); err != nil {
		return nil, err
	}
	txs := make([]gorecurly.Transaction, 0, len(out.Transactions))
	for i := range out.Transactions {
		txs = append(txs, out.Transactions[i].toTransaction())
	}
	return txs, nil
}

// GetCouponRedemption returns the coupon currently redeemed on the account.
func (c *Client) GetCouponRedemption(ctx context.Context, accountCode string) (*gorecurly.CouponRedemption, error) {
	var out xmlRedemption
	path := "/accounts/" + url.PathEscape(accountCode) + "/redemption"
	if err := c.do(ctx, http.MethodGet, path, "get_redemption", nil, &out); err != nil {
		return nil, err
	}
	return out.toRedemption(), nil
}

// ListRedeemableCoupons returns coupons in the redeemable state.
func (c *Client) ListRedeemableCoupons(ctx context.Context) ([]gorecurly.Coupon, error) {
	var out xmlCouponList
	if err := c.do(ctx, http.MethodGet, "/coupons?state=redeemable", "list_coupons", nil, &out); err != nil {
		return nil, err
	}
	coupons := make([]gorecurly.Coupon, 0, len(out.Coupons))
	for _, coupon := range out.Coupons {
		coupons = append(coupons, gorecurly.Coupon{
			CouponCode: coupon.CouponCode,
			Name:       coupon.Name,
			State:      coupon.State,
		})
	}
	return coupons, nil
}

// BillingInfo is the card summary returned when exchanging a recurly.js
// result token.
type BillingInfo struct {
	AccountCode string
	FirstName   string
	LastName    string
	CardType    string
	Year        int
	Month       int
	FirstSix    string
	LastFour    string
}

// FetchBillingToken exchanges a one-time recurly.js result token for the
// billing info it captured.
func (c *Client) FetchBillingToken(ctx context.Context, token string) (*BillingInfo, error) {
	var out xmlBillingInfo
	path := "/recurly_js/result/" + url.PathEscape(token)
	if err := c.do(ctx, http.MethodGet, path, "fetch_token", nil, &out); err != nil {
		return nil, err
	}
	return &BillingInfo{
		AccountCode: out.Account.id(),
		FirstName:   out.FirstName,
		LastName:    out.LastName,
		CardType:    out.CardType,
		Year:        out.Year,
		Month:       out.Month,
		FirstSix:    out.FirstSix,
		LastFour:    out.LastFour,
	}, nil
}
