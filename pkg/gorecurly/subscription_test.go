package gorecurly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelSubscription(t *testing.T) {
	storage := newFakeStorage()
	gw := newFakeGateway()
	user := seedUser(storage, "code-1")
	gw.subs["code-1"] = []Subscription{{UUID: "sub-a", PlanCode: "gold", State: StateActive}}

	m, _ := newTestManager(storage, gw)
	snap, err := m.CancelSubscription(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []string{"sub-a"}, gw.canceled)
}

func TestCancelSubscriptionNoSubscriptions(t *testing.T) {
	storage := newFakeStorage()
	user := seedUser(storage, "code-1")
	m, _ := newTestManager(storage, newFakeGateway())

	_, err := m.CancelSubscription(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrNoSubscriptions)
}

func TestCancelSubscriptionNoAccountCode(t *testing.T) {
	storage := newFakeStorage()
	user := storage.addUser(User{Email: "alice@example.com"})
	m, _ := newTestManager(storage, newFakeGateway())

	_, err := m.CancelSubscription(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrNoAccountCode)
}

func TestTerminateSubscription(t *testing.T) {
	storage := newFakeStorage()
	gw := newFakeGateway()
	user := seedUser(storage, "code-1")
	gw.subs["code-1"] = []Subscription{{UUID: "sub-a", PlanCode: "gold", State: StateInTrial, TrialEndsAt: tp(testNow.AddDate(0, 0, 7))}}

	m, _ := newTestManager(storage, gw)
	_, err := m.TerminateSubscription(context.Background(), user.ID, RefundFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-a"}, gw.terminated)
}

func TestUpdateEmail(t *testing.T) {
	storage := newFakeStorage()
	gw := newFakeGateway()
	user := seedUser(storage, "code-1")
	m, _ := newTestManager(storage, gw)

	require.NoError(t, m.UpdateEmail(context.Background(), user.ID))
	assert.Equal(t, "alice@example.com", gw.emailUpdates["code-1"])
}

func TestUpdateEmailWithoutAccountCode(t *testing.T) {
	storage := newFakeStorage()
	gw := newFakeGateway()
	user := storage.addUser(User{Email: "alice@example.com"})
	m, _ := newTestManager(storage, gw)

	require.NoError(t, m.UpdateEmail(context.Background(), user.ID))
	assert.Zero(t, gw.callCount("update_email"))
}
