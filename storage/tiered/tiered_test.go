package tiered

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okredo/go-recurly/pkg/gorecurly"
	"github.com/okredo/go-recurly/storage/memory"
)

func setupTiered(t *testing.T) (*Storage, *memory.Storage, *memory.Storage) {
	t.Helper()

	hot := memory.New()
	cold := memory.New()
	tiered, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	return tiered, hot, cold
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Hot: memory.New()})
	assert.Error(t, err)

	_, err = New(Config{Cold: memory.New()})
	assert.Error(t, err)
}

func TestUserOperationsHitCold(t *testing.T) {
	tiered, _, cold := setupTiered(t)
	ctx := context.Background()

	user, err := tiered.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "alice@example.com"})
	require.NoError(t, err)

	// Visible through Cold directly.
	fromCold, err := cold.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", fromCold.Email)

	byEmail, err := tiered.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestSnapshotWriteThrough(t *testing.T) {
	tiered, hot, cold := setupTiered(t)
	ctx := context.Background()

	snap := &gorecurly.Snapshot{PlanCode: "gold", State: gorecurly.StateActive}
	require.NoError(t, tiered.SetSnapshot(ctx, 1, snap))

	fromHot, err := hot.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "gold", fromHot.PlanCode)

	fromCold, err := cold.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "gold", fromCold.PlanCode)
}

func TestSnapshotReadThrough(t *testing.T) {
	tiered, hot, cold := setupTiered(t)
	ctx := context.Background()

	// Present only in Cold, as after a cache restart.
	require.NoError(t, cold.SetSnapshot(ctx, 1, &gorecurly.Snapshot{PlanCode: "gold", State: gorecurly.StateActive}))

	snap, err := tiered.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "gold", snap.PlanCode)

	// The miss populated Hot.
	fromHot, err := hot.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "gold", fromHot.PlanCode)
}

func TestSnapshotMissing(t *testing.T) {
	tiered, _, _ := setupTiered(t)
	_, err := tiered.GetSnapshot(context.Background(), 42)
	assert.ErrorIs(t, err, gorecurly.ErrSnapshotNotFound)
}

func TestAccountCodeColdPicksWinner(t *testing.T) {
	tiered, hot, cold := setupTiered(t)
	ctx := context.Background()

	// Cold already holds a code; the tiered write must surface it and warm
	// Hot with the same winner.
	_, err := cold.SetAccountCodeIfAbsent(ctx, 1, "existing")
	require.NoError(t, err)

	winner, err := tiered.SetAccountCodeIfAbsent(ctx, 1, "challenger")
	require.NoError(t, err)
	assert.Equal(t, "existing", winner)

	fromHot, err := hot.GetAccountCode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "existing", fromHot)
}

func TestAccountCodeReadThrough(t *testing.T) {
	tiered, hot, cold := setupTiered(t)
	ctx := context.Background()

	_, err := cold.SetAccountCodeIfAbsent(ctx, 1, "code-1")
	require.NoError(t, err)

	code, err := tiered.GetAccountCode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "code-1", code)

	fromHot, err := hot.GetAccountCode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "code-1", fromHot)
}

func TestCreatedDateWriteOnceAcrossTiers(t *testing.T) {
	tiered, _, cold := setupTiered(t)
	ctx := context.Background()

	first := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tiered.SetCreatedDateIfAbsent(ctx, 1, first))
	require.NoError(t, tiered.SetCreatedDateIfAbsent(ctx, 1, first.AddDate(1, 0, 0)))

	got, err := tiered.GetCreatedDate(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Equal(first))

	fromCold, err := cold.GetCreatedDate(ctx, 1)
	require.NoError(t, err)
	assert.True(t, fromCold.Equal(first))
}

func TestTicketDeleteEvictsHot(t *testing.T) {
	tiered, hot, _ := setupTiered(t)
	ctx := context.Background()

	ticket := &gorecurly.Ticket{ID: "ticket-1", Email: "a@example.com", FreeDays: 14, CreatedAt: time.Now()}
	require.NoError(t, tiered.SaveTicket(ctx, ticket))

	fromHot, err := hot.GetTicket(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", fromHot.Email)

	require.NoError(t, tiered.DeleteTicket(ctx, "ticket-1"))

	_, err = tiered.GetTicket(ctx, "ticket-1")
	assert.ErrorIs(t, err, gorecurly.ErrTicketNotFound)
	_, err = hot.GetTicket(ctx, "ticket-1")
	assert.ErrorIs(t, err, gorecurly.ErrTicketNotFound)
}
