package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(setupTestRedis(t), DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	s, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{})
	require.NoError(t, err)
	assert.Equal(t, "gorecurly:", s.config.KeyPrefix)
}

func TestGuestUserLifecycle(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	user, err := s.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "guest@example.com", FirstName: "G"})
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	assert.Equal(t, gorecurly.RoleGuest, user.Role)

	_, err = s.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "guest@example.com"})
	assert.ErrorIs(t, err, gorecurly.ErrUserExists)

	byEmail, err := s.GetUserByEmail(ctx, "Guest@Example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	require.NoError(t, s.SetUserRole(ctx, user.ID, gorecurly.RoleSubscriber))
	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, gorecurly.RoleSubscriber, got.Role)
}

func TestAccountCodeIfAbsent(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	user, err := s.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "code@example.com"})
	require.NoError(t, err)

	code, err := s.GetAccountCode(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, code)

	stored, err := s.SetAccountCodeIfAbsent(ctx, user.ID, "first")
	require.NoError(t, err)
	assert.Equal(t, "first", stored)

	stored, err = s.SetAccountCodeIfAbsent(ctx, user.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "first", stored)

	found, err := s.FindUserByAccountCode(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}

func TestAccountCodeConcurrentFirstWrite(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	user, err := s.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "race@example.com"})
	require.NoError(t, err)

	const workers = 100
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := s.SetAccountCodeIfAbsent(ctx, user.ID, fmt.Sprintf("code-%d", i))
			assert.NoError(t, err)
			results[i] = code
		}(i)
	}
	wg.Wait()

	for _, code := range results {
		assert.Equal(t, results[0], code)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	user, err := s.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "snap@example.com"})
	require.NoError(t, err)

	_, err = s.GetSnapshot(ctx, user.ID)
	assert.ErrorIs(t, err, gorecurly.ErrSnapshotNotFound)

	snap := &gorecurly.Snapshot{
		PlanCode:        "annual",
		State:           gorecurly.StateActive,
		AutoRenew:       true,
		ActivatedAt:     "2024-03-01T10:00:00Z",
		DidSubscription: true,
	}
	require.NoError(t, s.SetSnapshot(ctx, user.ID, snap))

	got, err := s.GetSnapshot(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestCreatedDateWriteOnce(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	user, err := s.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "dates@example.com"})
	require.NoError(t, err)

	got, err := s.GetCreatedDate(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	first := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCreatedDateIfAbsent(ctx, user.ID, first))
	require.NoError(t, s.SetCreatedDateIfAbsent(ctx, user.ID, first.AddDate(2, 0, 0)))

	got, err = s.GetCreatedDate(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(got))
}

func TestLegacyCapabilities(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	user, err := s.CreateGuestUser(ctx, gorecurly.GuestProfile{Email: "legacy@example.com"})
	require.NoError(t, err)

	caps, err := s.GetLegacyCapabilities(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, caps)

	require.NoError(t, s.AddLegacyCapability(ctx, user.ID, gorecurly.LegacyLifetimeCap))
	caps, err = s.GetLegacyCapabilities(ctx, user.ID)
	require.NoError(t, err)
	assert.Contains(t, caps, gorecurly.LegacyLifetimeCap)
}

func TestTicketLifecycle(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	ticket := &gorecurly.Ticket{
		ID:        "t-1",
		Email:     "invite@example.com",
		FreeDays:  30,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveTicket(ctx, ticket))

	got, err := s.GetTicket(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, ticket.Email, got.Email)
	assert.Equal(t, ticket.FreeDays, got.FreeDays)

	require.NoError(t, s.DeleteTicket(ctx, "t-1"))
	_, err = s.GetTicket(ctx, "t-1")
	assert.ErrorIs(t, err, gorecurly.ErrTicketNotFound)

	require.NoError(t, s.DeleteTicket(ctx, "t-1"))
}
