package gorecurly

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAccountCodeStable(t *testing.T) {
	storage := newFakeStorage()
	user := storage.addUser(User{Email: "alice@example.com"})
	m, _ := newTestManager(storage, newFakeGateway())

	code, err := m.EnsureAccountCode(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, code, 32)

	again, err := m.EnsureAccountCode(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, code, again)

	stored, err := m.AccountCode(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, code, stored)
}

func TestEnsureAccountCodeConcurrent(t *testing.T) {
	storage := newFakeStorage()
	user := storage.addUser(User{Email: "alice@example.com"})
	m, _ := newTestManager(storage, newFakeGateway())

	const workers = 100
	codes := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := m.EnsureAccountCode(context.Background(), user.ID)
			assert.NoError(t, err)
			codes[i] = code
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, codes[0], codes[i], "all callers must observe the same code")
	}
}

func TestAccountCodeInvalidUser(t *testing.T) {
	m, _ := newTestManager(newFakeStorage(), newFakeGateway())

	_, err := m.AccountCode(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = m.EnsureAccountCode(context.Background(), -5)
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestFindUserByAccountCode(t *testing.T) {
	storage := newFakeStorage()
	user := storage.addUser(User{Email: "alice@example.com"})
	m, _ := newTestManager(storage, newFakeGateway())

	_, err := m.FindUserByAccountCode(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoAccountCode)

	_, err = m.FindUserByAccountCode(context.Background(), "nosuchcode")
	assert.ErrorIs(t, err, ErrUserNotFound)

	code, err := m.EnsureAccountCode(context.Background(), user.ID)
	require.NoError(t, err)

	found, err := m.FindUserByAccountCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}
