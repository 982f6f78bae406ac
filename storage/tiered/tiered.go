// Package tiered layers a fast ephemeral storage (Hot) in front of a durable
// one (Cold). Snapshot, account-code, created-date, and ticket reads are
// served read-through from Hot; every write goes to Cold first and is then
// mirrored into Hot. User directory operations always hit Cold, which is the
// source of truth.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// Config configures the tiered storage.
type Config struct {
	// Hot is the cache layer (e.g. Redis or memory). Capability checks read
	// the snapshot on every request; Hot keeps that off the durable store.
	Hot gorecurly.Storage

	// Cold is the durable layer (e.g. Postgres) and the source of truth.
	Cold gorecurly.Storage

	// OnCacheError is called when a Hot mirror write fails. The operation
	// itself has already succeeded against Cold. Optional.
	OnCacheError func(error)
}

// Storage implements gorecurly.Storage over a Hot/Cold pair.
type Storage struct {
	hot  gorecurly.Storage
	cold gorecurly.Storage
	conf Config
}

var _ gorecurly.Storage = (*Storage)(nil)

// New creates a tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}
	return &Storage{hot: config.Hot, cold: config.Cold, conf: config}, nil
}

func (s *Storage) cacheErr(err error) {
	if err != nil && s.conf.OnCacheError != nil {
		s.conf.OnCacheError(err)
	}
}

// GetUser reads from Cold; the user directory is not cached.
func (s *Storage) GetUser(ctx context.Context, id int64) (*gorecurly.User, error) {
	return s.cold.GetUser(ctx, id)
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*gorecurly.User, error) {
	return s.cold.GetUserByEmail(ctx, email)
}

func (s *Storage) CreateGuestUser(ctx context.Context, profile gorecurly.GuestProfile) (*gorecurly.User, error) {
	return s.cold.CreateGuestUser(ctx, profile)
}

func (s *Storage) SetUserRole(ctx context.Context, userID int64, role gorecurly.Role) error {
	return s.cold.SetUserRole(ctx, userID, role)
}

// GetAccountCode is read-through: a Hot hit is served directly, a miss is
// loaded from Cold and mirrored.
func (s *Storage) GetAccountCode(ctx context.Context, userID int64) (string, error) {
	if code, err := s.hot.GetAccountCode(ctx, userID); err == nil && code != "" {
		return code, nil
	}

	code, err := s.cold.GetAccountCode(ctx, userID)
	if err != nil || code == "" {
		return code, err
	}
	_, merr := s.hot.SetAccountCodeIfAbsent(ctx, userID, code)
	s.cacheErr(merr)
	return code, nil
}

// SetAccountCodeIfAbsent lets Cold pick the winner, then mirrors it into Hot.
func (s *Storage) SetAccountCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error) {
	winner, err := s.cold.SetAccountCodeIfAbsent(ctx, userID, code)
	if err != nil {
		return "", err
	}
	_, merr := s.hot.SetAccountCodeIfAbsent(ctx, userID, winner)
	s.cacheErr(merr)
	return winner, nil
}

func (s *Storage) FindUserByAccountCode(ctx context.Context, code string) (*gorecurly.User, error) {
	return s.cold.FindUserByAccountCode(ctx, code)
}

// GetSnapshot is read-through.
func (s *Storage) GetSnapshot(ctx context.Context, userID int64) (*gorecurly.Snapshot, error) {
	if snap, err := s.hot.GetSnapshot(ctx, userID); err == nil {
		return snap, nil
	}

	snap, err := s.cold.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheErr(s.hot.SetSnapshot(ctx, userID, snap))
	return snap, nil
}

// SetSnapshot is write-through, Cold first.
func (s *Storage) SetSnapshot(ctx context.Context, userID int64, snap *gorecurly.Snapshot) error {
	if err := s.cold.SetSnapshot(ctx, userID, snap); err != nil {
		return err
	}
	s.cacheErr(s.hot.SetSnapshot(ctx, userID, snap))
	return nil
}

func (s *Storage) GetCreatedDate(ctx context.Context, userID int64) (time.Time, error) {
	if t, err := s.hot.GetCreatedDate(ctx, userID); err == nil && !t.IsZero() {
		return t, nil
	}

	t, err := s.cold.GetCreatedDate(ctx, userID)
	if err != nil || t.IsZero() {
		return t, err
	}
	s.cacheErr(s.hot.SetCreatedDateIfAbsent(ctx, userID, t))
	return t, nil
}

func (s *Storage) SetCreatedDateIfAbsent(ctx context.Context, userID int64, t time.Time) error {
	if err := s.cold.SetCreatedDateIfAbsent(ctx, userID, t); err != nil {
		return err
	}
	s.cacheErr(s.hot.SetCreatedDateIfAbsent(ctx, userID, t))
	return nil
}

// GetLegacyCapabilities reads from Cold; legacy records are externally
// maintained and have no write path to mirror through.
func (s *Storage) GetLegacyCapabilities(ctx context.Context, userID int64) ([]string, error) {
	return s.cold.GetLegacyCapabilities(ctx, userID)
}

func (s *Storage) SaveTicket(ctx context.Context, ticket *gorecurly.Ticket) error {
	if err := s.cold.SaveTicket(ctx, ticket); err != nil {
		return err
	}
	s.cacheErr(s.hot.SaveTicket(ctx, ticket))
	return nil
}

func (s *Storage) GetTicket(ctx context.Context, id string) (*gorecurly.Ticket, error) {
	if ticket, err := s.hot.GetTicket(ctx, id); err == nil {
		return ticket, nil
	}
	return s.cold.GetTicket(ctx, id)
}

// DeleteTicket evicts Hot first; a spent ticket must not come back from a
// stale cache hit after the durable delete.
func (s *Storage) DeleteTicket(ctx context.Context, id string) error {
	s.cacheErr(s.hot.DeleteTicket(ctx, id))
	return s.cold.DeleteTicket(ctx, id)
}
