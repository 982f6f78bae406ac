// Package redis provides a Redis implementation of the gorecurly.Storage
// interface. Create-if-absent writes use SETNX so concurrent first writers
// agree on one value.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// Storage implements gorecurly.Storage using Redis.
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gorecurly:").
	KeyPrefix string

	// TicketTTL expires unredeemed invitation tickets (0 = no expiration).
	TicketTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "gorecurly:",
		TicketTTL: 0,
	}
}

// New creates a new Redis storage adapter. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "gorecurly:"
	}
	return &Storage{client: client, config: config}, nil
}

func (s *Storage) key(parts ...string) string {
	return s.config.KeyPrefix + strings.Join(parts, ":")
}

func (s *Storage) userKey(id int64) string { return s.key("user", strconv.FormatInt(id, 10)) }

func (s *Storage) emailKey(email string) string {
	return s.key("user_email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Storage) getJSON(ctx context.Context, key string, out interface{}, missing error) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return missing
	}
	if err != nil {
		return fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return json.Unmarshal(raw, out)
}

func (s *Storage) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return nil
}

// GetUser implements gorecurly.Storage.
func (s *Storage) GetUser(ctx context.Context, id int64) (*gorecurly.User, error) {
	var user gorecurly.User
	if err := s.getJSON(ctx, s.userKey(id), &user, gorecurly.ErrUserNotFound); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail implements gorecurly.Storage.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*gorecurly.User, error) {
	raw, err := s.client.Get(ctx, s.emailKey(email)).Result()
	if err == redis.Nil {
		return nil, gorecurly.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt email index for %s: %w", email, err)
	}
	return s.GetUser(ctx, id)
}

// CreateGuestUser implements gorecurly.Storage. The email index entry is
// claimed with SETNX so concurrent creates for one address yield one user.
func (s *Storage) CreateGuestUser(ctx context.Context, profile gorecurly.GuestProfile) (*gorecurly.User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("guest user requires an email")
	}

	id, err := s.client.Incr(ctx, s.key("next_user_id")).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}

	claimed, err := s.client.SetNX(ctx, s.emailKey(profile.Email), strconv.FormatInt(id, 10), 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	if !claimed {
		return nil, gorecurly.ErrUserExists
	}

	user := &gorecurly.User{
		ID:        id,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Company:   profile.Company,
		Role:      gorecurly.RoleGuest,
	}
	if err := s.setJSON(ctx, s.userKey(id), user, 0); err != nil {
		return nil, err
	}
	return user, nil
}

// SetUserRole implements gorecurly.Storage.
func (s *Storage) SetUserRole(ctx context.Context, userID int64, role gorecurly.Role) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.Role = role
	return s.setJSON(ctx, s.userKey(userID), user, 0)
}

// GetAccountCode implements gorecurly.Storage.
func (s *Storage) GetAccountCode(ctx context.Context, userID int64) (string, error) {
	code, err := s.client.Get(ctx, s.key("account_code", strconv.FormatInt(userID, 10))).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return code, nil
}

// SetAccountCodeIfAbsent implements gorecurly.Storage. SETNX decides the
// winner; only the winner writes the reverse index.
func (s *Storage) SetAccountCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error) {
	forward := s.key("account_code", strconv.FormatInt(userID, 10))

	claimed, err := s.client.SetNX(ctx, forward, code, 0).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	if !claimed {
		return s.GetAccountCode(ctx, userID)
	}

	reverse := s.key("account_code_rev", code)
	if err := s.client.Set(ctx, reverse, strconv.FormatInt(userID, 10), 0).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return code, nil
}

// FindUserByAccountCode implements gorecurly.Storage.
func (s *Storage) FindUserByAccountCode(ctx context.Context, code string) (*gorecurly.User, error) {
	if code == "" {
		return nil, gorecurly.ErrUserNotFound
	}
	raw, err := s.client.Get(ctx, s.key("account_code_rev", code)).Result()
	if err == redis.Nil {
		return nil, gorecurly.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt account code index for %s: %w", code, err)
	}
	return s.GetUser(ctx, id)
}

// GetSnapshot implements gorecurly.Storage.
func (s *Storage) GetSnapshot(ctx context.Context, userID int64) (*gorecurly.Snapshot, error) {
	var snap gorecurly.Snapshot
	key := s.key("snapshot", strconv.FormatInt(userID, 10))
	if err := s.getJSON(ctx, key, &snap, gorecurly.ErrSnapshotNotFound); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SetSnapshot implements gorecurly.Storage.
func (s *Storage) SetSnapshot(ctx context.Context, userID int64, snap *gorecurly.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	return s.setJSON(ctx, s.key("snapshot", strconv.FormatInt(userID, 10)), snap, 0)
}

// GetCreatedDate implements gorecurly.Storage.
func (s *Storage) GetCreatedDate(ctx context.Context, userID int64) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.key("created", strconv.FormatInt(userID, 10))).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return time.Parse(time.RFC3339, raw)
}

// SetCreatedDateIfAbsent implements gorecurly.Storage.
func (s *Storage) SetCreatedDateIfAbsent(ctx context.Context, userID int64, t time.Time) error {
	key := s.key("created", strconv.FormatInt(userID, 10))
	if err := s.client.SetNX(ctx, key, t.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return nil
}

// GetLegacyCapabilities implements gorecurly.Storage.
func (s *Storage) GetLegacyCapabilities(ctx context.Context, userID int64) ([]string, error) {
	caps, err := s.client.SMembers(ctx, s.key("legacy_caps", strconv.FormatInt(userID, 10))).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return caps, nil
}

// AddLegacyCapability stores an externally maintained capability flag, e.g.
// "subscriber-lifetime" granted by a migration.
func (s *Storage) AddLegacyCapability(ctx context.Context, userID int64, capability string) error {
	key := s.key("legacy_caps", strconv.FormatInt(userID, 10))
	if err := s.client.SAdd(ctx, key, capability).Err(); err != nil {
		return fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return nil
}

// SaveTicket implements gorecurly.Storage.
func (s *Storage) SaveTicket(ctx context.Context, ticket *gorecurly.Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return fmt.Errorf("invalid ticket")
	}
	return s.setJSON(ctx, s.key("ticket", ticket.ID), ticket, s.config.TicketTTL)
}

// GetTicket implements gorecurly.Storage.
func (s *Storage) GetTicket(ctx context.Context, id string) (*gorecurly.Ticket, error) {
	var ticket gorecurly.Ticket
	if err := s.getJSON(ctx, s.key("ticket", id), &ticket, gorecurly.ErrTicketNotFound); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// DeleteTicket implements gorecurly.Storage.
func (s *Storage) DeleteTicket(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key("ticket", id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
	}
	return nil
}
