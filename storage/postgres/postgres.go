// Package postgres provides a PostgreSQL implementation of the
// gorecurly.Storage interface. Create-if-absent writes use
// INSERT ... ON CONFLICT DO NOTHING so concurrent first writers agree on one
// value.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// Storage implements gorecurly.Storage using PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() {
	s.pool.Close()
}

// EnsureSchema creates the storage tables when they do not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS billing_users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'guest',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS billing_account_codes (
			user_id BIGINT PRIMARY KEY REFERENCES billing_users(id) ON DELETE CASCADE,
			code TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS billing_snapshots (
			user_id BIGINT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS billing_created_dates (
			user_id BIGINT PRIMARY KEY,
			created_date TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS billing_legacy_capabilities (
			user_id BIGINT NOT NULL,
			capability TEXT NOT NULL,
			PRIMARY KEY (user_id, capability)
		)`,
		`CREATE TABLE IF NOT EXISTS billing_tickets (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			free_days INT NOT NULL,
			coupon_code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", gorecurly.ErrStorageUnavailable, err)
}

func scanUser(row pgx.Row) (*gorecurly.User, error) {
	var user gorecurly.User
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Company, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gorecurly.ErrUserNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	user.Role = gorecurly.Role(role)
	return &user, nil
}

const userColumns = "id, email, first_name, last_name, company, role"

// GetUser implements gorecurly.Storage.
func (s *Storage) GetUser(ctx context.Context, id int64) (*gorecurly.User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM billing_users WHERE id = $1", id)
	return scanUser(row)
}

// GetUserByEmail implements gorecurly.Storage.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*gorecurly.User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM billing_users WHERE lower(email) = lower($1)", strings.TrimSpace(email))
	return scanUser(row)
}

// CreateGuestUser implements gorecurly.Storage.
func (s *Storage) CreateGuestUser(ctx context.Context, profile gorecurly.GuestProfile) (*gorecurly.User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("guest user requires an email")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO billing_users (email, first_name, last_name, company, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		profile.Email, profile.FirstName, profile.LastName, profile.Company, string(gorecurly.RoleGuest))

	var id int64
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, gorecurly.ErrUserExists
		}
		return nil, storageErr(err)
	}

	return &gorecurly.User{
		ID:        id,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Company:   profile.Company,
		Role:      gorecurly.RoleGuest,
	}, nil
}

// SetUserRole implements gorecurly.Storage.
func (s *Storage) SetUserRole(ctx context.Context, userID int64, role gorecurly.Role) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE billing_users SET role = $1 WHERE id = $2", string(role), userID)
	if err != nil {
		return storageErr(err)
	}
	if tag.RowsAffected() == 0 {
		return gorecurly.ErrUserNotFound
	}
	return nil
}

// GetAccountCode implements gorecurly.Storage.
func (s *Storage) GetAccountCode(ctx context.Context, userID int64) (string, error) {
	var code string
	err := s.pool.QueryRow(ctx,
		"SELECT code FROM billing_account_codes WHERE user_id = $1", userID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr(err)
	}
	return code, nil
}

// SetAccountCodeIfAbsent implements gorecurly.Storage. ON CONFLICT DO
// NOTHING decides the winner; the follow-up read returns whatever stuck.
func (s *Storage) SetAccountCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_account_codes (user_id, code)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, code)
	if err != nil {
		return "", storageErr(err)
	}
	return s.GetAccountCode(ctx, userID)
}

// FindUserByAccountCode implements gorecurly.Storage.
func (s *Storage) FindUserByAccountCode(ctx context.Context, code string) (*gorecurly.User, error) {
	if code == "" {
		return nil, gorecurly.ErrUserNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT u.id, u.email, u.first_name, u.last_name, u.company, u.role
		 FROM billing_users u
		 JOIN billing_account_codes c ON c.user_id = u.id
		 WHERE c.code = $1
		 LIMIT 1`, code)
	return scanUser(row)
}

// GetSnapshot implements gorecurly.Storage.
func (s *Storage) GetSnapshot(ctx context.Context, userID int64) (*gorecurly.Snapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		"SELECT data FROM billing_snapshots WHERE user_id = $1", userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gorecurly.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	var snap gorecurly.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for user %d: %w", userID, err)
	}
	return &snap, nil
}

// SetSnapshot implements gorecurly.Storage.
func (s *Storage) SetSnapshot(ctx context.Context, userID int64, snap *gorecurly.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO billing_snapshots (user_id, data, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET data = $2, updated_at = NOW()`,
		userID, raw)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// GetCreatedDate implements gorecurly.Storage.
func (s *Storage) GetCreatedDate(ctx context.Context, userID int64) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT created_date FROM billing_created_dates WHERE user_id = $1", userID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storageErr(err)
	}
	return t.UTC(), nil
}

// SetCreatedDateIfAbsent implements gorecurly.Storage.
func (s *Storage) SetCreatedDateIfAbsent(ctx context.Context, userID int64, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_created_dates (user_id, created_date)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, t.UTC())
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// GetLegacyCapabilities implements gorecurly.Storage.
func (s *Storage) GetLegacyCapabilities(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT capability FROM billing_legacy_capabilities WHERE user_id = $1", userID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var caps []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, storageErr(err)
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// AddLegacyCapability stores an externally maintained capability flag, e.g.
// "subscriber-lifetime" granted by a migration.
func (s *Storage) AddLegacyCapability(ctx context.Context, userID int64, capability string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_legacy_capabilities (user_id, capability)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		userID, capability)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// SaveTicket implements gorecurly.Storage.
func (s *Storage) SaveTicket(ctx context.Context, ticket *gorecurly.Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return fmt.Errorf("invalid ticket")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_tickets (id, email, free_days, coupon_code, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET email = $2, free_days = $3, coupon_code = $4`,
		ticket.ID, ticket.Email, ticket.FreeDays, ticket.CouponCode, ticket.CreatedAt.UTC())
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// GetTicket implements gorecurly.Storage.
func (s *Storage) GetTicket(ctx context.Context, id string) (*gorecurly.Ticket, error) {
	var ticket gorecurly.Ticket
	err := s.pool.QueryRow(ctx,
		"SELECT id, email, free_days, coupon_code, created_at FROM billing_tickets WHERE id = $1", id).
		Scan(&ticket.ID, &ticket.Email, &ticket.FreeDays, &ticket.CouponCode, &ticket.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gorecurly.ErrTicketNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &ticket, nil
}

// DeleteTicket implements gorecurly.Storage.
func (s *Storage) DeleteTicket(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM billing_tickets WHERE id = $1", id); err != nil {
		return storageErr(err)
	}
	return nil
}
