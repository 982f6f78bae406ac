// Package memory provides an in-memory implementation of the
// gorecurly.Storage interface. Primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

// Storage implements gorecurly.Storage using in-memory maps.
type Storage struct {
	mu           sync.RWMutex
	nextID       int64
	users        map[int64]*gorecurly.User
	usersByEmail map[string]int64
	accountCodes map[int64]string
	snapshots    map[int64]*gorecurly.Snapshot
	createdDates map[int64]time.Time
	legacyCaps   map[int64][]string
	tickets      map[string]*gorecurly.Ticket
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		nextID:       1,
		users:        make(map[int64]*gorecurly.User),
		usersByEmail: make(map[string]int64),
		accountCodes: make(map[int64]string),
		snapshots:    make(map[int64]*gorecurly.Snapshot),
		createdDates: make(map[int64]time.Time),
		legacyCaps:   make(map[int64][]string),
		tickets:      make(map[string]*gorecurly.Ticket),
	}
}

// AddUser inserts an existing user record, for seeding tests and examples.
// A zero ID is assigned the next free one. Returns the stored user.
func (s *Storage) AddUser(user gorecurly.User) *gorecurly.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		user.ID = s.nextID
	}
	if user.ID >= s.nextID {
		s.nextID = user.ID + 1
	}
	if user.Role == "" {
		user.Role = gorecurly.RoleGuest
	}
	stored := user
	s.users[stored.ID] = &stored
	s.usersByEmail[normalizeEmail(stored.Email)] = stored.ID

	out := stored
	return &out
}

// SetLegacyCapabilities seeds a user's legacy capability record.
func (s *Storage) SetLegacyCapabilities(userID int64, caps []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacyCaps[userID] = append([]string(nil), caps...)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetUser implements gorecurly.Storage.
func (s *Storage) GetUser(ctx context.Context, id int64) (*gorecurly.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, gorecurly.ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

// GetUserByEmail implements gorecurly.Storage.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*gorecurly.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[normalizeEmail(email)]
	if !ok {
		return nil, gorecurly.ErrUserNotFound
	}
	userCopy := *s.users[id]
	return &userCopy, nil
}

// CreateGuestUser implements gorecurly.Storage.
func (s *Storage) CreateGuestUser(ctx context.Context, profile gorecurly.GuestProfile) (*gorecurly.User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("guest user requires an email")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeEmail(profile.Email)
	if _, exists := s.usersByEmail[key]; exists {
		return nil, gorecurly.ErrUserExists
	}

	user := &gorecurly.User{
		ID:        s.nextID,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Company:   profile.Company,
		Role:      gorecurly.RoleGuest,
	}
	s.nextID++
	s.users[user.ID] = user
	s.usersByEmail[key] = user.ID

	userCopy := *user
	return &userCopy, nil
}

// SetUserRole implements gorecurly.Storage.
func (s *Storage) SetUserRole(ctx context.Context, userID int64, role gorecurly.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return gorecurly.ErrUserNotFound
	}
	user.Role = role
	return nil
}

// GetAccountCode implements gorecurly.Storage.
func (s *Storage) GetAccountCode(ctx context.Context, userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountCodes[userID], nil
}

// SetAccountCodeIfAbsent implements gorecurly.Storage.
func (s *Storage) SetAccountCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.accountCodes[userID]; existing != "" {
		return existing, nil
	}
	s.accountCodes[userID] = code
	return code, nil
}

// FindUserByAccountCode implements gorecurly.Storage.
func (s *Storage) FindUserByAccountCode(ctx context.Context, code string) (*gorecurly.User, error) {
	if code == "" {
		return nil, gorecurly.ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for userID, stored := range s.accountCodes {
		if stored == code {
			userCopy := *s.users[userID]
			return &userCopy, nil
		}
	}
	return nil, gorecurly.ErrUserNotFound
}

// GetSnapshot implements gorecurly.Storage.
func (s *Storage) GetSnapshot(ctx context.Context, userID int64) (*gorecurly.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[userID]
	if !ok {
		return nil, gorecurly.ErrSnapshotNotFound
	}
	snapCopy := *snap
	return &snapCopy, nil
}

// SetSnapshot implements gorecurly.Storage.
func (s *Storage) SetSnapshot(ctx context.Context, userID int64, snap *gorecurly.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := *snap
	s.snapshots[userID] = &snapCopy
	return nil
}

// GetCreatedDate implements gorecurly.Storage.
func (s *Storage) GetCreatedDate(ctx context.Context, userID int64) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdDates[userID], nil
}

// SetCreatedDateIfAbsent implements gorecurly.Storage.
func (s *Storage) SetCreatedDateIfAbsent(ctx context.Context, userID int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.createdDates[userID]; !exists {
		s.createdDates[userID] = t
	}
	return nil
}

// GetLegacyCapabilities implements gorecurly.Storage.
func (s *Storage) GetLegacyCapabilities(ctx context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.legacyCaps[userID]...), nil
}

// SaveTicket implements gorecurly.Storage.
func (s *Storage) SaveTicket(ctx context.Context, ticket *gorecurly.Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return fmt.Errorf("invalid ticket")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticketCopy := *ticket
	s.tickets[ticket.ID] = &ticketCopy
	return nil
}

// GetTicket implements gorecurly.Storage.
func (s *Storage) GetTicket(ctx context.Context, id string) (*gorecurly.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, gorecurly.ErrTicketNotFound
	}
	ticketCopy := *ticket
	return &ticketCopy, nil
}

// DeleteTicket implements gorecurly.Storage.
func (s *Storage) DeleteTicket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, id)
	return nil
}
