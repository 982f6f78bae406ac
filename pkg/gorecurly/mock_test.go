package gorecurly

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// testNow is the fixed clock used across the package tests.
var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

// fakeStorage is an in-memory Storage with the same atomicity guarantees the
// interface demands.
type fakeStorage struct {
	mu           sync.Mutex
	nextID       int64
	users        map[int64]*User
	usersByEmail map[string]int64
	accountCodes map[int64]string
	snapshots    map[int64]*Snapshot
	createdDates map[int64]time.Time
	legacyCaps   map[int64][]string
	tickets      map[string]*Ticket

	snapshotWrites int
	failSetSnap    error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		nextID:       1,
		users:        make(map[int64]*User),
		usersByEmail: make(map[string]int64),
		accountCodes: make(map[int64]string),
		snapshots:    make(map[int64]*Snapshot),
		createdDates: make(map[int64]time.Time),
		legacyCaps:   make(map[int64][]string),
		tickets:      make(map[string]*Ticket),
	}
}

func (s *fakeStorage) addUser(user User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.nextID
	}
	if user.ID >= s.nextID {
		s.nextID = user.ID + 1
	}
	stored := user
	s.users[stored.ID] = &stored
	s.usersByEmail[strings.ToLower(stored.Email)] = stored.ID
	out := stored
	return &out
}

func (s *fakeStorage) GetUser(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *user
	return &c, nil
}

func (s *fakeStorage) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *s.users[id]
	return &c, nil
}

func (s *fakeStorage) CreateGuestUser(ctx context.Context, profile GuestProfile) (*User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("guest user requires an email")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(profile.Email)
	if _, exists := s.usersByEmail[key]; exists {
		return nil, ErrUserExists
	}
	user := &User{
		ID:        s.nextID,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Company:   profile.Company,
		Role:      RoleGuest,
	}
	s.nextID++
	s.users[user.ID] = user
	s.usersByEmail[key] = user.ID
	c := *user
	return &c, nil
}

func (s *fakeStorage) SetUserRole(ctx context.Context, userID int64, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Role = role
	return nil
}

func (s *fakeStorage) GetAccountCode(ctx context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountCodes[userID], nil
}

func (s *fakeStorage) SetAccountCodeIfAbsent(ctx context.Context, userID int64, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.accountCodes[userID]; existing != "" {
		return existing, nil
	}
	s.accountCodes[userID] = code
	return code, nil
}

func (s *fakeStorage) FindUserByAccountCode(ctx context.Context, code string) (*User, error) {
	if code == "" {
		return nil, ErrUserNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, stored := range s.accountCodes {
		if stored == code {
			c := *s.users[userID]
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *fakeStorage) GetSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[userID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	c := *snap
	return &c, nil
}

func (s *fakeStorage) SetSnapshot(ctx context.Context, userID int64, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetSnap != nil {
		return s.failSetSnap
	}
	s.snapshotWrites++
	c := *snap
	s.snapshots[userID] = &c
	return nil
}

func (s *fakeStorage) GetCreatedDate(ctx context.Context, userID int64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdDates[userID], nil
}

func (s *fakeStorage) SetCreatedDateIfAbsent(ctx context.Context, userID int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.createdDates[userID]; !exists {
		s.createdDates[userID] = t
	}
	return nil
}

func (s *fakeStorage) GetLegacyCapabilities(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.legacyCaps[userID]...), nil
}

func (s *fakeStorage) SaveTicket(ctx context.Context, ticket *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *ticket
	s.tickets[ticket.ID] = &c
	return nil
}

func (s *fakeStorage) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	c := *ticket
	return &c, nil
}

func (s *fakeStorage) DeleteTicket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, id)
	return nil
}

// fakeGateway is a scriptable Gateway.
type fakeGateway struct {
	mu sync.Mutex

	accounts    map[string]*Account
	subs        map[string][]Subscription
	txs         map[string][]Transaction
	redemptions map[string]*CouponRedemption
	coupons     []Coupon

	listSubsErr  error
	listTxErr    error
	getAccErr    error
	createErr    error
	redeemErr    error
	couponsErr   error
	reviseErr    error
	cancelErr    error
	terminateErr error

	created        []*NewSubscription
	revised        []string
	canceled       []string
	terminated     []string
	emailUpdates   map[string]string
	calls          map[string]int
	updateEmailErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts:     make(map[string]*Account),
		subs:         make(map[string][]Subscription),
		txs:          make(map[string][]Transaction),
		redemptions:  make(map[string]*CouponRedemption),
		emailUpdates: make(map[string]string),
		calls:        make(map[string]int),
	}
}

func (g *fakeGateway) record(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[name]++
}

func (g *fakeGateway) callCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) GetAccount(ctx context.Context, accountCode string) (*Account, error) {
	g.record("get_account")
	if g.getAccErr != nil {
		return nil, g.getAccErr
	}
	acc, ok := g.accounts[accountCode]
	if !ok {
		return nil, ErrNotFound
	}
	c := *acc
	return &c, nil
}

func (g *fakeGateway) UpdateAccountEmail(ctx context.Context, accountCode, email string) error {
	g.record("update_email")
	if g.updateEmailErr != nil {
		return g.updateEmailErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emailUpdates[accountCode] = email
	return nil
}

func (g *fakeGateway) ListSubscriptions(ctx context.Context, accountCode string) ([]Subscription, error) {
	g.record("list_subscriptions")
	if g.listSubsErr != nil {
		return nil, g.listSubsErr
	}
	return append([]Subscription(nil), g.subs[accountCode]...), nil
}

func (g *fakeGateway) GetSubscription(ctx context.Context, uuid string) (*Subscription, error) {
	g.record("get_subscription")
	for _, subs := range g.subs {
		for i := range subs {
			if subs[i].UUID == uuid {
				c := subs[i]
				return &c, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, sub *NewSubscription) (*Subscription, error) {
	g.record("create_subscription")
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.mu.Lock()
	g.created = append(g.created, sub)
	g.mu.Unlock()
	trialEnds := sub.TrialEndsAt
	created := Subscription{
		UUID:             fmt.Sprintf("sub-%d", len(g.created)),
		PlanCode:         sub.PlanCode,
		State:            StateActive,
		Currency:         sub.Currency,
		CollectionMethod: sub.CollectionMethod,
		TrialEndsAt:      &trialEnds,
	}
	g.subs[sub.Account.AccountCode] = append(g.subs[sub.Account.AccountCode], created)
	return &created, nil
}

func (g *fakeGateway) ReviseSubscriptionAtRenewal(ctx context.Context, uuid, collectionMethod string) error {
	g.record("revise_subscription")
	if g.reviseErr != nil {
		return g.reviseErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revised = append(g.revised, uuid)
	return nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, uuid string) error {
	g.record("cancel_subscription")
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, uuid)
	return nil
}

func (g *fakeGateway) TerminateSubscription(ctx context.Context, uuid string, refund RefundType) error {
	g.record("terminate_subscription")
	if g.terminateErr != nil {
		return g.terminateErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminated = append(g.terminated, uuid)
	return nil
}

func (g *fakeGateway) ListTransactions(ctx context.Context, accountCode string, q TransactionQuery) ([]Transaction, error) {
	g.record("list_transactions")
	if g.listTxErr != nil {
		return nil, g.listTxErr
	}
	txs := g.txs[accountCode]
	if q.PerPage > 0 && len(txs) > q.PerPage {
		txs = txs[:q.PerPage]
	}
	return append([]Transaction(nil), txs...), nil
}

func (g *fakeGateway) GetCouponRedemption(ctx context.Context, accountCode string) (*CouponRedemption, error) {
	g.record("get_redemption")
	if g.redeemErr != nil {
		return nil, g.redeemErr
	}
	r, ok := g.redemptions[accountCode]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (g *fakeGateway) ListRedeemableCoupons(ctx context.Context) ([]Coupon, error) {
	g.record("list_coupons")
	if g.couponsErr != nil {
		return nil, g.couponsErr
	}
	return append([]Coupon(nil), g.coupons...), nil
}

// recordingMailer captures sent email.
type recordingMailer struct {
	mu      sync.Mutex
	sent    []*Email
	sendErr error
}

func (m *recordingMailer) Send(ctx context.Context, msg *Email) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func newTestManager(storage *fakeStorage, gateway *fakeGateway) (*Manager, *recordingMailer) {
	mailer := &recordingMailer{}
	m, err := NewManager(storage, gateway, Config{
		WebhookUsername:   "hookuser",
		WebhookPassword:   "hookpass",
		TicketSecret:      "ticket-secret",
		RedemptionBaseURL: "https://example.com/do",
		SupportContact:    "support@example.com",
		InviteFrom:        "invites@example.com",
		InviteSubject:     "You are invited",
		Mailer:            mailer,
		Now:               func() time.Time { return testNow },
	})
	if err != nil {
		panic(err)
	}
	return m, mailer
}

func ts(t time.Time) string { return t.UTC().Format(TimestampLayout) }

func tp(t time.Time) *time.Time { return &t }
