package service

import (
	"context"
	"sync"
	"testing"

	"github.com/digkill/TGVideoBot/internal/models"
)

type memClientStore struct {
	mu      sync.Mutex
	seq     int64
	clients map[int64]*models.Client
}

func newMemClientStore() *memClientStore {
	return &memClientStore{clients: make(map[int64]*models.Client)}
}

func (s *memClientStore) FindByID(_ context.Context, id int64) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memClientStore) FindByTelegramID(_ context.Context, telegramID int64) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.TelegramID == telegramID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memClientStore) FindByReferralCode(_ context.Context, code string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.ReferralCode == code && code != "" {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memClientStore) Create(_ context.Context, client *models.Client) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	client.ID = s.seq
	cp := *client
	s.clients[client.ID] = &cp
	return client, nil
}

func (s *memClientStore) UpdateProfile(_ context.Context, clientID int64, username, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[clientID]; ok {
		c.Username = username
		c.Name = name
	}
	return nil
}

func (s *memClientStore) SetReferralCode(_ context.Context, clientID int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[clientID]; ok && c.ReferralCode == "" {
		c.ReferralCode = code
	}
	return nil
}

func (s *memClientStore) Balance(_ context.Context, clientID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[clientID]; ok {
		return c.Balance, nil
	}
	return 0, nil
}

// memReferralStore enforces the one-referral-per-invited rule and credits
// both sides, like the SQL repository does in one transaction.
type memReferralStore struct {
	mu      sync.Mutex
	invited map[int64]int64
	clients *memClientStore
}

func newMemReferralStore(clients *memClientStore) *memReferralStore {
	return &memReferralStore{invited: make(map[int64]int64), clients: clients}
}

func (s *memReferralStore) CreateOnce(_ context.Context, inviterID, invitedID int64, inviterReward, invitedBonus int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inviterID == invitedID {
		return false, nil
	}
	if _, exists := s.invited[invitedID]; exists {
		return false, nil
	}
	s.invited[invitedID] = inviterID

	s.clients.mu.Lock()
	defer s.clients.mu.Unlock()
	if inviter, ok := s.clients.clients[inviterID]; ok {
		inviter.Balance += inviterReward
		inviter.ReferralEarnings += inviterReward
	}
	if invited, ok := s.clients.clients[invitedID]; ok {
		invited.Balance += invitedBonus
	}
	return true, nil
}

func (s *memReferralStore) CountByInviter(_ context.Context, inviterID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range s.invited {
		if id == inviterID {
			count++
		}
	}
	return count, nil
}

func newTestClientService(clients *memClientStore, referrals *memReferralStore) *ClientService {
	return NewClientService(clients, referrals, 10, 1, 1, discardLogger())
}

func TestEnsureCreatesClientOnce(t *testing.T) {
	clients := newMemClientStore()
	svc := newTestClientService(clients, newMemReferralStore(clients))

	first, err := svc.Ensure(context.Background(), 111, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first.FreeChatDailyLimit != 10 {
		t.Errorf("daily limit = %d, want 10", first.FreeChatDailyLimit)
	}

	second, err := svc.Ensure(context.Background(), 111, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("returning user got a new row: %d vs %d", second.ID, first.ID)
	}
	if len(clients.clients) != 1 {
		t.Errorf("clients = %d, want 1", len(clients.clients))
	}
}

func TestEnsureRefreshesProfile(t *testing.T) {
	clients := newMemClientStore()
	svc := newTestClientService(clients, newMemReferralStore(clients))

	c, _ := svc.Ensure(context.Background(), 111, "alice", "Alice", "")
	updated, err := svc.Ensure(context.Background(), 111, "alice_new", "Alice N", "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if updated.Username != "alice_new" || updated.Name != "Alice N" {
		t.Errorf("profile not refreshed: %+v", updated)
	}
	stored, _ := clients.FindByID(context.Background(), c.ID)
	if stored.Username != "alice_new" {
		t.Errorf("stored username = %q", stored.Username)
	}
}

func TestReferralAppliedOnFirstContactOnly(t *testing.T) {
	clients := newMemClientStore()
	referrals := newMemReferralStore(clients)
	svc := newTestClientService(clients, referrals)

	inviter, _ := svc.Ensure(context.Background(), 111, "alice", "Alice", "")
	code, err := svc.ReferralCode(context.Background(), inviter)
	if err != nil {
		t.Fatalf("ReferralCode: %v", err)
	}

	invited, err := svc.Ensure(context.Background(), 222, "bob", "Bob", code)
	if err != nil {
		t.Fatalf("Ensure invited: %v", err)
	}
	if invited.Balance != 1 {
		t.Errorf("invited bonus = %d, want 1", invited.Balance)
	}

	inviterAfter, _ := clients.FindByID(context.Background(), inviter.ID)
	if inviterAfter.Balance != 1 || inviterAfter.ReferralEarnings != 1 {
		t.Errorf("inviter reward not credited: %+v", inviterAfter)
	}

	// A second /start with the same code must not reward again.
	if _, err := svc.Ensure(context.Background(), 222, "bob", "Bob", code); err != nil {
		t.Fatalf("repeat Ensure: %v", err)
	}
	inviterAfter, _ = clients.FindByID(context.Background(), inviter.ID)
	if inviterAfter.Balance != 1 {
		t.Errorf("repeat start double-credited inviter: balance=%d", inviterAfter.Balance)
	}
}

func TestSelfInviteIgnored(t *testing.T) {
	clients := newMemClientStore()
	referrals := newMemReferralStore(clients)
	svc := newTestClientService(clients, referrals)

	// Mint a code for a client, then register a fresh telegram account
	// whose code belongs to itself; only the true self-invite path is
	// exercised through the store rule.
	inviter, _ := svc.Ensure(context.Background(), 111, "alice", "Alice", "")
	code, _ := svc.ReferralCode(context.Background(), inviter)

	ok, err := referrals.CreateOnce(context.Background(), inviter.ID, inviter.ID, 1, 1)
	if err != nil {
		t.Fatalf("CreateOnce: %v", err)
	}
	if ok {
		t.Error("self-invite must be rejected")
	}
	_ = code
}

func TestUnknownReferralCodeIsHarmless(t *testing.T) {
	clients := newMemClientStore()
	svc := newTestClientService(clients, newMemReferralStore(clients))

	invited, err := svc.Ensure(context.Background(), 222, "bob", "Bob", "nosuchcode")
	if err != nil {
		t.Fatalf("Ensure with bad code: %v", err)
	}
	if invited.Balance != 0 {
		t.Errorf("bad code granted a bonus: %d", invited.Balance)
	}
}

func TestReferralCodeStable(t *testing.T) {
	clients := newMemClientStore()
	svc := newTestClientService(clients, newMemReferralStore(clients))

	c, _ := svc.Ensure(context.Background(), 111, "alice", "Alice", "")
	first, err := svc.ReferralCode(context.Background(), c)
	if err != nil {
		t.Fatalf("ReferralCode: %v", err)
	}
	if len(first) != 8 {
		t.Errorf("code %q, want 8 characters", first)
	}
	second, err := svc.ReferralCode(context.Background(), c)
	if err != nil {
		t.Fatalf("second ReferralCode: %v", err)
	}
	if second != first {
		t.Errorf("code changed between calls: %q vs %q", first, second)
	}
}

func TestReferralStats(t *testing.T) {
	clients := newMemClientStore()
	referrals := newMemReferralStore(clients)
	svc := newTestClientService(clients, referrals)

	inviter, _ := svc.Ensure(context.Background(), 111, "alice", "Alice", "")
	code, _ := svc.ReferralCode(context.Background(), inviter)
	if _, err := svc.Ensure(context.Background(), 222, "bob", "Bob", code); err != nil {
		t.Fatalf("Ensure invited: %v", err)
	}
	if _, err := svc.Ensure(context.Background(), 333, "carol", "Carol", code); err != nil {
		t.Fatalf("Ensure invited: %v", err)
	}

	fresh, _ := clients.FindByID(context.Background(), inviter.ID)
	gotCode, invited, earned, err := svc.ReferralStats(context.Background(), fresh)
	if err != nil {
		t.Fatalf("ReferralStats: %v", err)
	}
	if gotCode != code || invited != 2 || earned != 2 {
		t.Errorf("stats = (%q, %d, %d), want (%q, 2, 2)", gotCode, invited, earned, code)
	}
}
