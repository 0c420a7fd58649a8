package account

import (
	"context"
	"sort"
	"sync"
	"time"

	"serviceelectro.org/internal/errs"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	seq     int64
	byID    map[int64]*Account
	byEmail map[string]int64
	now     func() time.Time
}

// NewInMemory creates an empty account store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[int64]*Account),
		byEmail: make(map[string]int64),
		now:     time.Now,
	}
}

func (s *InMemory) CreateAccount(_ context.Context, a Account) (Account, error) {
	email := NormalizeEmail(a.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return Account{}, ErrEmailTaken
	}
	s.seq++
	now := s.now().UTC()
	a.ID = s.seq
	a.Email = email
	a.Role = ParseRole(string(a.Role))
	a.CreatedAt = now
	a.UpdatedAt = now
	stored := a
	s.byID[a.ID] = &stored
	s.byEmail[email] = a.ID
	return a, nil
}

func (s *InMemory) GetAccount(_ context.Context, id int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, errs.NotFound("account", id)
	}
	return *a, nil
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (Account, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return Account{}, errs.NotFound("account", email)
	}
	return *s.byID[id], nil
}

func (s *InMemory) ListAccounts(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) DeleteAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return errs.NotFound("account", id)
	}
	delete(s.byEmail, a.Email)
	delete(s.byID, id)
	return nil
}

func (s *InMemory) SetOnline(_ context.Context, id int64, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return errs.NotFound("account", id)
	}
	a.Online = online
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *InMemory) SetEmailVerified(_ context.Context, id int64, verified bool) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, errs.NotFound("account", id)
	}
	a.EmailVerified = verified
	a.UpdatedAt = s.now().UTC()
	return *a, nil
}
