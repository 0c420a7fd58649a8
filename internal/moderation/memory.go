package moderation

import (
	"context"
	"sort"
	"sync"
	"time"

	"serviceelectro.org/internal/errs"
)

// InMemory implements Store with in-process concurrency safety. Updates run
// under the write lock, which gives the same isolation as a row lock.
type InMemory struct {
	mu   sync.RWMutex
	seq  int64
	pubs map[int64]*Publication
	now  func() time.Time
}

// NewInMemory creates an empty publication store.
func NewInMemory() *InMemory {
	return &InMemory{
		pubs: make(map[int64]*Publication),
		now:  time.Now,
	}
}

func (s *InMemory) CreatePublication(_ context.Context, p Publication) (Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p.ID = s.seq
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	stored := clone(p)
	s.pubs[p.ID] = &stored
	return clone(stored), nil
}

func (s *InMemory) GetPublication(_ context.Context, id int64) (Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pubs[id]
	if !ok {
		return Publication{}, errs.NotFound("publication", id)
	}
	return clone(*p), nil
}

func (s *InMemory) UpdatePublication(_ context.Context, id int64, fn func(*Publication) error) (Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pubs[id]
	if !ok {
		return Publication{}, errs.NotFound("publication", id)
	}
	work := clone(*p)
	if err := fn(&work); err != nil {
		return Publication{}, err
	}
	work.ID = id
	work.CreatedAt = p.CreatedAt
	*p = clone(work)
	return work, nil
}

func (s *InMemory) DeletePublication(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pubs[id]; !ok {
		return errs.NotFound("publication", id)
	}
	delete(s.pubs, id)
	return nil
}

func (s *InMemory) DeleteByOwner(_ context.Context, ownerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.pubs {
		if p.OwnedBy(ownerID) {
			delete(s.pubs, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemory) ListPublications(_ context.Context, f Filter) ([]Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Publication, 0, len(s.pubs))
	for _, p := range s.pubs {
		if f.Match(*p) {
			out = append(out, clone(*p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// clone copies p so callers never share pointer fields with the store.
func clone(p Publication) Publication {
	if p.VerifiedBy != nil {
		v := *p.VerifiedBy
		p.VerifiedBy = &v
	}
	if p.VerifiedAt != nil {
		v := *p.VerifiedAt
		p.VerifiedAt = &v
	}
	if p.OwnerID != nil {
		v := *p.OwnerID
		p.OwnerID = &v
	}
	if p.File != nil {
		v := *p.File
		p.File = &v
	}
	return p
}
