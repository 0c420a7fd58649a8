package messaging

import (
	"context"
	"sort"
	"sync"

	"serviceelectro.org/internal/errs"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	byID map[string]Message
}

// NewInMemory creates an empty message store.
func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]Message)}
}

func (s *InMemory) SaveMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; ok {
		return errs.Conflict("message " + m.ID + " already exists")
	}
	s.byID[m.ID] = m
	return nil
}

func (s *InMemory) GetMessage(_ context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return Message{}, errs.NotFound("message", id)
	}
	return m, nil
}

func (s *InMemory) ListInbox(_ context.Context, receiverID int64) ([]Message, error) {
	return s.collect(func(m Message) bool { return m.ReceiverID == receiverID }, newestFirst), nil
}

func (s *InMemory) ListSent(_ context.Context, senderID int64) ([]Message, error) {
	return s.collect(func(m Message) bool { return m.SenderID == senderID }, newestFirst), nil
}

func (s *InMemory) ListConversation(_ context.Context, userA, userB int64) ([]Message, error) {
	return s.collect(func(m Message) bool {
		return (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA)
	}, oldestFirst), nil
}

func (s *InMemory) ListAllMessages(_ context.Context) ([]Message, error) {
	return s.collect(func(Message) bool { return true }, newestFirst), nil
}

func (s *InMemory) MarkMessageRead(_ context.Context, receiverID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok || m.ReceiverID != receiverID {
		return errs.NotFound("message", id)
	}
	m.Read = true
	s.byID[id] = m
	return nil
}

func (s *InMemory) MarkAllMessagesRead(_ context.Context, receiverID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.byID {
		if m.ReceiverID == receiverID && !m.Read {
			m.Read = true
			s.byID[id] = m
			n++
		}
	}
	return n, nil
}

func (s *InMemory) CountUnreadMessages(_ context.Context, receiverID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.byID {
		if m.ReceiverID == receiverID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return errs.NotFound("message", id)
	}
	delete(s.byID, id)
	return nil
}

func (s *InMemory) DeleteMessagesForUser(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.byID {
		if m.SenderID == userID || m.ReceiverID == userID {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func newestFirst(a, b Message) bool { return a.ID > b.ID }

func oldestFirst(a, b Message) bool { return a.ID < b.ID }

func (s *InMemory) collect(keep func(Message) bool, less func(a, b Message) bool) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.byID {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
