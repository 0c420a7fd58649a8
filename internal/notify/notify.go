// Package notify persists owner notifications produced by other services.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/ids"
)

// Notification is one message addressed to a user.
type Notification struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"userId"`
	Message     string    `json:"message"`
	Kind        string    `json:"kind"`
	ReferenceID int64     `json:"referenceId"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	SaveNotification(ctx context.Context, n Notification) error
	ListForUser(ctx context.Context, userID int64) ([]Notification, error)
	MarkRead(ctx context.Context, userID int64, id string) error
}

// Dispatcher assigns identifiers and timestamps and hands notifications to the store.
type Dispatcher struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

// Option configures Dispatcher.
type Option func(*Dispatcher)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher constructs a Dispatcher over store.
func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates and persists n, returning the stored notification.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (Notification, error) {
	if n.UserID <= 0 {
		return Notification{}, errs.Invalid("userId", "is required")
	}
	n.Kind = strings.TrimSpace(n.Kind)
	if n.Kind == "" {
		return Notification{}, errs.Invalid("kind", "is required")
	}
	now := d.now().UTC()
	n.ID = ids.NewAt(now)
	n.CreatedAt = now
	n.Read = false
	if err := d.store.SaveNotification(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("save notification: %w", err)
	}
	d.log.Debug().Str("notification_id", n.ID).Int64("user_id", n.UserID).Str("kind", n.Kind).Msg("notification stored")
	return n, nil
}

// Notify adapts Dispatch to the moderation engine's notifier contract.
func (d *Dispatcher) Notify(ctx context.Context, userID int64, message, kind string, referenceID int64) error {
	_, err := d.Dispatch(ctx, Notification{
		UserID:      userID,
		Message:     message,
		Kind:        kind,
		ReferenceID: referenceID,
	})
	return err
}

// ListForUser returns the user's notifications, newest first.
func (d *Dispatcher) ListForUser(ctx context.Context, userID int64) ([]Notification, error) {
	return d.store.ListForUser(ctx, userID)
}

// MarkRead marks one of the user's notifications as read.
func (d *Dispatcher) MarkRead(ctx context.Context, userID int64, id string) error {
	if !ids.Valid(id) {
		return errs.NotFound("notification", id)
	}
	return d.store.MarkRead(ctx, userID, id)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	byUser map[int64][]Notification
}

// NewInMemory creates an empty notification store.
func NewInMemory() *InMemory {
	return &InMemory{byUser: make(map[int64][]Notification)}
}

func (s *InMemory) SaveNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n)
	return nil
}

func (s *InMemory) ListForUser(_ context.Context, userID int64) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]Notification(nil), s.byUser[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *InMemory) MarkRead(_ context.Context, userID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byUser[userID]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return nil
		}
	}
	return errs.NotFound("notification", id)
}
