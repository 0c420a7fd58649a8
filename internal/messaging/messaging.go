// Package messaging carries direct messages between marketplace users.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/ids"
	"serviceelectro.org/internal/obs"
)

// Message is one direct message. IDs are ULIDs, so ordering by ID is
// ordering by send time.
type Message struct {
	ID         string    `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SendInput is the caller-supplied part of a new message.
type SendInput struct {
	ReceiverID int64  `json:"receiverId" validate:"required,gt=0"`
	Content    string `json:"content" validate:"required,max=2000"`
}

// Store persists messages.
type Store interface {
	SaveMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	// ListInbox and ListSent return newest first.
	ListInbox(ctx context.Context, receiverID int64) ([]Message, error)
	ListSent(ctx context.Context, senderID int64) ([]Message, error)
	// ListConversation returns both directions between two users, oldest first.
	ListConversation(ctx context.Context, userA, userB int64) ([]Message, error)
	ListAllMessages(ctx context.Context) ([]Message, error)
	MarkMessageRead(ctx context.Context, receiverID int64, id string) error
	MarkAllMessagesRead(ctx context.Context, receiverID int64) (int, error)
	CountUnreadMessages(ctx context.Context, receiverID int64) (int, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteMessagesForUser(ctx context.Context, userID int64) (int, error)
}

// Accounts reports whether a user exists.
type Accounts interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

// Service validates and routes messages to the store.
type Service struct {
	store    Store
	accounts Accounts
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithAccounts enables receiver existence checks on Send.
func WithAccounts(a Accounts) Option {
	return func(s *Service) { s.accounts = a }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		validate: validator.New(),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send stores a message from senderID. The content is trimmed before it is
// checked, so a blank message is rejected.
func (s *Service) Send(ctx context.Context, senderID int64, in SendInput) (Message, error) {
	if senderID <= 0 {
		return Message{}, errs.Invalid("senderId", "is required")
	}
	in.Content = strings.TrimSpace(in.Content)
	if err := s.validate.Struct(in); err != nil {
		return Message{}, errs.FromValidator(err)
	}
	if s.accounts != nil {
		ok, err := s.accounts.Exists(ctx, in.ReceiverID)
		if err != nil {
			return Message{}, fmt.Errorf("check receiver: %w", err)
		}
		if !ok {
			return Message{}, errs.NotFound("account", in.ReceiverID)
		}
	}

	now := s.now().UTC()
	m := Message{
		ID:         ids.NewAt(now),
		SenderID:   senderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveMessage(ctx, m); err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}
	obs.ObserveMessageSent()
	s.log.Debug().Str("message_id", m.ID).Int64("sender_id", senderID).Int64("receiver_id", in.ReceiverID).Msg("message stored")
	return m, nil
}

// Get returns a message visible to userID: one they sent or received.
func (s *Service) Get(ctx context.Context, userID int64, id string) (Message, error) {
	if !ids.Valid(id) {
		return Message{}, errs.NotFound("message", id)
	}
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if m.SenderID != userID && m.ReceiverID != userID {
		return Message{}, errs.NotFound("message", id)
	}
	return m, nil
}

func (s *Service) Inbox(ctx context.Context, userID int64) ([]Message, error) {
	return s.store.ListInbox(ctx, userID)
}

func (s *Service) Sent(ctx context.Context, userID int64) ([]Message, error) {
	return s.store.ListSent(ctx, userID)
}

func (s *Service) Conversation(ctx context.Context, userID, otherID int64) ([]Message, error) {
	return s.store.ListConversation(ctx, userID, otherID)
}

// All lists every message, for moderation.
func (s *Service) All(ctx context.Context) ([]Message, error) {
	return s.store.ListAllMessages(ctx)
}

// MarkRead marks a message received by receiverID as read. Messages
// addressed to someone else are reported as not found.
func (s *Service) MarkRead(ctx context.Context, receiverID int64, id string) error {
	if !ids.Valid(id) {
		return errs.NotFound("message", id)
	}
	return s.store.MarkMessageRead(ctx, receiverID, id)
}

// MarkAllRead marks the receiver's whole inbox as read and returns how many
// messages changed.
func (s *Service) MarkAllRead(ctx context.Context, receiverID int64) (int, error) {
	return s.store.MarkAllMessagesRead(ctx, receiverID)
}

func (s *Service) UnreadCount(ctx context.Context, receiverID int64) (int, error) {
	return s.store.CountUnreadMessages(ctx, receiverID)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if !ids.Valid(id) {
		return errs.NotFound("message", id)
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("message_id", id).Msg("message deleted")
	return nil
}

// DeleteByOwner removes every message the user sent or received, so the
// service can be registered as content owned by an account.
func (s *Service) DeleteByOwner(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.DeleteMessagesForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete messages of user %d: %w", userID, err)
	}
	return n, nil
}
