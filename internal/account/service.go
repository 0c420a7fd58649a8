package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"serviceelectro.org/internal/errs"
)

// ErrEmailTaken is returned when signing up with an email that already exists.
var ErrEmailTaken = errs.Conflict("an account with this email already exists")

// Hasher produces password digests for new accounts.
type Hasher interface {
	Hash(plaintext string) (string, error)
}

// OwnedContent is content that must disappear together with its owner.
type OwnedContent interface {
	DeleteByOwner(ctx context.Context, ownerID int64) (int, error)
}

// SignupInput is the payload of a self-service signup.
type SignupInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Username string `json:"username" validate:"max=64"`
}

// Service implements account lifecycle operations.
type Service struct {
	store    Store
	hasher   Hasher
	owned    []OwnedContent
	validate *validator.Validate
	log      zerolog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithOwnedContent registers content deleted together with its owner.
func WithOwnedContent(c OwnedContent) Option {
	return func(s *Service) {
		if c != nil {
			s.owned = append(s.owned, c)
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService constructs a Service.
func NewService(store Store, hasher Hasher, opts ...Option) *Service {
	s := &Service{
		store:    store,
		hasher:   hasher,
		validate: validator.New(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup creates a USER account. The email is normalized and must be unique
// regardless of case.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Account, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := s.validate.Struct(in); err != nil {
		return Account{}, errs.FromValidator(err)
	}
	return s.create(ctx, in, RoleUser)
}

// EnsureAdmin creates an ADMIN account unless the email is already registered.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, username string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return false, err
	}
	_, err := s.create(ctx, SignupInput{Email: email, Password: password, Username: strings.TrimSpace(username)}, RoleAdmin)
	if errors.Is(err, ErrEmailTaken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info().Str("email", email).Msg("bootstrap admin account created")
	return true, nil
}

func (s *Service) create(ctx context.Context, in SignupInput, role Role) (Account, error) {
	if _, err := s.store.FindByEmail(ctx, in.Email); err == nil {
		return Account{}, ErrEmailTaken
	} else if !errors.Is(err, errs.ErrNotFound) {
		return Account{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Account{}, err
	}
	return s.store.CreateAccount(ctx, Account{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		Role:         role,
	})
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

// List returns every account ordered by id.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.store.ListAccounts(ctx)
}

// Delete removes an account and everything it owns.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return err
	}
	for _, c := range s.owned {
		n, err := c.DeleteByOwner(ctx, id)
		if err != nil {
			return fmt.Errorf("delete content of account %d: %w", id, err)
		}
		if n > 0 {
			s.log.Debug().Int64("account_id", id).Int("deleted", n).Msg("owned content removed")
		}
	}
	return s.store.DeleteAccount(ctx, id)
}

// SetEmailVerified toggles the email verification flag.
func (s *Service) SetEmailVerified(ctx context.Context, id int64, verified bool) (Account, error) {
	return s.store.SetEmailVerified(ctx, id, verified)
}

// SetOnline flips the presence flag.
func (s *Service) SetOnline(ctx context.Context, id int64, online bool) error {
	return s.store.SetOnline(ctx, id, online)
}

// FindByEmail looks an account up by normalized email.
func (s *Service) FindByEmail(ctx context.Context, email string) (Account, error) {
	return s.store.FindByEmail(ctx, NormalizeEmail(email))
}

// Exists reports whether an account with id exists.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	return Directory{Store: s.store}.Exists(ctx, id)
}

// Directory answers existence checks directly from a Store, for services that
// Service itself cascades deletes into.
type Directory struct {
	Store Store
}

// Exists reports whether an account with id exists.
func (d Directory) Exists(ctx context.Context, id int64) (bool, error) {
	if _, err := d.Store.GetAccount(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
