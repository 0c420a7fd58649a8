package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"serviceelectro.org/internal/account"
	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/obs"
)

// Service implements login and logout on top of the account store, the
// credential verifier and the token service.
type Service struct {
	accounts Accounts
	hasher   PasswordHasher
	tokens   *TokenService
	log      zerolog.Logger
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// NewService wires the login flow.
func NewService(accounts Accounts, hasher PasswordHasher, tokens *TokenService, opts ...ServiceOption) *Service {
	s := &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the token service used for issuing and validating.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Login verifies credentials, marks the account online and issues a token.
// A missing account and a wrong password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = account.NormalizeEmail(email)
	if email == "" || password == "" {
		obs.ObserveLogin("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}

	acc, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.log.Debug().Str("email", email).Msg("login rejected: unknown account")
			obs.ObserveLogin("invalid_credentials")
			return LoginResult{}, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		return LoginResult{}, fmt.Errorf("find account: %w", err)
	}
	if !s.hasher.Verify(password, acc.PasswordHash) {
		s.log.Debug().Int64("user_id", acc.ID).Msg("login rejected: password mismatch")
		obs.ObserveLogin("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.accounts.SetOnline(ctx, acc.ID, true); err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, fmt.Errorf("mark online: %w", err)
	}

	role := account.ParseRole(string(acc.Role))
	token, exp, err := s.tokens.Issue(Principal{UserID: acc.ID, Email: acc.Email, Role: role})
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}

	obs.ObserveLogin("success")
	s.log.Info().Int64("user_id", acc.ID).Str("role", string(role)).Msg("login succeeded")
	return LoginResult{
		Token:       token,
		ExpiresAt:   exp,
		Email:       acc.Email,
		Role:        role,
		UserID:      acc.ID,
		DisplayName: acc.DisplayName(),
	}, nil
}

// Logout marks the account offline. Outstanding tokens stay valid until they
// expire. The error is returned for the caller to report but is otherwise
// only logged here.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	if err := s.accounts.SetOnline(ctx, userID, false); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("logout presence update failed")
		return err
	}
	return nil
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(token string) (Principal, error) {
	return s.tokens.Validate(token)
}
