package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"serviceelectro.org/internal/account"
	"serviceelectro.org/internal/errs"
)

type failingPresence struct {
	*account.InMemory
}

func (f failingPresence) SetOnline(context.Context, int64, bool) error {
	return errors.New("presence unavailable")
}

func seedAccount(t *testing.T, store *account.InMemory, email, password string, role account.Role) account.Account {
	t.Helper()
	hash, err := NewBcryptHasher(bcrypt.MinCost).Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	acc, err := store.CreateAccount(context.Background(), account.Account{Email: email, PasswordHash: hash, Role: role})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acc
}

func newTestService(t *testing.T, accounts Accounts) *Service {
	t.Helper()
	return NewService(accounts, NewBcryptHasher(bcrypt.MinCost), newTestTokens(t))
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	digest, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if digest == "secret1" {
		t.Fatalf("digest must not equal plaintext")
	}
	if !h.Verify("secret1", digest) {
		t.Fatalf("expected match")
	}
	if h.Verify("secret2", digest) || h.Verify("secret1", "") || h.Verify("secret1", "not-a-hash") {
		t.Fatalf("unexpected match")
	}
	if _, err := h.Hash(""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for empty password, got %v", err)
	}
}

func TestLoginIssuesTokenAndMarksOnline(t *testing.T) {
	store := account.NewInMemory()
	acc := seedAccount(t, store, "alice@example.com", "secret1", account.RoleAdmin)
	svc := newTestService(t, store)

	res, err := svc.Login(context.Background(), "  ALICE@example.com ", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UserID != acc.ID || res.Role != account.RoleAdmin || res.Email != "alice@example.com" {
		t.Fatalf("unexpected login result %+v", res)
	}
	if res.DisplayName != "alice@example.com" {
		t.Fatalf("expected display name to fall back to email, got %q", res.DisplayName)
	}

	p, err := svc.Authenticate(res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.UserID != acc.ID || !p.IsAdmin() {
		t.Fatalf("unexpected principal %+v", p)
	}

	got, err := store.GetAccount(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Online {
		t.Fatalf("expected account to be online after login")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	store := account.NewInMemory()
	seedAccount(t, store, "bob@example.com", "secret1", account.RoleUser)
	svc := newTestService(t, store)
	ctx := context.Background()

	cases := []struct{ email, password string }{
		{"bob@example.com", "wrong"},
		{"nobody@example.com", "secret1"},
		{"", "secret1"},
		{"bob@example.com", ""},
	}
	for _, tc := range cases {
		_, err := svc.Login(ctx, tc.email, tc.password)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%q): expected ErrInvalidCredentials, got %v", tc.email, err)
		}
		if err.Error() != ErrInvalidCredentials.Error() {
			t.Fatalf("Login(%q): message leaks detail: %v", tc.email, err)
		}
	}

	acc, err := store.FindByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if acc.Online {
		t.Fatalf("failed login must not mark the account online")
	}
}

func TestLoginFailsWhenPresenceUpdateFails(t *testing.T) {
	store := account.NewInMemory()
	seedAccount(t, store, "carol@example.com", "secret1", account.RoleUser)
	svc := newTestService(t, failingPresence{store})

	if _, err := svc.Login(context.Background(), "carol@example.com", "secret1"); err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected internal failure, got %v", err)
	}
}

func TestLogoutMarksOffline(t *testing.T) {
	store := account.NewInMemory()
	acc := seedAccount(t, store, "dan@example.com", "secret1", account.RoleUser)
	svc := newTestService(t, store)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "dan@example.com", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Logout(ctx, acc.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	got, _ := store.GetAccount(ctx, acc.ID)
	if got.Online {
		t.Fatalf("expected account offline after logout")
	}
	if err := svc.Logout(ctx, 999); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found for unknown account, got %v", err)
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, err := RequirePrincipal(ctx); !errors.Is(err, errs.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid without principal, got %v", err)
	}
	ctx = ContextWithPrincipal(ctx, Principal{UserID: 9, Role: account.RoleUser})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != 9 {
		t.Fatalf("unexpected user id %d %v", id, ok)
	}
}
