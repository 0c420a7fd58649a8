package account

import (
	"context"
	"strings"
	"time"
)

// Role is the coarse authorization level of an account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole normalizes a stored or claimed role. Blank input is USER.
func ParseRole(s string) Role {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(RoleUser):
		return RoleUser
	case string(RoleAdmin):
		return RoleAdmin
	default:
		return Role(strings.ToUpper(strings.TrimSpace(s)))
	}
}

// ValidRole reports whether s names a known role. Blank counts as USER.
func ValidRole(s string) bool {
	r := ParseRole(s)
	return r == RoleUser || r == RoleAdmin
}

// Account is a persisted user account.
type Account struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username,omitempty"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	Online        bool      `json:"online"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DisplayName is the username when set, otherwise the login email.
func (a Account) DisplayName() string {
	if name := strings.TrimSpace(a.Username); name != "" {
		return name
	}
	return a.Email
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store persists accounts. Email lookups are case-insensitive. Implementations
// return errs.ErrNotFound for unknown ids and errs.ErrConflict for duplicate emails.
type Store interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	SetOnline(ctx context.Context, id int64, online bool) error
	SetEmailVerified(ctx context.Context, id int64, verified bool) (Account, error)
}
