package auth

import (
	"time"

	"serviceelectro.org/internal/account"
)

// Principal is the authenticated identity of one request. It is rebuilt from
// validated token claims and never persisted.
type Principal struct {
	UserID int64        `json:"userId"`
	Email  string       `json:"email"`
	Role   account.Role `json:"role"`
}

// IsAdmin reports whether the principal carries the ADMIN role.
func (p Principal) IsAdmin() bool {
	return p.Role == account.RoleAdmin
}

// CanActFor reports whether the principal may operate on resources owned by userID.
func (p Principal) CanActFor(userID int64) bool {
	return p.IsAdmin() || (userID != 0 && p.UserID == userID)
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token       string
	ExpiresAt   time.Time
	Email       string
	Role        account.Role
	UserID      int64
	DisplayName string
}
