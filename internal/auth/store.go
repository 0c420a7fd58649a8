package auth

import (
	"context"

	"serviceelectro.org/internal/account"
)

// Accounts is the slice of the account store the login flow needs.
type Accounts interface {
	FindByEmail(ctx context.Context, email string) (account.Account, error)
	SetOnline(ctx context.Context, id int64, online bool) error
}
