package auth

import (
	"fmt"

	"serviceelectro.org/internal/errs"
)

// Token validation failures. All of them wrap errs.ErrTokenInvalid so the
// gate can reject uniformly while logs keep the specific reason.
var (
	ErrTokenMalformed = fmt.Errorf("%w: malformed", errs.ErrTokenInvalid)
	ErrTokenExpired   = fmt.Errorf("%w: expired", errs.ErrTokenInvalid)
	ErrTokenSignature = fmt.Errorf("%w: signature mismatch", errs.ErrTokenInvalid)
	ErrTokenIssuer    = fmt.Errorf("%w: unexpected issuer", errs.ErrTokenInvalid)
	ErrTokenMissing   = fmt.Errorf("%w: missing bearer token", errs.ErrTokenInvalid)
)

// ErrInvalidCredentials is the single error returned for every failed login.
var ErrInvalidCredentials = fmt.Errorf("%w: email or password is incorrect", errs.ErrInvalidCredentials)
