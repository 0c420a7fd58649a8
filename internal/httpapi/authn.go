package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"serviceelectro.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingToken = errors.New("missing bearer token")
	errAuthScheme   = errors.New("invalid authorization scheme")
)

// withAuth enforces the route policy before the mux sees the request.
// Public routes pass straight through; everything else needs a valid
// bearer token, and admin routes additionally need the ADMIN role.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access := a.policy.Decide(r.Method, r.URL.Path)
		if access == auth.AccessPublic {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.unauthorized(w, r, err)
			return
		}
		principal, err := a.auth.Authenticate(token)
		if err != nil {
			a.unauthorized(w, r, err)
			return
		}

		if access == auth.AccessAdmin && !principal.IsAdmin() {
			a.log.Debug().
				Int64("user_id", principal.UserID).
				Str("path", r.URL.Path).
				Msg("admin route denied")
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) unauthorized(w http.ResponseWriter, r *http.Request, reason error) {
	a.log.Debug().
		Err(reason).
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("authentication failed")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	writeError(w, r, http.StatusUnauthorized, "authentication required")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errAuthScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
