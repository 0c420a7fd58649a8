package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"serviceelectro.org/internal/account"
	"serviceelectro.org/internal/audit"
	"serviceelectro.org/internal/auth"
	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/messaging"
	"serviceelectro.org/internal/moderation"
	"serviceelectro.org/internal/notify"
	"serviceelectro.org/internal/obs"
)

const (
	serviceName  = "serviceelectro-api"
	maxBodyBytes = 1 << 20
)

var errEmptyBody = errors.New("request body is required")

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe is a simple readiness check, a database ping when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain services behind the HTTP surface.
type Services struct {
	Auth          *auth.Service
	Accounts      *account.Service
	Moderation    *moderation.Engine
	Notifications *notify.Dispatcher
	Messages      *messaging.Service
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	auth          *auth.Service
	policy        *auth.Policy
	accounts      *account.Service
	moderation    *moderation.Engine
	notifications *notify.Dispatcher
	messages      *messaging.Service

	uploadDir      string
	allowedOrigins []string
	rateBurst      int
	ratePerSec     int
	validate       *validator.Validate
	log            zerolog.Logger
}

// Option configures API.
type Option func(*API)

// WithPolicy replaces the default route policy table.
func WithPolicy(p *auth.Policy) Option {
	return func(a *API) {
		if p != nil {
			a.policy = p
		}
	}
}

// WithUploadDir sets the directory served under /api/pub/files/.
func WithUploadDir(dir string) Option {
	return func(a *API) { a.uploadDir = strings.TrimSpace(dir) }
}

// WithLoginRateLimit sets the per-client token bucket on the login endpoint.
func WithLoginRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// WithAllowedOrigins sets the CORS origins in addition to localhost.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.allowedOrigins = append(a.allowedOrigins, origins...) }
}

// WithLogger sets the logger used for gate and error diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(a *API) { a.log = l }
}

// New builds the API and registers its routes.
func New(rp readinessChecker, version string, svc Services, opts ...Option) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		auth:          svc.Auth,
		policy:        auth.DefaultPolicy(),
		accounts:      svc.Accounts,
		moderation:    svc.Moderation,
		notifications: svc.Notifications,
		messages:      svc.Messages,
		uploadDir:     "uploads",
		rateBurst:     5,
		ratePerSec:    1,
		validate:      newValidator(),
		log:           obs.Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth and signup
	a.mux.Handle("POST /api/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), a.rateBurst, a.ratePerSec))
	a.mux.HandleFunc("POST /api/auth/logout/{userId}", a.handleLogout)
	a.mux.HandleFunc("GET /api/auth/me", a.handleMe)
	a.mux.HandleFunc("POST /api/users", a.handleSignup)

	// publications
	a.mux.HandleFunc("GET /api/pub", a.handleListPublic)
	a.mux.HandleFunc("GET /api/pub/page", a.handleListPublicationsPage)
	a.mux.HandleFunc("GET /api/pub/files/{name...}", a.handleFile)
	a.mux.HandleFunc("GET /api/pub/{id}", a.handleGetPublic)
	a.mux.HandleFunc("POST /api/pub", a.handleCreatePublication)
	a.mux.HandleFunc("GET /api/pub/user/{userId}", a.handleListByOwner)
	a.mux.HandleFunc("PUT /api/pub/{id}", a.handleUpdatePublication)
	a.mux.HandleFunc("DELETE /api/pub/{id}", a.handleDeletePublication)
	a.mux.HandleFunc("POST /api/pub/{id}/file", a.handleUploadFile)

	// notifications
	a.mux.HandleFunc("GET /api/notifications", a.handleListNotifications)
	a.mux.HandleFunc("POST /api/notifications/{id}/read", a.handleMarkNotificationRead)

	// messages
	a.mux.HandleFunc("POST /api/messages", a.handleSendMessage)
	a.mux.HandleFunc("GET /api/messages/inbox", a.handleInbox)
	a.mux.HandleFunc("GET /api/messages/sent", a.handleSent)
	a.mux.HandleFunc("GET /api/messages/unread-count", a.handleUnreadCount)
	a.mux.HandleFunc("POST /api/messages/read-all", a.handleMarkAllMessagesRead)
	a.mux.HandleFunc("GET /api/messages/conversation/{userId}", a.handleConversation)
	a.mux.HandleFunc("GET /api/messages/{id}", a.handleGetMessage)
	a.mux.HandleFunc("POST /api/messages/{id}/read", a.handleMarkMessageRead)

	// admin: users
	a.mux.HandleFunc("GET /api/admin/users", a.handleAdminListUsers)
	a.mux.HandleFunc("GET /api/admin/users/{id}", a.handleAdminGetUser)
	a.mux.HandleFunc("DELETE /api/admin/users/{id}", a.handleAdminDeleteUser)
	a.mux.HandleFunc("POST /api/admin/users/{id}/verify-email", a.handleAdminSetEmailVerified(true))
	a.mux.HandleFunc("POST /api/admin/users/{id}/unverify-email", a.handleAdminSetEmailVerified(false))

	// admin: publications
	a.mux.HandleFunc("GET /api/admin/publications", a.handleAdminListPublications)
	a.mux.HandleFunc("GET /api/admin/publications/unverified", a.handleAdminListUnverified)
	a.mux.HandleFunc("GET /api/admin/publications/status/{status}", a.handleAdminListByStatus)
	a.mux.HandleFunc("GET /api/admin/publications/{id}", a.handleAdminGetPublication)
	a.mux.HandleFunc("POST /api/admin/publications/{id}/verify", a.handleAdminVerify)
	a.mux.HandleFunc("POST /api/admin/publications/{id}/unverify", a.handleAdminUnverify)
	a.mux.HandleFunc("PUT /api/admin/publications/{id}/status", a.handleAdminSetStatus)
	a.mux.HandleFunc("PUT /api/admin/publications/{id}/catalog", a.handleAdminSetFlag("catalog"))
	a.mux.HandleFunc("PUT /api/admin/publications/{id}/publications", a.handleAdminSetFlag("publications"))
	a.mux.HandleFunc("DELETE /api/admin/publications/{id}", a.handleAdminDeletePublication)

	// admin: messages
	a.mux.HandleFunc("GET /api/admin/messages", a.handleAdminListMessages)
	a.mux.HandleFunc("DELETE /api/admin/messages/{id}", a.handleAdminDeleteMessage)

	// legacy admin aliases under /api/pub/admin
	a.mux.HandleFunc("GET /api/pub/admin/all", a.handleAdminListPublications)
	a.mux.HandleFunc("GET /api/pub/admin/unverified", a.handleAdminListUnverified)
	a.mux.HandleFunc("POST /api/pub/admin/verify/{id}", a.handleAdminVerify)
	a.mux.HandleFunc("POST /api/pub/admin/unverify/{id}", a.handleAdminUnverify)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = CORS(h, a.allowedOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = Recover(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeList encodes a nil slice as an empty JSON array.
func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps the shared error taxonomy to a status code.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		payload := map[string]any{
			"error":  errs.ErrValidation.Error(),
			"fields": verr.Fields,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, account.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "an account with this email already exists")
	case errors.Is(err, errs.ErrInvalidCredentials):
		writeError(w, r, http.StatusBadRequest, "email or password is incorrect")
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrConflict):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrTokenInvalid):
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		a.log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeValid decodes the body and validates it with the struct's tags.
func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		a.writeServiceError(w, r, errs.FromValidator(err))
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// principal returns the caller attached by the gate.
func principal(r *http.Request) (auth.Principal, error) {
	return auth.RequirePrincipal(r.Context())
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		a.log.Warn().Err(err).Str("event", event).Msg("audit log failed")
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
