package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"serviceelectro.org/internal/account"
	"serviceelectro.org/internal/auth"
	"serviceelectro.org/internal/messaging"
	"serviceelectro.org/internal/moderation"
	"serviceelectro.org/internal/notify"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin-pass"
)

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	accounts *account.Service
}

type publicationView struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Status         string  `json:"status"`
	Verified       bool    `json:"verified"`
	VerifiedBy     *int64  `json:"verifiedBy"`
	InCatalog      bool    `json:"inCatalog"`
	InPublications bool    `json:"inPublications"`
	OwnerID        *int64  `json:"ownerId"`
	File           *fileVw `json:"file"`
}

type fileVw struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type session struct {
	Token  string `json:"token"`
	UserID int64  `json:"userId"`
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	tokens, err := auth.NewTokenService("test-secret-0123456789")
	if err != nil {
		t.Fatalf("token service: %v", err)
	}

	accountStore := account.NewInMemory()
	dispatcher := notify.NewDispatcher(notify.NewInMemory())
	engine := moderation.NewEngine(moderation.NewInMemory(),
		moderation.WithOwners(account.Directory{Store: accountStore}),
		moderation.WithNotifier(dispatcher),
	)
	messages := messaging.NewService(messaging.NewInMemory(), messaging.WithAccounts(account.Directory{Store: accountStore}))
	accounts := account.NewService(accountStore, hasher, account.WithOwnedContent(engine), account.WithOwnedContent(messages))
	if _, err := accounts.EnsureAdmin(context.Background(), adminEmail, adminPassword, "root"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	opts = append([]Option{WithLoginRateLimit(100, 100), WithUploadDir(t.TempDir())}, opts...)
	api := New(ReadyProbe{}, "test", Services{
		Auth:          auth.NewService(accountStore, hasher, tokens),
		Accounts:      accounts,
		Moderation:    engine,
		Notifications: dispatcher,
		Messages:      messages,
	}, opts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		accounts: accounts,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) login(email, password string) session {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, "")
	expectStatus(c.t, resp, http.StatusOK)
	return decode[session](c.t, resp)
}

func (c *apiClient) signupAndLogin(email string) session {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/users", map[string]string{"email": email, "password": "secret1"}, "")
	expectStatus(c.t, resp, http.StatusCreated)
	resp.Body.Close()
	return c.login(email, "secret1")
}

func (c *apiClient) createPublication(token, title string) publicationView {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/pub", map[string]any{
		"title":       title,
		"description": "ceiling lamp",
		"type":        "lighting",
		"price":       49.5,
	}, token)
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[publicationView](c.t, resp)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		t.Fatalf("%s %s: expected %d, got %d: %s", r.Request.Method, r.Request.URL.Path, want, r.StatusCode, body)
	}
}

func TestSignupAndLogin(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/api/users", map[string]string{"email": "Bob@Example.com", "password": "secret1"}, "")
	expectStatus(t, resp, http.StatusCreated)
	if !strings.HasPrefix(resp.Header.Get("Location"), "/api/admin/users/") {
		t.Fatalf("unexpected Location %q", resp.Header.Get("Location"))
	}
	created := decode[map[string]any](t, resp)
	if created["email"] != "bob@example.com" || created["role"] != "USER" {
		t.Fatalf("unexpected account: %v", created)
	}
	if _, ok := created["passwordHash"]; ok {
		t.Fatal("password hash must not be exposed")
	}

	resp = c.do(http.MethodPost, "/api/users", map[string]string{"email": "BOB@example.com", "password": "secret1"}, "")
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/api/users", map[string]string{"email": "not-an-email", "password": "x"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	verr := decode[map[string]any](t, resp)
	if fields, ok := verr["fields"].([]any); !ok || len(fields) != 2 {
		t.Fatalf("expected two field errors, got %v", verr["fields"])
	}

	wrong := c.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "bob@example.com", "password": "nope"}, "")
	expectStatus(t, wrong, http.StatusBadRequest)
	wrongBody := decode[map[string]any](t, wrong)

	unknown := c.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ghost@example.com", "password": "nope"}, "")
	expectStatus(t, unknown, http.StatusBadRequest)
	unknownBody := decode[map[string]any](t, unknown)
	if wrongBody["error"] != unknownBody["error"] {
		t.Fatalf("login failures differ: %v vs %v", wrongBody["error"], unknownBody["error"])
	}

	resp = c.do(http.MethodPost, "/api/auth/login", map[string]string{"email": " BOB@example.com ", "password": "secret1"}, "")
	expectStatus(t, resp, http.StatusOK)
	out := decode[map[string]any](t, resp)
	if out["token"] == "" || out["role"] != "USER" || out["username"] != "bob@example.com" {
		t.Fatalf("unexpected login response: %v", out)
	}
	if _, ok := out["expiresAt"]; !ok {
		t.Fatal("expected expiresAt")
	}

	me := c.do(http.MethodGet, "/api/auth/me", nil, out["token"].(string))
	expectStatus(t, me, http.StatusOK)
	principal := decode[map[string]any](t, me)
	if principal["email"] != "bob@example.com" {
		t.Fatalf("unexpected principal: %v", principal)
	}

	acc, err := c.accounts.FindByEmail(context.Background(), "bob@example.com")
	if err != nil || !acc.Online {
		t.Fatalf("expected account online after login, got %+v, %v", acc, err)
	}
}

func TestGateEnforcesPolicy(t *testing.T) {
	c := newTestAPI(t)
	user := c.signupAndLogin("carol@example.com")

	for _, path := range []string{"/healthz", "/api/pub", "/api/pub/page"} {
		resp := c.do(http.MethodGet, path, nil, "")
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := c.do(http.MethodGet, "/api/notifications", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if !strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Bearer") {
		t.Fatalf("expected bearer challenge, got %q", resp.Header.Get("WWW-Authenticate"))
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/api/notifications", nil, "not-a-token")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	for _, path := range []string{"/api/admin/users", "/api/pub/admin/all", "/api/admin/publications/unverified"} {
		resp = c.do(http.MethodGet, path, nil, user.Token)
		expectStatus(t, resp, http.StatusForbidden)
		resp.Body.Close()
	}

	resp = c.do(http.MethodGet, "/api/admin/users", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	admin := c.login(adminEmail, adminPassword)
	resp = c.do(http.MethodGet, "/api/admin/users", nil, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	users := decode[[]map[string]any](t, resp)
	if len(users) != 2 {
		t.Fatalf("expected admin and carol, got %d users", len(users))
	}

	resp = c.do(http.MethodGet, "/api/nowhere", nil, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestModerationFlow(t *testing.T) {
	c := newTestAPI(t)
	owner := c.signupAndLogin("dave@example.com")
	admin := c.login(adminEmail, adminPassword)

	resp := c.do(http.MethodPost, "/api/pub", map[string]any{
		"title":       "Desk lamp",
		"description": "LED desk lamp",
		"type":        "lighting",
		"price":       25,
		"ownerId":     admin.UserID,
	}, owner.Token)
	expectStatus(t, resp, http.StatusCreated)
	pub := decode[publicationView](t, resp)
	if pub.Verified || pub.Status != moderation.StatusUntreated {
		t.Fatalf("new publication must be unverified and untreated: %+v", pub)
	}
	if pub.OwnerID == nil || *pub.OwnerID != owner.UserID {
		t.Fatalf("owner must be forced to the caller, got %v", pub.OwnerID)
	}
	path := fmt.Sprintf("/api/admin/publications/%d", pub.ID)

	resp = c.do(http.MethodGet, fmt.Sprintf("/api/pub/%d", pub.ID), nil, "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodPost, path+"/verify", nil, admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodPost, path+"/verify", map[string]int64{"adminId": admin.UserID}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	pub = decode[publicationView](t, resp)
	if !pub.Verified || pub.VerifiedBy == nil || *pub.VerifiedBy != admin.UserID {
		t.Fatalf("unexpected verified publication: %+v", pub)
	}

	resp = c.do(http.MethodPost, path+"/verify", map[string]int64{"adminId": admin.UserID}, admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/api/pub", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]publicationView](t, resp); len(got) != 0 {
		t.Fatalf("verified but not in catalog must stay hidden, got %d", len(got))
	}

	resp = c.do(http.MethodPut, path+"/catalog", map[string]any{}, admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodPut, path+"/catalog", map[string]bool{"value": true}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/api/pub", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]publicationView](t, resp); len(got) != 1 || got[0].ID != pub.ID {
		t.Fatalf("expected publication in catalog, got %+v", got)
	}

	resp = c.do(http.MethodGet, "/api/notifications", nil, owner.Token)
	expectStatus(t, resp, http.StatusOK)
	notes := decode[[]notify.Notification](t, resp)
	if len(notes) != 2 {
		t.Fatalf("expected approval and catalog notifications, got %d", len(notes))
	}
	if notes[0].Kind != moderation.KindInCatalog || notes[1].Kind != moderation.KindApproved {
		t.Fatalf("unexpected notification order: %s, %s", notes[0].Kind, notes[1].Kind)
	}

	resp = c.do(http.MethodPost, "/api/notifications/"+notes[0].ID+"/read", nil, owner.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = c.do(http.MethodPost, "/api/notifications/"+notes[0].ID+"/read", nil, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodPost, fmt.Sprintf("/api/pub/admin/unverify/%d", pub.ID), nil, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	pub = decode[publicationView](t, resp)
	if pub.Verified || pub.VerifiedBy != nil || !pub.InCatalog {
		t.Fatalf("unverify must clear the stamp and keep flags: %+v", pub)
	}

	resp = c.do(http.MethodGet, "/api/pub", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]publicationView](t, resp); len(got) != 0 {
		t.Fatalf("unverified publication must leave the catalog, got %d", len(got))
	}

	resp = c.do(http.MethodPut, path+"/publications", map[string]bool{"value": true}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	pub = decode[publicationView](t, resp)
	if !pub.Verified || pub.VerifiedBy != nil || !pub.InPublications {
		t.Fatalf("expected system verification: %+v", pub)
	}

	resp = c.do(http.MethodGet, "/api/pub/page", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]publicationView](t, resp); len(got) != 1 {
		t.Fatalf("expected publication on the page, got %d", len(got))
	}

	resp = c.do(http.MethodPut, path+"/status", map[string]string{"status": "  In Review "}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	resp = c.do(http.MethodGet, "/api/admin/publications/status/in%20review", nil, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]publicationView](t, resp); len(got) != 1 || got[0].Status != "In Review" {
		t.Fatalf("expected case-insensitive status match, got %+v", got)
	}

	resp = c.do(http.MethodPost, "/api/admin/publications/999/verify", map[string]int64{"adminId": admin.UserID}, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestOwnerAndAdminChecks(t *testing.T) {
	c := newTestAPI(t)
	owner := c.signupAndLogin("erin@example.com")
	other := c.signupAndLogin("frank@example.com")
	admin := c.login(adminEmail, adminPassword)
	pub := c.createPublication(owner.Token, "Socket")
	path := fmt.Sprintf("/api/pub/%d", pub.ID)

	resp := c.do(http.MethodPut, path, map[string]string{"title": "Hijacked"}, other.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodPut, path, map[string]string{"title": "  Double socket "}, owner.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[publicationView](t, resp); got.Title != "Double socket" {
		t.Fatalf("unexpected title %q", got.Title)
	}

	resp = c.do(http.MethodPut, path, map[string]string{"title": " "}, owner.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, fmt.Sprintf("/api/pub/user/%d", owner.UserID), nil, other.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodGet, fmt.Sprintf("/api/pub/user/%d", owner.UserID), nil, owner.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[[]publicationView](t, resp); len(got) != 1 {
		t.Fatalf("expected own publication listed, got %d", len(got))
	}

	resp = c.do(http.MethodPost, fmt.Sprintf("/api/auth/logout/%d", owner.UserID), nil, other.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodPost, fmt.Sprintf("/api/auth/logout/%d", owner.UserID), nil, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	acc, err := c.accounts.Get(context.Background(), owner.UserID)
	if err != nil || acc.Online {
		t.Fatalf("expected owner offline, got %+v, %v", acc, err)
	}

	resp = c.do(http.MethodDelete, path, nil, other.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, path, nil, owner.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestAdminDeleteUserRemovesPublications(t *testing.T) {
	c := newTestAPI(t)
	owner := c.signupAndLogin("gina@example.com")
	admin := c.login(adminEmail, adminPassword)
	pub := c.createPublication(owner.Token, "Fuse box")

	resp := c.do(http.MethodPost, fmt.Sprintf("/api/admin/users/%d/verify-email", owner.UserID), nil, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[map[string]any](t, resp); got["emailVerified"] != true {
		t.Fatalf("expected verified email, got %v", got)
	}

	resp = c.do(http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", owner.UserID), nil, admin.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodGet, fmt.Sprintf("/api/admin/publications/%d", pub.ID), nil, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodGet, fmt.Sprintf("/api/admin/users/%d", owner.UserID), nil, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestLoginIsRateLimited(t *testing.T) {
	c := newTestAPI(t, WithLoginRateLimit(1, 1))
	body := map[string]string{"email": adminEmail, "password": adminPassword}

	resp := c.do(http.MethodPost, "/api/auth/login", body, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/api/auth/login", body, "")
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	resp.Body.Close()
}

func TestCreateIgnoresModerationFields(t *testing.T) {
	c := newTestAPI(t)
	owner := c.signupAndLogin("iris@example.com")

	resp := c.do(http.MethodPost, "/api/pub", map[string]any{
		"title":          "Socket",
		"description":    "Double wall socket",
		"type":           "parts",
		"price":          5,
		"verified":       true,
		"verifiedBy":     1,
		"verifiedAt":     "2025-01-01T00:00:00Z",
		"inCatalog":      true,
		"inPublications": true,
	}, owner.Token)
	expectStatus(t, resp, http.StatusCreated)
	pub := decode[publicationView](t, resp)
	if pub.Verified || pub.VerifiedBy != nil || pub.InCatalog || pub.InPublications {
		t.Fatalf("new publication must start unverified and unlisted: %+v", pub)
	}

	resp = c.do(http.MethodGet, "/api/pub", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if listed := decode[[]publicationView](t, resp); len(listed) != 0 {
		t.Fatalf("catalog must stay empty, got %+v", listed)
	}

	resp = c.do(http.MethodPost, "/api/pub", map[string]any{
		"title":       "Socket",
		"description": "Double wall socket",
		"type":        "parts",
		"price":       5,
		"discount":    10,
	}, owner.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestVerifyUnknownAdminIsNotFound(t *testing.T) {
	c := newTestAPI(t)
	owner := c.signupAndLogin("jade@example.com")
	admin := c.login(adminEmail, adminPassword)
	pub := c.createPublication(owner.Token, "Breaker")

	resp := c.do(http.MethodPost, fmt.Sprintf("/api/admin/publications/%d/verify", pub.ID), map[string]int64{"adminId": 9999}, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodGet, fmt.Sprintf("/api/admin/publications/%d", pub.ID), nil, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[publicationView](t, resp); got.Verified {
		t.Fatalf("publication must stay unverified: %+v", got)
	}
}

func TestUploadTooLarge(t *testing.T) {
	c := newTestAPI(t)
	owner := c.signupAndLogin("kent@example.com")
	pub := c.createPublication(owner.Token, "Transformer")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "big.bin")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(bytes.Repeat([]byte{1}, maxUploadBytes+1))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/pub/%d/file", c.baseURL, pub.ID), &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+owner.Token)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
	resp.Body.Close()
}

func TestUploadAndServeFile(t *testing.T) {
	c := newTestAPI(t)
	owner := c.signupAndLogin("hank@example.com")
	pub := c.createPublication(owner.Token, "Cable")

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "cable.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(png)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/pub/%d/file", c.baseURL, pub.ID), &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+owner.Token)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)
	got := decode[publicationView](t, resp)
	if got.File == nil || got.File.Name != "cable.png" || got.File.Type != "image/png" || got.File.Size != int64(len(png)) {
		t.Fatalf("unexpected file: %+v", got.File)
	}
	if !strings.HasPrefix(got.File.URL, filesPrefix) || !strings.HasSuffix(got.File.URL, ".png") {
		t.Fatalf("unexpected file url %q", got.File.URL)
	}

	resp = c.do(http.MethodGet, got.File.URL, nil, "")
	expectStatus(t, resp, http.StatusOK)
	served, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(served, png) {
		t.Fatal("served file differs from upload")
	}

	resp = c.do(http.MethodGet, filesPrefix+"missing.png", nil, "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

type messageView struct {
	ID         string `json:"id"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
	Read       bool   `json:"read"`
}

func TestMessagingFlow(t *testing.T) {
	c := newTestAPI(t)
	alice := c.signupAndLogin("alice@example.com")
	bob := c.signupAndLogin("bob@example.com")
	carol := c.signupAndLogin("carol@example.com")
	admin := c.login(adminEmail, adminPassword)

	resp := c.do(http.MethodGet, "/api/messages/inbox", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/api/messages", map[string]any{"receiverId": bob.UserID, "content": "Is the lamp still available?"}, alice.Token)
	expectStatus(t, resp, http.StatusCreated)
	question := decode[messageView](t, resp)
	if question.SenderID != alice.UserID || question.ReceiverID != bob.UserID || question.Read {
		t.Fatalf("unexpected message: %+v", question)
	}

	resp = c.do(http.MethodPost, "/api/messages", map[string]any{"receiverId": 9999, "content": "hello?"}, alice.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
	resp = c.do(http.MethodPost, "/api/messages", map[string]any{"receiverId": bob.UserID}, alice.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/api/messages/unread-count", nil, bob.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[map[string]int](t, resp); got["count"] != 1 {
		t.Fatalf("expected one unread message, got %v", got)
	}

	resp = c.do(http.MethodPost, "/api/messages", map[string]any{"receiverId": alice.UserID, "content": "Yes, it is."}, bob.Token)
	expectStatus(t, resp, http.StatusCreated)
	answer := decode[messageView](t, resp)

	resp = c.do(http.MethodGet, fmt.Sprintf("/api/messages/conversation/%d", bob.UserID), nil, alice.Token)
	expectStatus(t, resp, http.StatusOK)
	conv := decode[[]messageView](t, resp)
	if len(conv) != 2 || conv[0].ID != question.ID || conv[1].ID != answer.ID {
		t.Fatalf("conversation must be oldest first: %+v", conv)
	}

	resp = c.do(http.MethodGet, "/api/messages/"+question.ID, nil, carol.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
	resp = c.do(http.MethodPost, "/api/messages/"+question.ID+"/read", nil, alice.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
	resp = c.do(http.MethodPost, "/api/messages/"+question.ID+"/read", nil, bob.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/api/messages/inbox", nil, bob.Token)
	expectStatus(t, resp, http.StatusOK)
	if inbox := decode[[]messageView](t, resp); len(inbox) != 1 || !inbox[0].Read {
		t.Fatalf("inbox must hold the read question: %+v", inbox)
	}

	resp = c.do(http.MethodPost, "/api/messages/read-all", nil, alice.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[map[string]int](t, resp); got["updated"] != 1 {
		t.Fatalf("expected one message marked read, got %v", got)
	}

	resp = c.do(http.MethodGet, "/api/admin/messages", nil, alice.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
	resp = c.do(http.MethodGet, "/api/admin/messages", nil, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	if all := decode[[]messageView](t, resp); len(all) != 2 {
		t.Fatalf("expected two messages, got %+v", all)
	}

	resp = c.do(http.MethodDelete, "/api/admin/messages/"+answer.ID, nil, admin.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = c.do(http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", alice.UserID), nil, admin.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/api/messages/sent", nil, bob.Token)
	expectStatus(t, resp, http.StatusOK)
	if sent := decode[[]messageView](t, resp); len(sent) != 0 {
		t.Fatalf("messages of a deleted account must be gone: %+v", sent)
	}
	resp = c.do(http.MethodGet, "/api/messages/inbox", nil, bob.Token)
	expectStatus(t, resp, http.StatusOK)
	if inbox := decode[[]messageView](t, resp); len(inbox) != 0 {
		t.Fatalf("messages of a deleted account must be gone: %+v", inbox)
	}
}
