// Package client is a typed HTTP client for the marketplace API, used by the
// smoke tool and by operators scripting against a running server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"serviceelectro.org/internal/account"
	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/messaging"
	"serviceelectro.org/internal/moderation"
	"serviceelectro.org/internal/notify"
)

// ErrRateLimited is returned when the server answers 429.
var ErrRateLimited = errors.New("rate limited")

// APIError is a non-2xx answer. It unwraps to the matching errs sentinel.
type APIError struct {
	Status    int
	Message   string
	RequestID string
	Fields    []errs.FieldError
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		if e.Message == "email or password is incorrect" {
			return errs.ErrInvalidCredentials
		}
		return errs.ErrValidation
	case http.StatusUnauthorized:
		return errs.ErrTokenInvalid
	case http.StatusForbidden:
		return errs.ErrForbidden
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusConflict:
		return errs.ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// Session is the result of a successful login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Email     string       `json:"email"`
	Role      account.Role `json:"role"`
	UserID    int64        `json:"userId"`
	Username  string       `json:"username"`
}

// Client talks to one API base URL. A Client is safe for concurrent use;
// WithToken returns a copy bound to a bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Signup(ctx context.Context, email, password, username string) (account.Account, error) {
	var out account.Account
	err := c.do(ctx, http.MethodPost, "/api/users", account.SignupInput{
		Email:    email,
		Password: password,
		Username: username,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout/"+strconv.FormatInt(userID, 10), nil, nil)
}

func (c *Client) CreatePublication(ctx context.Context, d moderation.Draft) (moderation.Publication, error) {
	var out moderation.Publication
	err := c.do(ctx, http.MethodPost, "/api/pub", d, &out)
	return out, err
}

func (c *Client) ListPublic(ctx context.Context) ([]moderation.Publication, error) {
	var out []moderation.Publication
	err := c.do(ctx, http.MethodGet, "/api/pub", nil, &out)
	return out, err
}

func (c *Client) ListPublicationsPage(ctx context.Context) ([]moderation.Publication, error) {
	var out []moderation.Publication
	err := c.do(ctx, http.MethodGet, "/api/pub/page", nil, &out)
	return out, err
}

func (c *Client) Verify(ctx context.Context, id, adminID int64) (moderation.Publication, error) {
	var out moderation.Publication
	err := c.do(ctx, http.MethodPost, adminPublicationPath(id, "verify"), map[string]int64{"adminId": adminID}, &out)
	return out, err
}

func (c *Client) Unverify(ctx context.Context, id int64) (moderation.Publication, error) {
	var out moderation.Publication
	err := c.do(ctx, http.MethodPost, adminPublicationPath(id, "unverify"), nil, &out)
	return out, err
}

func (c *Client) SetInCatalog(ctx context.Context, id int64, value bool) (moderation.Publication, error) {
	var out moderation.Publication
	err := c.do(ctx, http.MethodPut, adminPublicationPath(id, "catalog"), map[string]bool{"value": value}, &out)
	return out, err
}

func (c *Client) SetInPublications(ctx context.Context, id int64, value bool) (moderation.Publication, error) {
	var out moderation.Publication
	err := c.do(ctx, http.MethodPut, adminPublicationPath(id, "publications"), map[string]bool{"value": value}, &out)
	return out, err
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/users/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) Notifications(ctx context.Context) ([]notify.Notification, error) {
	var out []notify.Notification
	err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, receiverID int64, content string) (messaging.Message, error) {
	var out messaging.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", messaging.SendInput{ReceiverID: receiverID, Content: content}, &out)
	return out, err
}

func (c *Client) Inbox(ctx context.Context) ([]messaging.Message, error) {
	var out []messaging.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/inbox", nil, &out)
	return out, err
}

func (c *Client) UnreadMessages(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/api/messages/unread-count", nil, &out)
	return out.Count, err
}

func adminPublicationPath(id int64, action string) string {
	return "/api/admin/publications/" + strconv.FormatInt(id, 10) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error     string            `json:"error"`
		RequestID string            `json:"request_id"`
		Fields    []errs.FieldError `json:"fields"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}
	if payload.RequestID == "" {
		payload.RequestID = resp.Header.Get("X-Request-ID")
	}
	return &APIError{
		Status:    resp.StatusCode,
		Message:   payload.Error,
		RequestID: payload.RequestID,
		Fields:    payload.Fields,
	}
}

// Healthy queries the grpc.health.v1 service at target.
func Healthy(ctx context.Context, target string, opts ...grpc.DialOption) (bool, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
