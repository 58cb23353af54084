package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint paths, relative to the API base URL.
const (
	PathLogin   = "/auth/login"
	PathRefresh = "/auth/refresh"
	PathLogout  = "/auth/logout"
	PathMe      = "/auth/me"
)

const maxResponseBytes = 1 << 20

// LoginEncoding selects how credentials are sent to the login endpoint.
type LoginEncoding string

const (
	LoginJSON LoginEncoding = "json"
	// LoginForm sends an OAuth2 password-grant style form body.
	LoginForm LoginEncoding = "form"
)

// Client calls the auth endpoints.
type Client struct {
	base      *url.URL
	http      *http.Client
	log       *slog.Logger
	encoding  LoginEncoding
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithLoginEncoding selects the login body encoding.
func WithLoginEncoding(enc LoginEncoding) Option {
	return func(c *Client) {
		if enc == LoginJSON || enc == LoginForm {
			c.encoding = enc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// NewClient returns a Client for the API rooted at baseURL
// (for example http://127.0.0.1:8065/api/v1).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("authapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("authapi: base url must be http(s): %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("authapi: base url has no host: %q", baseURL)
	}

	c := &Client{
		base:      u,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       slog.Default(),
		encoding:  LoginJSON,
		userAgent: "inframon",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.base.String() }

// URL resolves an API path against the base URL.
func (c *Client) URL(path string) string {
	return c.base.JoinPath(path).String()
}

// Login exchanges a username and password for a credential pair and identity.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch c.encoding {
	case LoginForm:
		form := url.Values{}
		form.Set("grant_type", "password")
		form.Set("username", username)
		form.Set("password", password)
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		b, err := json.Marshal(loginRequest{Username: username, Password: password})
		if err != nil {
			return LoginResult{}, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	var out LoginResult
	if err := c.do(ctx, "login", http.MethodPost, PathLogin, "", body, contentType, &out); err != nil {
		return LoginResult{}, err
	}
	if out.AccessToken == "" || out.RefreshToken == "" || out.User.ID == "" {
		return LoginResult{}, fmt.Errorf("%w: login response missing tokens or user", ErrMalformedResponse)
	}
	return out, nil
}

// Refresh exchanges the renewal credential for a new access credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	b, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return RefreshResult{}, err
	}

	var out RefreshResult
	if err := c.do(ctx, "refresh", http.MethodPost, PathRefresh, "", bytes.NewReader(b), "application/json", &out); err != nil {
		return RefreshResult{}, err
	}
	if out.AccessToken == "" {
		return RefreshResult{}, fmt.Errorf("%w: refresh response missing access_token", ErrMalformedResponse)
	}
	return out, nil
}

// Logout tells the server to revoke the session behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, "logout", http.MethodPost, PathLogout, accessToken, nil, "", nil)
}

// Me fetches the identity behind accessToken.
func (c *Client) Me(ctx context.Context, accessToken string) (User, error) {
	var out User
	if err := c.do(ctx, "me", http.MethodGet, PathMe, accessToken, nil, "", &out); err != nil {
		return User{}, err
	}
	if out.ID == "" {
		return User{}, fmt.Errorf("%w: me response missing id", ErrMalformedResponse)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, body io.Reader, contentType string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return fmt.Errorf("authapi: %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("authapi.request.fail", "op", op, "err", err)
		return fmt.Errorf("authapi: %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("authapi: %s: read body: %w", op, err)
	}

	c.log.Debug("authapi.request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(op, resp.StatusCode, raw)
	}
	if dst == nil || len(bytes.TrimSpace(raw)) == 0 {
		if dst != nil {
			return fmt.Errorf("%w: %s: empty body", ErrMalformedResponse, op)
		}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Join(fmt.Errorf("%w: %s", ErrMalformedResponse, op), err)
	}
	return nil
}
