// Package main provides a CI-friendly smoke test for an inframon auth server.
//
// It validates:
//   - password login returns an access/refresh pair and the identity
//   - /auth/me accepts the access token
//   - the host stream handshake carries the bearer and delivers a frame
//   - refresh rotates the pair and a replayed refresh token is refused
//   - logout revokes the access token
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxBodyBytes = 1 << 20 // 1MiB

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Expires      int64  `json:"expires"`
	User         *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type smokeClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		apiURL   = flag.String("url", "http://127.0.0.1:8065/api/v1", "API base URL")
		username = flag.String("u", "admin", "Username")
		stream   = flag.String("stream", "/hosts/stream", "WebSocket resource path (empty to skip)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateAPIURL(*apiURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	pw := os.Getenv("INFRAMON_SMOKE_PASSWORD")
	if pw == "" {
		fatalf("INFRAMON_SMOKE_PASSWORD is not set")
	}

	c := &smokeClient{
		base:    strings.TrimRight(*apiURL, "/"),
		http:    &http.Client{Timeout: *timeout},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	pair := c.mustLogin(root, *username, pw)
	c.mustMe(root, pair.AccessToken, *username)

	if *stream != "" {
		c.mustStreamFrame(root, pair.AccessToken, *stream)
	}

	rotated := c.mustRefresh(root, pair.RefreshToken)
	if rotated.AccessToken == pair.AccessToken {
		fatalf("refresh: access token was not replaced")
	}
	c.mustMe(root, rotated.AccessToken, *username)

	current := rotated
	if rotated.RefreshToken != "" && rotated.RefreshToken != pair.RefreshToken {
		// Replaying the retired token revokes the session, so sign in again.
		c.mustStatus(root, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken}, http.StatusUnauthorized)
		current = c.mustLogin(root, *username, pw)
	}

	c.mustStatus(root, http.MethodPost, "/auth/logout", current.AccessToken, nil, http.StatusNoContent)
	c.mustStatus(root, http.MethodGet, "/auth/me", current.AccessToken, nil, http.StatusUnauthorized)

	fmt.Printf("OK: user=%s api=%s rotated=%t\n", *username, c.base, current != rotated)
}

func validateAPIURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) mustLogin(parent context.Context, username, password string) tokenPair {
	var pair tokenPair
	c.mustDo(parent, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	}, http.StatusOK, &pair)

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		fatalf("login: missing token in response")
	}
	if !strings.EqualFold(pair.TokenType, "bearer") {
		fatalf("login: token_type=%q want bearer", pair.TokenType)
	}
	if pair.User == nil || pair.User.ID == "" {
		fatalf("login: response carries no user")
	}
	c.logf("login ok: user_id=%s expires=%d", pair.User.ID, pair.Expires)
	return pair
}

func (c *smokeClient) mustMe(parent context.Context, access, wantUser string) {
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	c.mustDo(parent, http.MethodGet, "/auth/me", access, nil, http.StatusOK, &me)
	if !strings.EqualFold(me.Username, wantUser) {
		fatalf("me: username=%q want %q", me.Username, wantUser)
	}
	c.logf("me ok: id=%s", me.ID)
}

func (c *smokeClient) mustRefresh(parent context.Context, refresh string) tokenPair {
	var pair tokenPair
	c.mustDo(parent, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh}, http.StatusOK, &pair)
	if pair.AccessToken == "" {
		fatalf("refresh: missing access token")
	}
	c.logf("refresh ok: rotated=%t", pair.RefreshToken != "" && pair.RefreshToken != refresh)
	return pair
}

func (c *smokeClient) mustStreamFrame(parent context.Context, access, path string) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	u, err := url.Parse(c.base + path)
	if err != nil {
		fatalf("stream url: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("stream connect: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "smoke done") }()
	conn.SetReadLimit(maxBodyBytes)

	var frame map[string]json.RawMessage
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		fatalf("stream read: %v", err)
	}
	if len(frame) == 0 {
		fatalf("stream: empty frame")
	}
	c.logf("stream ok: keys=%d", len(frame))
}

func (c *smokeClient) mustStatus(parent context.Context, method, path, bearer string, body any, want int) {
	c.mustDo(parent, method, path, bearer, body, want, nil)
}

func (c *smokeClient) mustDo(parent context.Context, method, path, bearer string, body any, want int, dst any) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("%s %s: marshal: %v", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if resp.StatusCode != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, want, strings.TrimSpace(string(raw)))
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	c.logf("%s %s -> %d", method, path, resp.StatusCode)
}

func (c *smokeClient) logf(format string, args ...any) {
	if c.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
