package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/internal/auth/credstore"
	"inframon/cmd/internal/clock"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu sync.Mutex

	loginFn   func(ctx context.Context, username, password string) (authapi.LoginResult, error)
	refreshFn func(ctx context.Context, refreshToken string) (authapi.RefreshResult, error)
	meFn      func(ctx context.Context, accessToken string) (authapi.User, error)

	loginCalls   int
	refreshCalls []string
	logoutCalls  []string
	meCalls      int
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) (authapi.LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	fn := f.loginFn
	f.mu.Unlock()
	if fn == nil {
		return authapi.LoginResult{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			User:         authapi.User{ID: "1", Username: username, IsActive: true},
		}, nil
	}
	return fn(ctx, username, password)
}

func (f *fakeAPI) Refresh(ctx context.Context, refreshToken string) (authapi.RefreshResult, error) {
	f.mu.Lock()
	f.refreshCalls = append(f.refreshCalls, refreshToken)
	n := len(f.refreshCalls)
	fn := f.refreshFn
	f.mu.Unlock()
	if fn == nil {
		return authapi.RefreshResult{AccessToken: "access-r" + string(rune('0'+n))}, nil
	}
	return fn(ctx, refreshToken)
}

func (f *fakeAPI) Logout(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls = append(f.logoutCalls, accessToken)
	return nil
}

func (f *fakeAPI) Me(ctx context.Context, accessToken string) (authapi.User, error) {
	f.mu.Lock()
	f.meCalls++
	fn := f.meFn
	f.mu.Unlock()
	if fn == nil {
		return authapi.User{ID: "1", Username: "admin"}, nil
	}
	return fn(ctx, accessToken)
}

func (f *fakeAPI) refreshes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshCalls...)
}

func (f *fakeAPI) logouts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logoutCalls...)
}

type harness struct {
	m     *Manager
	api   *fakeAPI
	clk   *clock.Fake
	store *credstore.MemoryStore

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, cfg Config, api *fakeAPI) *harness {
	t.Helper()
	if api == nil {
		api = &fakeAPI{}
	}
	h := &harness{
		api:   api,
		clk:   clock.NewFake(t0),
		store: credstore.NewMemoryStore(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(cfg, api, h.store, WithClock(h.clk), WithLogger(log), WithMetrics(NewMetrics(nil)))
	require.NoError(t, err)
	h.m = m
	m.Subscribe(func(ev Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	t.Cleanup(func() { _ = m.Close() })
	return h
}

func (h *harness) kinds() []EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventKind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (h *harness) lastEvent() Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[len(h.events)-1]
}

func (h *harness) login(t *testing.T) authapi.User {
	t.Helper()
	u, err := h.m.Login(context.Background(), "admin", "pw")
	require.NoError(t, err)
	return u
}

func (h *harness) stored(t *testing.T) (credstore.Credentials, bool) {
	t.Helper()
	c, ok, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return c, ok
}

func (h *harness) seed(t *testing.T, access, refresh string, u authapi.User) {
	t.Helper()
	raw, err := json.Marshal(u)
	require.NoError(t, err)
	require.NoError(t, h.store.Save(context.Background(), credstore.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         raw,
	}))
}

// requireConsistent checks that authentication, identity, access credential
// and the persisted set agree with each other.
func (h *harness) requireConsistent(t *testing.T) {
	t.Helper()
	snap := h.m.Snapshot()
	access, _ := h.m.AccessCredential()
	_, hasUser := h.m.Identity()
	stored, ok := h.stored(t)

	if h.m.IsAuthenticated() {
		require.True(t, hasUser)
		require.NotEmpty(t, access)
		require.True(t, ok)
		require.Equal(t, access, stored.AccessToken)
		require.NotEmpty(t, stored.User)
		require.False(t, snap.IdleDeadline.IsZero())
		return
	}
	require.False(t, hasUser)
	require.Empty(t, access)
	if snap.State == StateSignedOut {
		require.False(t, ok, "signed-out manager must leave the store empty")
		require.True(t, snap.IdleDeadline.IsZero())
	}
}

// longRenewal keeps the renewal timer out of the way of idle tests.
func longRenewal() Config {
	cfg := DefaultConfig()
	cfg.RenewalInterval = 2 * time.Hour
	return cfg
}
