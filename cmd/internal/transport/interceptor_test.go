package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/internal/auth/credstore"
	"inframon/cmd/internal/auth/session"
	"inframon/cmd/internal/clock"
	"inframon/cmd/internal/guard"

	"github.com/stretchr/testify/require"
)

type stubAPI struct{}

func (stubAPI) Login(ctx context.Context, u, p string) (authapi.LoginResult, error) {
	return authapi.LoginResult{AccessToken: "acc-" + u, RefreshToken: "ref", User: authapi.User{ID: "1", Username: u}}, nil
}

func (stubAPI) Refresh(ctx context.Context, rt string) (authapi.RefreshResult, error) {
	return authapi.RefreshResult{AccessToken: "acc-renewed"}, nil
}

func (stubAPI) Logout(ctx context.Context, access string) error { return nil }

func (stubAPI) Me(ctx context.Context, access string) (authapi.User, error) {
	return authapi.User{ID: "1"}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSignedInManager(t *testing.T) *session.Manager {
	t.Helper()
	m, err := session.NewManager(session.DefaultConfig(), stubAPI{}, credstore.NewMemoryStore(),
		session.WithClock(clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
		session.WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Login(context.Background(), "admin", "pw")
	require.NoError(t, err)
	return m
}

func TestInterceptor_AttachesCredentialAndRequestID(t *testing.T) {
	t.Parallel()

	var gotAuth, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newSignedInManager(t)
	client := NewClient(m, 5*time.Second, WithLogger(quietLogger()))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/containers", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, "Bearer acc-admin", gotAuth)
	require.Len(t, gotID, 26)
	require.Empty(t, req.Header.Get("Authorization"), "caller's request is not mutated")
}

func TestInterceptor_SignedOutSendsUnauthenticated(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newSignedInManager(t)
	m.Logout(context.Background())

	resp, err := NewClient(m, 5*time.Second).Get(srv.URL + "/api/v1/hosts")
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Empty(t, gotAuth)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// A burst of rejected calls ends the session once and redirects once.
func TestInterceptor_UnauthorizedBurstLogsOutOnce(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newSignedInManager(t)
	nav := guard.NewMemoryNavigator("/containers", nil)
	g := guard.New(m, guard.DefaultConfig())
	stop := g.Follow(m, nav)
	defer stop()

	var signedOut int
	var mu sync.Mutex
	m.Subscribe(func(ev session.Event) {
		if ev.Kind == session.EventSignedOut {
			mu.Lock()
			signedOut++
			mu.Unlock()
		}
	})

	client := NewClient(m, 5*time.Second, WithRoutes(nav, g.SignInRoute()), WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/api/v1/containers")
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	require.False(t, m.IsAuthenticated())
	require.Equal(t, []string{"/login"}, nav.History())
	mu.Lock()
	require.Equal(t, 1, signedOut)
	mu.Unlock()
}

func TestInterceptor_ExemptionsKeepSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name  string
		path  string
		route string
	}{
		{"login endpoint", "/api/v1/auth/login", "/containers"},
		{"logout endpoint", "/api/v1/auth/logout/", "/containers"},
		{"on sign-in route", "/api/v1/containers", "/login"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newSignedInManager(t)
			nav := guard.NewMemoryNavigator(tt.route, nil)
			client := NewClient(m, 5*time.Second, WithRoutes(nav, "/login"), WithLogger(quietLogger()))

			resp, err := client.Post(srv.URL+tt.path, "application/json", nil)
			require.NoError(t, err)
			_ = resp.Body.Close()

			require.True(t, m.IsAuthenticated())
		})
	}
}

func TestInterceptor_CallerAuthorizationIsLeftAlone(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newSignedInManager(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/registry", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic cmVnOnB3")

	resp, err := NewClient(m, 5*time.Second).Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, "Basic cmVnOnB3", gotAuth)
	require.True(t, m.IsAuthenticated(), "a 401 for foreign credentials does not end the session")
}

func TestInterceptor_OtherStatusesPassThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m := newSignedInManager(t)
	resp, err := NewClient(m, 5*time.Second).Get(srv.URL + "/api/v1/users")
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.True(t, m.IsAuthenticated())
}
