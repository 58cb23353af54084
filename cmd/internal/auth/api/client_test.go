package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api/v1/", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_LoginJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Empty(t, r.Header.Get("Authorization"))

		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "admin", req.Username)
		require.Equal(t, "s3cret", req.Password)

		_, _ = w.Write([]byte(`{
			"access_token":"acc","refresh_token":"ref","token_type":"bearer","expires":1800,
			"user":{"id":42,"username":"admin","email":"admin@example.com","is_active":true,"is_superuser":true}
		}`))
	})

	res, err := c.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "acc", res.AccessToken)
	require.Equal(t, "ref", res.RefreshToken)
	require.Equal(t, int64(1800), res.ExpiresIn)
	require.Equal(t, UserID("42"), res.User.ID)
	require.True(t, res.User.IsSuperuser)
}

func TestClient_LoginForm(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "password", r.PostForm.Get("grant_type"))
		require.Equal(t, "admin", r.PostForm.Get("username"))
		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","user":{"id":"u1"}}`))
	}, WithLoginEncoding(LoginForm))

	res, err := c.Login(context.Background(), "admin", "pw")
	require.NoError(t, err)
	require.Equal(t, UserID("u1"), res.User.ID)
}

func TestClient_LoginErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		code     string
		message  string
	}{
		{"envelope", http.StatusUnauthorized, `{"error":{"code":"invalid_credentials","message":"invalid credentials"}}`, ErrUnauthorized, "invalid_credentials", "invalid credentials"},
		{"detail", http.StatusUnauthorized, `{"detail":"Incorrect username or password"}`, ErrUnauthorized, "", "Incorrect username or password"},
		{"rejected", http.StatusTooManyRequests, `{"error":{"code":"rate_limited","message":"too many attempts"}}`, ErrRejected, "rate_limited", "too many attempts"},
		{"server", http.StatusBadGateway, `upstream down`, ErrServer, "", "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Login(context.Background(), "u", "p")
			require.ErrorIs(t, err, tt.sentinel)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.Status)
			require.Equal(t, tt.code, apiErr.Code)
			require.Equal(t, tt.message, apiErr.Message)
			require.Equal(t, tt.status, StatusOf(err))
		})
	}
}

func TestClient_LoginMalformed(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a","user":{"id":1}}`))
	})

	_, err := c.Login(context.Background(), "u", "p")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_RefreshSendsRenewalCredential(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auth/refresh", r.URL.Path)
		var req refreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "ref-1", req.RefreshToken)
		_, _ = w.Write([]byte(`{"access_token":"acc-2","refresh_token":"ref-2","token_type":"bearer"}`))
	})

	res, err := c.Refresh(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, "acc-2", res.AccessToken)
	require.Equal(t, "ref-2", res.RefreshToken)
}

func TestClient_LogoutAndMeAttachBearer(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer acc", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v1/auth/me":
			_, _ = w.Write([]byte(`{"id":7,"username":"ops"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	require.NoError(t, c.Logout(ctx, "acc"))

	u, err := c.Me(ctx, "acc")
	require.NoError(t, err)
	require.Equal(t, UserID("7"), u.ID)
	require.Equal(t, "ops", u.Username)
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "ftp://host/api", "http://", "::bad"} {
		_, err := NewClient(raw)
		require.Error(t, err, raw)
	}
}

func TestUserPatch_ApplyKeepsID(t *testing.T) {
	t.Parallel()

	email := "new@example.com"
	active := false
	u := UserPatch{Email: &email, IsActive: &active}.Apply(User{ID: "1", Username: "a", Email: "old@example.com", IsActive: true})

	require.Equal(t, UserID("1"), u.ID)
	require.Equal(t, "a", u.Username)
	require.Equal(t, email, u.Email)
	require.False(t, u.IsActive)
}

func TestUserID_MarshalKeepsNumericShape(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(User{ID: "12", Username: "x"})
	require.NoError(t, err)
	require.Contains(t, string(b), `"id":12`)

	var u User
	require.NoError(t, json.Unmarshal(b, &u))
	require.Equal(t, UserID("12"), u.ID)
}
