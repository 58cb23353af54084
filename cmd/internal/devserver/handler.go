package devserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/internal/clock"
	"inframon/cmd/security/password"
	"inframon/cmd/security/token"
)

// Handler serves the auth endpoints and the demo host resources.
type Handler struct {
	log *slog.Logger
	cfg Config
	clk clock.Clock
	pw  password.Config

	users    *userStore
	sessions *sessionStore
	tokens   tokenIssuer
	limiter  *loginLimiter
	hosts    *hostBoard

	dummyHash string
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithClock overrides the wall clock used for token lifetimes and throttling.
func WithClock(clk clock.Clock) HandlerOption {
	return func(h *Handler) {
		if clk != nil {
			h.clk = clk
		}
	}
}

// WithPasswordConfig overrides the Argon2id parameters and password policy.
func WithPasswordConfig(pw password.Config) HandlerOption {
	return func(h *Handler) {
		h.pw = pw
	}
}

// NewHandler builds a Handler. When cfg.AdminPassword is set an admin
// account is seeded.
func NewHandler(cfg Config, opts ...HandlerOption) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		log: slog.Default(),
		cfg: cfg,
		clk: clock.Real(),
		pw:  password.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	key := []byte(cfg.JWTSecret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("devserver: jwt key: %w", err)
		}
	}

	h.users = newUserStore(h.pw)
	h.sessions = newSessionStore()
	h.tokens = tokenIssuer{key: key, issuer: cfg.Issuer, ttl: cfg.AccessTTL}
	h.limiter = newLoginLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst)
	h.hosts = newHostBoard()

	// Dummy hash for timing-resistant login checks.
	if hash, err := h.pw.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	if cfg.AdminPassword != "" {
		if _, err := h.AddUser(cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword, true); err != nil {
			return nil, fmt.Errorf("devserver: seed admin: %w", err)
		}
	}
	return h, nil
}

// AddUser creates an active account.
func (h *Handler) AddUser(username, email, plain string, superuser bool) (authapi.User, error) {
	a, err := h.users.add(username, email, plain, superuser, h.now())
	if err != nil {
		return authapi.User{}, err
	}
	return a.public(), nil
}

// DisableUser deactivates an account and revokes all of its sessions.
// Outstanding access tokens stop working immediately.
func (h *Handler) DisableUser(username string) error {
	a, ok := h.users.lookup(username)
	if !ok {
		return errUserNotFound
	}
	if err := h.users.setActive(a.id, false, h.now()); err != nil {
		return err
	}
	n := h.sessions.revokeUser(a.id)
	h.audit(nil, auditUserDisabled, slog.Int64("user_id", a.id), slog.Int("sessions", n))
	return nil
}

// Register wires the routes onto mux under cfg.Prefix.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	p := strings.TrimRight(h.cfg.Prefix, "/")
	mux.HandleFunc(p+authapi.PathLogin, h.handleLogin)
	mux.HandleFunc(p+authapi.PathRefresh, h.handleRefresh)
	mux.HandleFunc(p+authapi.PathLogout, h.handleLogout)
	mux.HandleFunc(p+authapi.PathMe, h.handleMe)
	mux.HandleFunc(p+"/hosts", h.handleHosts)
	mux.HandleFunc(p+"/hosts/stream", h.handleHostStream)
}

func (h *Handler) now() time.Time { return h.clk.Now().UTC() }

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	now := h.now()
	if ok, retryAfter := h.limiter.allow(clientIP(r, h.cfg.TrustProxy), now); !ok {
		h.audit(r, auditLoginRateLimited, retryAttr(retryAfter))
		writeRateLimited(w, retryAfter)
		return
	}

	req, err := h.readLoginRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	a, found := h.users.lookup(username)
	if !found {
		// Timing resistance: perform a dummy verify when the user is missing.
		if h.dummyHash != "" {
			_, _ = h.pw.Verify(h.dummyHash, req.Password)
		}
		h.audit(r, auditLoginFailed, slog.String("identifier", username), slog.String("reason", "not_found"))
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect username or password")
		return
	}

	match, err := h.pw.Verify(a.hash, req.Password)
	if err != nil {
		h.log.Error("auth.login.verify.fail", "user_id", a.id, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !match {
		h.audit(r, auditLoginFailed, slog.Int64("user_id", a.id), slog.String("reason", "bad_password"))
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect username or password")
		return
	}
	if !a.active {
		h.audit(r, auditLoginFailed, slog.Int64("user_id", a.id), slog.String("reason", "inactive"))
		writeError(w, http.StatusForbidden, "inactive_user", "inactive user")
		return
	}

	sid, refresh, err := h.sessions.create(a.id, now, h.cfg.RefreshTTL)
	if err != nil {
		h.log.Error("auth.login.session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	access, err := h.tokens.issue(a.id, sid, now)
	if err != nil {
		h.log.Error("auth.login.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(r, auditLoginSuccess, slog.Int64("user_id", a.id), slog.String("session_id", sid))
	u := a.public()
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		Expires:      int64(h.cfg.AccessTTL.Seconds()),
		User:         &u,
	})
}

// readLoginRequest accepts a JSON body or an OAuth2 password-grant form.
func (h *Handler) readLoginRequest(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "application/x-www-form-urlencoded" {
		var req loginRequest
		err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req)
		return req, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return loginRequest{}, err
	}
	if gt := r.PostForm.Get("grant_type"); gt != "" && gt != "password" {
		return loginRequest{}, fmt.Errorf("unsupported grant_type %q", gt)
	}
	return loginRequest{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}, nil
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	now := h.now()
	rs, next, err := h.sessions.use(raw, now, h.cfg.RotateRefresh)
	if err != nil {
		if errors.Is(err, errRefreshReused) {
			h.audit(r, auditRefreshReuse, slog.String("refresh_fp", token.Fingerprint(raw)))
		}
		writeError(w, http.StatusUnauthorized, "invalid_refresh", "invalid refresh token")
		return
	}

	a, ok := h.users.get(rs.userID)
	if !ok || !a.active {
		h.sessions.revoke(rs.id)
		writeError(w, http.StatusUnauthorized, "invalid_refresh", "invalid refresh token")
		return
	}

	access, err := h.tokens.issue(a.id, rs.id, now)
	if err != nil {
		h.log.Error("auth.refresh.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(r, auditRefreshSuccess, slog.String("session_id", rs.id), slog.Bool("rotated", next != ""))
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: next,
		TokenType:    "bearer",
		Expires:      int64(h.cfg.AccessTTL.Seconds()),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	h.sessions.revoke(claims.SessionID)
	h.audit(r, auditLogout, slog.Int64("user_id", claims.UserID), slog.String("session_id", claims.SessionID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	a, found := h.users.get(claims.UserID)
	if !found {
		writeError(w, http.StatusUnauthorized, "not_found", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, a.public())
}

// requireAuth accepts a bearer token only while its session is live and
// its account active.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (accessClaims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return accessClaims{}, false
	}

	now := h.now()
	claims, err := h.tokens.parse(raw, now)
	if err != nil || !h.sessions.active(claims.SessionID, now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return accessClaims{}, false
	}
	if a, ok := h.users.get(claims.UserID); !ok || !a.active {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return accessClaims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, rest, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}
