package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"inframon/cmd/identity/ids"
	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/internal/auth/credstore"
	"inframon/cmd/internal/clock"
	"inframon/cmd/security/token"
)

// API is the subset of the auth endpoints the Manager calls.
type API interface {
	Login(ctx context.Context, username, password string) (authapi.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (authapi.RefreshResult, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (authapi.User, error)
}

// Manager is the single owner of the session state, the credential store
// and the session timers. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	api     API
	store   credstore.Store
	clk     clock.Clock
	log     *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	closed    bool
	state     State
	epoch     uint64
	user      authapi.User
	access    string
	refresh   string
	sessionID string
	sched     schedule
	remaining time.Duration

	sampler    clock.Timer
	samplerGen uint64
	sampleID   uint64
	sampleSubs map[uint64]func(Sample)

	activity ActivityTracker
	events   notifier
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clk = c
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager constructs a Manager in the signed-out state. Call Restore to
// adopt a persisted session.
func NewManager(cfg Config, api API, store credstore.Store, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if api == nil {
		return nil, fmt.Errorf("%w: nil auth api", ErrConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil credential store", ErrConfig)
	}

	m := &Manager{
		cfg:        cfg,
		api:        api,
		store:      store,
		clk:        clock.Real(),
		log:        slog.Default(),
		sampleSubs: make(map[uint64]func(Sample)),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	m.sched.clk = m.clk
	return m, nil
}

// ---- operations ----

// Login authenticates with the server and starts a session.
func (m *Manager) Login(ctx context.Context, username, password string) (authapi.User, error) {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return authapi.User{}, ErrClosed
	case m.state == StateAuthenticating:
		m.mu.Unlock()
		return authapi.User{}, ErrLoginInProgress
	case m.state != StateSignedOut:
		m.mu.Unlock()
		return authapi.User{}, ErrAlreadySignedIn
	}
	m.state = StateAuthenticating
	epoch := m.epoch
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	res, err := m.api.Login(callCtx, username, password)
	cancel()

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		// The session was ended while the request was in flight.
		if m.closed && m.state == StateAuthenticating {
			m.state = StateSignedOut
		}
		m.mu.Unlock()
		m.metrics.login("superseded")
		m.log.Info("auth.login.superseded", "username", username)
		return authapi.User{}, ErrSessionSuperseded
	}
	if err == nil && (res.AccessToken == "" || res.RefreshToken == "" || res.User.ID == "") {
		err = fmt.Errorf("%w: login response missing tokens or user", authapi.ErrMalformedResponse)
	}
	if err != nil {
		m.state = StateSignedOut
		m.mu.Unlock()
		m.metrics.login("failure")
		m.log.Warn("auth.login.fail", "username", username, "status", authapi.StatusOf(err), "err", err)
		return authapi.User{}, loginError(err)
	}

	if err := m.persistLocked(res.AccessToken, res.RefreshToken, res.User); err != nil {
		m.clearStoreLocked()
		m.state = StateSignedOut
		m.mu.Unlock()
		m.metrics.login("failure")
		m.log.Error("auth.login.persist.fail", "username", username, "err", err)
		return authapi.User{}, err
	}

	now := m.clk.Now()
	m.epoch++
	m.access = res.AccessToken
	m.refresh = res.RefreshToken
	m.user = res.User
	m.sessionID = m.newSessionID(now)
	m.state = StateAuthenticated
	m.startLocked(now)
	m.events.enqueue(m.eventLocked(EventSignedIn, now))
	sessionID := m.sessionID
	m.mu.Unlock()

	m.events.flush()
	m.metrics.login("success")
	m.log.Info("auth.login.success", m.credentialAttrs(sessionID, res.User.ID, res.AccessToken)...)
	return res.User, nil
}

// Logout ends the session and asks the server to revoke it. It is
// idempotent; server errors are logged and otherwise ignored.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	access, ended := m.terminateLocked(ReasonExplicit)
	m.mu.Unlock()

	m.finishTermination(ctx, ReasonExplicit, access, ended)
}

// ForceLogout ends the session for reason without contacting the server.
// It reports whether this call ended an active session.
func (m *Manager) ForceLogout(reason Reason) bool {
	m.mu.Lock()
	access, ended := m.terminateLocked(reason)
	m.mu.Unlock()

	m.finishTermination(context.Background(), reason, access, ended)
	return ended
}

// ForceLogoutEpoch is ForceLogout restricted to the session identified by
// epoch (see AccessCredential). It does nothing once that session is gone.
func (m *Manager) ForceLogoutEpoch(epoch uint64, reason Reason) bool {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		m.log.Debug("auth.session.force_logout.stale", "reason", string(reason), "epoch", epoch)
		return false
	}
	access, ended := m.terminateLocked(reason)
	m.mu.Unlock()

	m.finishTermination(context.Background(), reason, access, ended)
	return ended
}

// Restore adopts a persisted session without contacting the server, unless
// VerifyOnRestore is set. It reports whether a session is active afterwards.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	if m.state != StateSignedOut {
		active := m.state == StateAuthenticated || m.state == StateRenewing
		m.mu.Unlock()
		return active, nil
	}

	creds, ok, err := m.store.Load(ctx)
	if err != nil {
		m.mu.Unlock()
		return false, fmt.Errorf("session: load credentials: %w", err)
	}
	if !ok {
		m.mu.Unlock()
		return false, nil
	}

	var user authapi.User
	if creds.AccessToken == "" || len(creds.User) == 0 ||
		json.Unmarshal(creds.User, &user) != nil || user.ID == "" {
		m.clearStoreLocked()
		m.mu.Unlock()
		m.log.Warn("auth.restore.discard_partial",
			"has_access", creds.AccessToken != "",
			"has_refresh", creds.RefreshToken != "",
			"has_user", len(creds.User) > 0,
		)
		return false, nil
	}

	now := m.clk.Now()
	m.epoch++
	m.access = creds.AccessToken
	m.refresh = creds.RefreshToken
	m.user = user
	m.sessionID = m.newSessionID(now)
	m.state = StateAuthenticated
	m.startLocked(now)
	m.events.enqueue(m.eventLocked(EventRestored, now))
	epoch, access, sessionID := m.epoch, m.access, m.sessionID
	m.mu.Unlock()

	m.events.flush()
	m.metrics.restored()
	m.log.Info("auth.restore.success", m.credentialAttrs(sessionID, user.ID, access)...)

	if !m.cfg.VerifyOnRestore {
		return true, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	fresh, err := m.api.Me(callCtx, access)
	cancel()
	if err != nil {
		if authapi.IsUnauthorized(err) {
			m.log.Info("auth.restore.verify.rejected", "session_id", sessionID)
			m.ForceLogoutEpoch(epoch, ReasonUnauthorized)
			return false, nil
		}
		m.log.Warn("auth.restore.verify.fail", "session_id", sessionID, "err", err)
		return m.IsAuthenticated(), nil
	}

	m.mu.Lock()
	if epoch == m.epoch && m.state != StateSignedOut {
		if err := m.setIdentityLocked(fresh); err != nil {
			m.log.Error("auth.restore.persist.fail", "session_id", sessionID, "err", err)
		}
	}
	m.mu.Unlock()
	m.events.flush()

	return m.IsAuthenticated(), nil
}

// UpdateIdentity merges patch into the current identity and persists it.
// Session deadlines are not touched.
func (m *Manager) UpdateIdentity(ctx context.Context, patch authapi.UserPatch) (authapi.User, error) {
	if err := ctx.Err(); err != nil {
		return authapi.User{}, err
	}

	m.mu.Lock()
	if m.state != StateAuthenticated && m.state != StateRenewing {
		m.mu.Unlock()
		return authapi.User{}, ErrNotAuthenticated
	}
	u := patch.Apply(m.user)
	if err := m.setIdentityLocked(u); err != nil {
		m.mu.Unlock()
		return authapi.User{}, err
	}
	m.mu.Unlock()

	m.events.flush()
	return u, nil
}

// RecordActivity notes a user interaction. It never changes deadlines.
func (m *Manager) RecordActivity(sig Signal) bool {
	return m.activity.Record(sig, m.clk.Now())
}

// Subscribe registers fn for session events and returns a function that
// removes it. fn runs outside the Manager's lock and may call back into it.
func (m *Manager) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	return m.events.subscribe(fn)
}

// OnSample registers fn to receive each remaining-time sample.
func (m *Manager) OnSample(fn func(Sample)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	m.sampleID++
	id := m.sampleID
	m.sampleSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.sampleSubs, id)
		m.mu.Unlock()
	}
}

// Close stops all timers. The persisted credentials are kept so the next
// process can Restore them.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.sched.cancel()
	m.stopSamplerLocked()
	m.activity.stop()
	m.epoch++
	return nil
}

// ---- reads ----

// IsAuthenticated reports whether an identity and access credential are held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated || m.state == StateRenewing
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the current user.
func (m *Manager) Identity() (authapi.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user, m.user.ID != ""
}

// AccessCredential returns the access credential (empty when signed out)
// and the epoch it belongs to.
func (m *Manager) AccessCredential() (string, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, m.epoch
}

// TimeRemaining returns the most recent remaining-time sample. It is for
// display only and never drives expiry.
func (m *Manager) TimeRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// Snapshot returns a consistent view of the session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:           m.state,
		User:            m.user,
		SessionID:       m.sessionID,
		Epoch:           m.epoch,
		RenewalDeadline: m.sched.renewalAt,
		IdleDeadline:    m.sched.idleAt,
		LastActivityAt:  m.activity.LastActivity(),
		Remaining:       m.remaining,
	}
}

// ---- timers ----

func (m *Manager) startLocked(now time.Time) {
	epoch := m.epoch
	m.sched.arm(now, m.cfg,
		func(gen uint64) { m.renew(epoch, gen) },
		func(gen uint64) { m.expireIdle(epoch, gen) },
	)
	m.activity.start(now)
	m.startSamplerLocked(now)
}

func (m *Manager) renew(epoch, gen uint64) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch || !m.sched.current(gen) || m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	if m.refresh == "" {
		access, ended := m.terminateLocked(ReasonRenewalMissing)
		m.mu.Unlock()
		m.log.Warn("auth.refresh.missing_credential", "epoch", epoch)
		m.finishTermination(context.Background(), ReasonRenewalMissing, access, ended)
		return
	}
	refreshToken, sessionID := m.refresh, m.sessionID
	m.state = StateRenewing
	m.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	res, err := m.api.Refresh(ctx, refreshToken)
	cancel()
	took := time.Since(start)

	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		m.metrics.refresh("stale", took)
		m.log.Info("auth.refresh.stale", "session_id", sessionID, "epoch", epoch, "failed", err != nil)
		return
	}
	if err == nil {
		next := m.refresh
		if res.RefreshToken != "" {
			next = res.RefreshToken
		}
		err = m.persistLocked(res.AccessToken, next, m.user)
		if err == nil {
			m.access = res.AccessToken
			m.refresh = next
		}
	}
	if err != nil {
		access, ended := m.terminateLocked(ReasonRenewalFailed)
		m.mu.Unlock()
		m.metrics.refresh("failure", took)
		m.log.Warn("auth.refresh.fail", "session_id", sessionID, "status", authapi.StatusOf(err), "err", err)
		m.finishTermination(context.Background(), ReasonRenewalFailed, access, ended)
		return
	}

	now := m.clk.Now()
	m.state = StateAuthenticated
	m.sched.arm(now, m.cfg,
		func(gen uint64) { m.renew(epoch, gen) },
		func(gen uint64) { m.expireIdle(epoch, gen) },
	)
	m.remaining = m.sched.remaining(now)
	m.events.enqueue(m.eventLocked(EventRenewed, now))
	rotated := res.RefreshToken != ""
	m.mu.Unlock()

	m.events.flush()
	m.metrics.refresh("success", took)
	m.log.Info("auth.refresh.success",
		append(m.credentialAttrs(sessionID, m.userID(), res.AccessToken), "rotated", rotated)...)
}

func (m *Manager) expireIdle(epoch, gen uint64) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch || !m.sched.current(gen) {
		m.mu.Unlock()
		return
	}
	access, ended := m.terminateLocked(ReasonIdle)
	m.mu.Unlock()

	m.finishTermination(context.Background(), ReasonIdle, access, ended)
}

func (m *Manager) startSamplerLocked(now time.Time) {
	m.stopSamplerLocked()
	gen := m.samplerGen
	m.remaining = m.sched.remaining(now)
	m.sampler = m.clk.AfterFunc(m.cfg.SampleInterval, func() { m.sample(gen) })
}

func (m *Manager) stopSamplerLocked() {
	if m.sampler != nil {
		m.sampler.Stop()
		m.sampler = nil
	}
	m.samplerGen++
}

// sample recomputes the remaining-time projection. It never ends a session.
func (m *Manager) sample(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.samplerGen {
		m.mu.Unlock()
		return
	}
	now := m.clk.Now()
	s := Sample{At: now, Remaining: m.sched.remaining(now)}
	if last := m.activity.LastActivity(); !last.IsZero() {
		s.Idle = max(now.Sub(last), 0)
	}
	m.remaining = s.Remaining
	m.sampler = m.clk.AfterFunc(m.cfg.SampleInterval, func() { m.sample(gen) })

	fns := make([]func(Sample), 0, len(m.sampleSubs))
	for _, fn := range m.sampleSubs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// ---- termination ----

// terminateLocked is the single cleanup routine behind every sign-out path.
// It returns the access credential that was active and whether a session
// existed before the call.
func (m *Manager) terminateLocked(reason Reason) (string, bool) {
	m.sched.cancel()
	m.stopSamplerLocked()
	m.activity.stop()
	m.epoch++

	ended := m.user.ID != "" || m.access != ""
	access := m.access
	prev := m.eventLocked(EventSignedOut, m.clk.Now())

	m.clearStoreLocked()
	m.access = ""
	m.refresh = ""
	m.user = authapi.User{}
	m.sessionID = ""
	m.state = StateSignedOut
	m.remaining = 0

	if ended {
		prev.State = StateSignedOut
		prev.Epoch = m.epoch
		prev.Reason = reason
		m.events.enqueue(prev)
	}
	return access, ended
}

func (m *Manager) finishTermination(ctx context.Context, reason Reason, access string, ended bool) {
	m.events.flush()
	if !ended {
		return
	}
	m.metrics.terminated(reason)
	m.log.Info("auth.session.terminated", "reason", string(reason), "access_fp", token.Fingerprint(access))

	if access == "" || (reason != ReasonExplicit && reason != ReasonIdle) {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.api.Logout(callCtx, access); err != nil {
		m.log.Debug("auth.logout.revoke.fail", "reason", string(reason), "status", authapi.StatusOf(err), "err", err)
	}
}

// ---- helpers ----

// persistLocked and clearStoreLocked run with m.mu held so the stored set
// always matches the in-memory session: a termination cannot clear the store
// while a login or renewal is still writing it. Readers such as
// AccessCredential wait for at most CallTimeout per write.
func (m *Manager) persistLocked(access, refresh string, u authapi.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("session: encode identity: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()
	if err := m.store.Save(ctx, credstore.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         raw,
	}); err != nil {
		return fmt.Errorf("session: persist credentials: %w", err)
	}
	return nil
}

func (m *Manager) clearStoreLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.log.Error("auth.session.clear_store.fail", "err", err)
	}
}

func (m *Manager) setIdentityLocked(u authapi.User) error {
	if err := m.persistLocked(m.access, m.refresh, u); err != nil {
		return err
	}
	m.user = u
	m.events.enqueue(m.eventLocked(EventIdentityUpdated, m.clk.Now()))
	return nil
}

func (m *Manager) eventLocked(kind EventKind, now time.Time) Event {
	return Event{
		Kind:      kind,
		State:     m.state,
		User:      m.user,
		SessionID: m.sessionID,
		Epoch:     m.epoch,
		At:        now,
	}
}

func (m *Manager) userID() authapi.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.ID
}

func (m *Manager) newSessionID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		m.log.Warn("auth.session.id.fail", "err", err)
		return ""
	}
	return id
}

func (m *Manager) credentialAttrs(sessionID string, userID authapi.UserID, access string) []any {
	attrs := []any{
		"session_id", sessionID,
		"user_id", string(userID),
		"access_fp", token.Fingerprint(access),
	}
	if exp, ok := token.ExpiresAt(access); ok {
		attrs = append(attrs, "access_exp", exp.UTC().Format(time.RFC3339))
	}
	return attrs
}

func loginError(err error) error {
	switch {
	case errors.Is(err, authapi.ErrMalformedResponse):
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	case errors.Is(err, authapi.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	switch authapi.StatusOf(err) {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return fmt.Errorf("session: login: %w", err)
}
