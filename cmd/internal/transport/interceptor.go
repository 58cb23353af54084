// Package transport carries the session credential on outgoing API calls
// and ends the session when the API rejects it.
package transport

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"inframon/cmd/identity/ids"
	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/internal/auth/session"
	"inframon/cmd/security/token"
)

// Session is the part of the session manager the interceptor needs.
type Session interface {
	AccessCredential() (string, uint64)
	ForceLogoutEpoch(epoch uint64, reason session.Reason) bool
}

// RouteSource reports the route the user is on.
type RouteSource interface {
	Current() string
}

// Interceptor is an http.RoundTripper that attaches the access credential
// and turns a 401 into a forced logout.
type Interceptor struct {
	base   http.RoundTripper
	sess   Session
	routes RouteSource
	signIn string
	exempt []string
	log    *slog.Logger
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithBase sets the wrapped transport. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(i *Interceptor) {
		if rt != nil {
			i.base = rt
		}
	}
}

// WithRoutes makes the interceptor skip the forced logout while the user is
// on the sign-in route.
func WithRoutes(src RouteSource, signInRoute string) Option {
	return func(i *Interceptor) {
		i.routes = src
		i.signIn = signInRoute
	}
}

// WithExemptPaths adds path suffixes whose 401s never end the session.
func WithExemptPaths(paths ...string) Option {
	return func(i *Interceptor) {
		i.exempt = append(i.exempt, paths...)
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Interceptor) {
		if log != nil {
			i.log = log
		}
	}
}

// New wraps sess. The login and logout endpoints are always exempt.
func New(sess Session, opts ...Option) *Interceptor {
	i := &Interceptor{
		base:   http.DefaultTransport,
		sess:   sess,
		exempt: []string{authapi.PathLogin, authapi.PathLogout},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(i)
	}
	return i
}

// NewClient returns an http.Client that routes through a new Interceptor.
func NewClient(sess Session, timeout time.Duration, opts ...Option) *http.Client {
	return &http.Client{
		Transport: New(sess, opts...),
		Timeout:   timeout,
	}
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	access, epoch := i.sess.AccessCredential()

	r := req.Clone(req.Context())
	attached := false
	if access != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+access)
		attached = true
	}
	if r.Header.Get("X-Request-ID") == "" {
		if id, err := ids.NewULID(time.Now()); err == nil {
			r.Header.Set("X-Request-ID", id)
		}
	}

	resp, err := i.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && attached && !i.isExempt(r.URL.Path) && !i.onSignIn() {
		if i.sess.ForceLogoutEpoch(epoch, session.ReasonUnauthorized) {
			i.log.Info("http.unauthorized.logout",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", r.Header.Get("X-Request-ID"),
				"access_fp", token.Fingerprint(access),
			)
		}
	}
	return resp, nil
}

func (i *Interceptor) isExempt(path string) bool {
	path = strings.TrimRight(path, "/")
	for _, p := range i.exempt {
		if p != "" && strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

func (i *Interceptor) onSignIn() bool {
	if i.routes == nil || i.signIn == "" {
		return false
	}
	return i.routes.Current() == i.signIn
}
