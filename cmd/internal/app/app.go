// Package app wires the inframon client runtime: config, logging, credential
// storage, the session manager and the commands built on them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/internal/auth/credstore"
	"inframon/cmd/internal/auth/session"
	"inframon/cmd/internal/clock"
	"inframon/cmd/internal/guard"
	"inframon/cmd/internal/transport"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns one signed-in (or signed-out) client session and everything that
// hangs off it.
type App struct {
	cfg Config
	log Logger

	store  credstore.Store
	dbPool *pgxpool.Pool
	clk    clock.Clock

	api      *authapi.Client
	session  *session.Manager
	registry *prometheus.Registry
	guard    *guard.Guard
	nav      *guard.MemoryNavigator
	http     *http.Client

	unfollow func()
}

// Option configures an App.
type Option func(*App)

// WithCredentialStore replaces the store selected by Config.Store.
func WithCredentialStore(st credstore.Store) Option {
	return func(a *App) {
		if st != nil {
			a.store = st
		}
	}
}

// WithClock drives session timers from clk.
func WithClock(clk clock.Clock) Option {
	return func(a *App) {
		if clk != nil {
			a.clk = clk
		}
	}
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, clk: clock.Real()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(a)
	}

	if a.store == nil {
		st, pool, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.store, a.dbPool = st, pool
	}

	api, err := authapi.NewClient(cfg.APIURL,
		authapi.WithLogger(log),
		authapi.WithLoginEncoding(authapi.LoginEncoding(cfg.LoginEncoding)),
		authapi.WithHTTPClient(&http.Client{Timeout: cfg.CallTimeout}),
	)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.api = api

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mgr, err := session.NewManager(cfg.SessionConfig(), api, a.store,
		session.WithLogger(log),
		session.WithClock(a.clk),
		session.WithMetrics(session.NewMetrics(a.registry)),
	)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.session = mgr

	a.guard = guard.New(mgr, cfg.GuardConfig())
	a.nav = guard.NewMemoryNavigator(a.guard.SignInRoute(), func(from, to string) {
		log.Info("nav.redirect", "from", from, "to", to)
	})
	a.unfollow = a.guard.Follow(mgr, a.nav)

	a.http = transport.NewClient(mgr, cfg.RequestTimeout,
		transport.WithRoutes(a.nav, a.guard.SignInRoute()),
		transport.WithLogger(log),
	)
	return a, nil
}

// Session returns the session manager.
func (a *App) Session() *session.Manager { return a.session }

// HTTPClient returns the client that carries the session credential.
func (a *App) HTTPClient() *http.Client { return a.http }

// Route returns the route the session currently sits on.
func (a *App) Route() string { return a.nav.Current() }

// Close stops timers and releases storage. The persisted session survives.
func (a *App) Close() error {
	if a.unfollow != nil {
		a.unfollow()
	}
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	errs = append(errs, a.closeStore())
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	return err
}

// resourceURL resolves an API path (e.g. "hosts") against the API base.
func (a *App) resourceURL(path string) string {
	return a.cfg.APIURL + "/" + strings.TrimLeft(path, "/")
}

// streamURL is resourceURL with the scheme switched to ws or wss.
func (a *App) streamURL(path string) (string, error) {
	u, err := url.Parse(a.resourceURL(path))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("app: cannot stream over %q", u.Scheme)
	}
	return u.String(), nil
}

// openStore selects the credential store backend.
func openStore(ctx context.Context, cfg Config) (credstore.Store, *pgxpool.Pool, error) {
	switch cfg.Store {
	case StoreMemory:
		return credstore.NewMemoryStore(), nil, nil
	case StoreSQLite:
		st, err := credstore.OpenSQLite(cfg.StorePath, cfg.Profile)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		st, err := credstore.NewPostgresStore(pool, cfg.Profile)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown store %q", cfg.Store)
	}
}
