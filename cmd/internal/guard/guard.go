// Package guard decides which routes need a session and moves the user to
// the sign-in route when the session ends.
package guard

import (
	"strings"
	"sync"

	"inframon/cmd/internal/auth/session"
)

// AuthState reports whether a session is active.
type AuthState interface {
	IsAuthenticated() bool
}

// Subscriber delivers session events.
type Subscriber interface {
	Subscribe(fn func(session.Event)) func()
}

// Navigator exposes the current route and moves to another.
type Navigator interface {
	Current() string
	Navigate(route string)
}

// Config names the special routes.
type Config struct {
	SignInRoute string
	HomeRoute   string
	// PublicRoutes never need a session. A route ending in "/" matches its subtree.
	PublicRoutes []string
}

// DefaultConfig uses /login and /.
func DefaultConfig() Config {
	return Config{SignInRoute: "/login", HomeRoute: "/"}
}

// Guard gates routes on the session state.
type Guard struct {
	auth   AuthState
	signIn string
	home   string
	public []string
}

// New builds a Guard. Empty routes in cfg fall back to DefaultConfig.
func New(auth AuthState, cfg Config) *Guard {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.SignInRoute) == "" {
		cfg.SignInRoute = def.SignInRoute
	}
	if strings.TrimSpace(cfg.HomeRoute) == "" {
		cfg.HomeRoute = def.HomeRoute
	}
	return &Guard{
		auth:   auth,
		signIn: cfg.SignInRoute,
		home:   cfg.HomeRoute,
		public: append([]string(nil), cfg.PublicRoutes...),
	}
}

// SignInRoute returns the sign-in route.
func (g *Guard) SignInRoute() string { return g.signIn }

// HomeRoute returns the landing route after sign-in.
func (g *Guard) HomeRoute() string { return g.home }

// Resolve returns the route to show for a request to route and whether the
// request is allowed as is.
func (g *Guard) Resolve(route string) (string, bool) {
	authed := g.auth != nil && g.auth.IsAuthenticated()

	switch {
	case route == g.signIn:
		if authed {
			return g.home, false
		}
		return route, true
	case g.isPublic(route):
		return route, true
	case authed:
		return route, true
	default:
		return g.signIn, false
	}
}

func (g *Guard) isPublic(route string) bool {
	for _, p := range g.public {
		if route == p {
			return true
		}
		if strings.HasSuffix(p, "/") && strings.HasPrefix(route, p) {
			return true
		}
	}
	return false
}

// Follow keeps nav in step with the session: sign-out moves to the sign-in
// route unless already there, sign-in moves from the sign-in route to home.
// It returns a function that stops following.
func (g *Guard) Follow(sub Subscriber, nav Navigator) func() {
	return sub.Subscribe(func(ev session.Event) {
		current := nav.Current()
		switch ev.Kind {
		case session.EventSignedOut:
			if current != g.signIn {
				nav.Navigate(g.signIn)
			}
		case session.EventSignedIn, session.EventRestored:
			if current == g.signIn || current == "" {
				nav.Navigate(g.home)
			}
		}
	})
}

// MemoryNavigator is a Navigator that keeps the route in memory.
type MemoryNavigator struct {
	mu      sync.Mutex
	current string
	history []string
	onMove  func(from, to string)
}

// NewMemoryNavigator starts at route. onMove, when set, is called after each move.
func NewMemoryNavigator(route string, onMove func(from, to string)) *MemoryNavigator {
	return &MemoryNavigator{current: route, onMove: onMove}
}

func (n *MemoryNavigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *MemoryNavigator) Navigate(route string) {
	n.mu.Lock()
	from := n.current
	n.current = route
	n.history = append(n.history, route)
	hook := n.onMove
	n.mu.Unlock()

	if hook != nil {
		hook(from, route)
	}
}

// History returns every route navigated to, oldest first.
func (n *MemoryNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}
