package session

import "errors"

var (
	// ErrLoginInProgress is returned when Login is called while another login is pending.
	ErrLoginInProgress = errors.New("session: login already in progress")

	// ErrAlreadySignedIn is returned when Login is called on an active session.
	ErrAlreadySignedIn = errors.New("session: already signed in")

	// ErrNotAuthenticated is returned by operations that need an active session.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrInvalidCredentials is returned when the server rejects a login.
	ErrInvalidCredentials = errors.New("session: invalid credentials")

	// ErrSessionSuperseded is returned when the session ended while a login was in flight.
	ErrSessionSuperseded = errors.New("session: superseded")

	// ErrMalformedResponse is returned when a login response lacks tokens or an identity.
	ErrMalformedResponse = errors.New("session: malformed response")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: manager closed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("session: invalid config")
)
