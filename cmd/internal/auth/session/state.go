package session

import (
	"time"

	authapi "inframon/cmd/internal/auth/api"
)

// State is the lifecycle state of the session.
type State int32

const (
	StateSignedOut State = iota
	StateAuthenticating
	StateAuthenticated
	StateRenewing
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRenewing:
		return "renewing"
	default:
		return "unknown"
	}
}

// Reason says why a session ended.
type Reason string

const (
	ReasonExplicit       Reason = "explicit"
	ReasonUnauthorized   Reason = "unauthorized"
	ReasonRenewalFailed  Reason = "renewal_failed"
	ReasonRenewalMissing Reason = "renewal_missing"
	ReasonIdle           Reason = "idle"
)

// EventKind identifies a session transition.
type EventKind int

const (
	EventSignedIn EventKind = iota + 1
	EventRestored
	EventRenewed
	EventIdentityUpdated
	EventSignedOut
)

func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventRestored:
		return "restored"
	case EventRenewed:
		return "renewed"
	case EventIdentityUpdated:
		return "identity_updated"
	case EventSignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a transition.
type Event struct {
	Kind      EventKind
	State     State
	User      authapi.User
	SessionID string
	Epoch     uint64
	// Reason is set for EventSignedOut.
	Reason Reason
	At     time.Time
}

// Sample is one reading of the remaining-time projection.
type Sample struct {
	At time.Time
	// Remaining is the time until the idle deadline, never negative.
	Remaining time.Duration
	// Idle is the time since the last recorded user activity.
	Idle time.Duration
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	State           State
	User            authapi.User
	SessionID       string
	Epoch           uint64
	RenewalDeadline time.Time
	IdleDeadline    time.Time
	LastActivityAt  time.Time
	Remaining       time.Duration
}

// Authenticated reports whether the snapshot holds an identity.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated || s.State == StateRenewing
}
