package session

import (
	"sync/atomic"
	"time"
)

// Signal is a kind of user interaction.
type Signal int

const (
	SignalPointer Signal = iota + 1
	SignalKey
	SignalScroll
)

func (s Signal) String() string {
	switch s {
	case SignalPointer:
		return "pointer"
	case SignalKey:
		return "key"
	case SignalScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// ActivityTracker records when the user last interacted. It only records
// while a session is active and never affects the session deadlines.
type ActivityTracker struct {
	active atomic.Bool
	last   atomic.Int64 // unix nanos
}

// Record notes an interaction at now. It reports false when tracking is off.
func (t *ActivityTracker) Record(sig Signal, now time.Time) bool {
	if sig < SignalPointer || sig > SignalScroll {
		return false
	}
	if !t.active.Load() {
		return false
	}
	t.last.Store(now.UnixNano())
	return true
}

// LastActivity returns the time of the last recorded interaction, or zero.
func (t *ActivityTracker) LastActivity() time.Time {
	n := t.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Active reports whether interactions are being recorded.
func (t *ActivityTracker) Active() bool { return t.active.Load() }

func (t *ActivityTracker) start(now time.Time) {
	t.last.Store(now.UnixNano())
	t.active.Store(true)
}

func (t *ActivityTracker) stop() {
	t.active.Store(false)
	t.last.Store(0)
}
