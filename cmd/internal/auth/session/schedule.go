package session

import (
	"time"

	"inframon/cmd/internal/clock"
)

// schedule holds the renewal and idle timers of the current session.
// It is guarded by the Manager's mutex.
type schedule struct {
	clk clock.Clock
	gen uint64

	renewal   clock.Timer
	idle      clock.Timer
	renewalAt time.Time
	idleAt    time.Time
}

// arm stops any existing timers and creates fresh ones relative to now.
// Callbacks receive the generation they were armed under.
func (s *schedule) arm(now time.Time, cfg Config, onRenewal, onIdle func(gen uint64)) {
	s.cancel()

	s.gen++
	gen := s.gen
	s.renewalAt = now.Add(cfg.RenewalInterval)
	s.idleAt = now.Add(cfg.IdleInterval)
	s.renewal = s.clk.AfterFunc(cfg.RenewalInterval, func() { onRenewal(gen) })
	s.idle = s.clk.AfterFunc(cfg.IdleInterval, func() { onIdle(gen) })
}

// cancel stops both timers and invalidates callbacks already in flight.
func (s *schedule) cancel() {
	if s.renewal != nil {
		s.renewal.Stop()
		s.renewal = nil
	}
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.gen++
	s.renewalAt = time.Time{}
	s.idleAt = time.Time{}
}

func (s *schedule) current(gen uint64) bool {
	return gen == s.gen && (s.renewal != nil || s.idle != nil)
}

func (s *schedule) remaining(now time.Time) time.Duration {
	if s.idleAt.IsZero() {
		return 0
	}
	return max(s.idleAt.Sub(now), 0)
}
