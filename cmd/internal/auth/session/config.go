package session

import (
	"fmt"
	"time"
)

// Config defines the session timing policy.
type Config struct {
	// RenewalInterval is how long after login or the last renewal the access
	// credential is refreshed.
	RenewalInterval time.Duration

	// IdleInterval is how long after login or the last renewal the session
	// is ended. It is measured from the last renewal, not from user activity.
	IdleInterval time.Duration

	// SampleInterval is how often the remaining-time projection is recomputed.
	SampleInterval time.Duration

	// CallTimeout bounds each auth endpoint call.
	CallTimeout time.Duration

	// VerifyOnRestore makes Restore confirm the persisted identity with GET /auth/me.
	VerifyOnRestore bool
}

// DefaultConfig returns the standard policy: renew every 5 minutes, expire
// after 30 minutes, sample once a second.
func DefaultConfig() Config {
	return Config{
		RenewalInterval: 5 * time.Minute,
		IdleInterval:    30 * time.Minute,
		SampleInterval:  time.Second,
		CallTimeout:     15 * time.Second,
	}
}

// Validate returns ErrConfig if any interval is not positive.
func (c Config) Validate() error {
	switch {
	case c.RenewalInterval <= 0:
		return fmt.Errorf("%w: renewal interval must be positive", ErrConfig)
	case c.IdleInterval <= 0:
		return fmt.Errorf("%w: idle interval must be positive", ErrConfig)
	case c.SampleInterval <= 0:
		return fmt.Errorf("%w: sample interval must be positive", ErrConfig)
	case c.CallTimeout <= 0:
		return fmt.Errorf("%w: call timeout must be positive", ErrConfig)
	}
	return nil
}
