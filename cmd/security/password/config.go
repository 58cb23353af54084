package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"INFRAMON_ARGON2_MEMORY_KIB"`
	Iterations  uint32 `env:"INFRAMON_ARGON2_ITERATIONS"`
	Parallelism uint8  `env:"INFRAMON_ARGON2_PARALLELISM"`
	SaltLength  uint32 `env:"INFRAMON_ARGON2_SALT_LEN"`
	KeyLength   uint32 `env:"INFRAMON_ARGON2_KEY_LEN"`
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength      int  `env:"INFRAMON_PASSWORD_MIN_LEN"`
	MaxLength      int  `env:"INFRAMON_PASSWORD_MAX_LEN"`
	RejectVeryWeak bool `env:"INFRAMON_PASSWORD_REJECT_VERY_WEAK"`
}

// Config is the package's configuration surface.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns interactive-login strength parameters.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// FromEnv overlays INFRAMON_PASSWORD_* and INFRAMON_ARGON2_* variables on
// DefaultConfig and validates the result.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: argon2 memory %d KiB out of range [8192..1048576]", ErrConfig, p.MemoryKiB)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: argon2 iterations %d out of range [1..20]", ErrConfig, p.Iterations)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: argon2 parallelism must be positive", ErrConfig)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: salt length %d out of range [8..64]", ErrConfig, p.SaltLength)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: key length %d out of range [16..64]", ErrConfig, p.KeyLength)
	case c.Policy.MinLength < 1 || c.Policy.MinLength > c.Policy.MaxLength:
		return fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}
