package devserver

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config controls the local auth server. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	Addr   string `toml:"addr" env:"ADDR"`
	Prefix string `toml:"prefix" env:"PREFIX"`

	AccessTTL  time.Duration `toml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL time.Duration `toml:"refresh_ttl" env:"REFRESH_TTL"`
	// RotateRefresh issues a new refresh token on every refresh.
	RotateRefresh bool `toml:"rotate_refresh" env:"ROTATE_REFRESH"`

	// JWTSecret signs access tokens. Empty means a random per-process key.
	JWTSecret string `toml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `toml:"issuer" env:"ISSUER"`

	AdminUsername string `toml:"admin_username" env:"ADMIN_USERNAME"`
	AdminPassword string `toml:"admin_password" env:"ADMIN_PASSWORD"`
	AdminEmail    string `toml:"admin_email" env:"ADMIN_EMAIL"`

	TrustProxy         bool  `toml:"trust_proxy" env:"TRUST_PROXY"`
	MaxBodyBytes       int64 `toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	LoginRatePerMinute int   `toml:"login_rate_per_minute" env:"LOGIN_RATE_PER_MINUTE"`
	LoginBurst         int   `toml:"login_burst" env:"LOGIN_BURST"`

	// StreamInterval paces /hosts/stream updates.
	StreamInterval time.Duration `toml:"stream_interval" env:"STREAM_INTERVAL"`
}

// DefaultConfig mirrors the production backend: 30 minute access tokens
// and week-long refresh tokens.
func DefaultConfig() Config {
	return Config{
		Addr:               "127.0.0.1:8065",
		Prefix:             "/api/v1",
		AccessTTL:          30 * time.Minute,
		RefreshTTL:         7 * 24 * time.Hour,
		RotateRefresh:      true,
		Issuer:             "inframon",
		AdminUsername:      "admin",
		AdminEmail:         "admin@localhost",
		MaxBodyBytes:       1 << 20, // 1 MiB
		LoginRatePerMinute: 10,
		LoginBurst:         5,
		StreamInterval:     2 * time.Second,
	}
}

var errInvalidConfig = errors.New("devserver: invalid config")

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		errs = append(errs, fmt.Errorf("prefix %q must start with /", c.Prefix))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("access_ttl must be positive"))
	}
	if c.RefreshTTL < c.AccessTTL {
		errs = append(errs, errors.New("refresh_ttl must be at least access_ttl"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("jwt_secret must be at least 32 bytes"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if c.LoginRatePerMinute < 0 || c.LoginBurst < 0 {
		errs = append(errs, errors.New("login rate settings must not be negative"))
	}
	if c.StreamInterval <= 0 {
		errs = append(errs, errors.New("stream_interval must be positive"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errInvalidConfig, errors.Join(errs...))
}
