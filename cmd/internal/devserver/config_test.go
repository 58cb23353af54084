package devserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"empty addr":      func(c *Config) { c.Addr = " " },
		"relative prefix": func(c *Config) { c.Prefix = "api" },
		"zero access ttl": func(c *Config) { c.AccessTTL = 0 },
		"short refresh":   func(c *Config) { c.RefreshTTL = time.Minute },
		"short secret":    func(c *Config) { c.JWTSecret = "too-short" },
		"body limit":      func(c *Config) { c.MaxBodyBytes = 0 },
		"negative burst":  func(c *Config) { c.LoginBurst = -1 },
		"stream interval": func(c *Config) { c.StreamInterval = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), errInvalidConfig)
		})
	}
}
