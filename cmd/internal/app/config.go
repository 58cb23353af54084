package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/internal/auth/session"
	"inframon/cmd/internal/devserver"
	"inframon/cmd/internal/guard"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// ConfigFileEnv names the optional TOML config file.
const ConfigFileEnv = "INFRAMON_CONFIG"

const envPrefix = "INFRAMON_"

// Store backends for persisted credentials.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the client runtime configuration. Values come from defaults,
// then the TOML file named by INFRAMON_CONFIG, then INFRAMON_* variables.
type Config struct {
	APIURL        string `toml:"api_url" env:"API_URL"`
	LoginEncoding string `toml:"login_encoding" env:"LOGIN_ENCODING"`
	// AllowInsecure permits a plaintext API URL for non-loopback hosts.
	AllowInsecure  bool          `toml:"allow_insecure" env:"ALLOW_INSECURE"`
	RequestTimeout time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`

	LogLevel  string `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"LOG_FORMAT"`
	LogColor  bool   `toml:"log_color" env:"LOG_COLOR"`

	Store       string `toml:"store" env:"STORE"`
	StorePath   string `toml:"store_path" env:"STORE_PATH"`
	Profile     string `toml:"profile" env:"PROFILE"`
	DatabaseURL string `toml:"database_url" env:"DATABASE_URL"`
	DBMaxConns  int32  `toml:"db_max_conns" env:"DB_MAX_CONNS"`
	DBMinConns  int32  `toml:"db_min_conns" env:"DB_MIN_CONNS"`

	RenewalInterval time.Duration `toml:"renewal_interval" env:"RENEWAL_INTERVAL"`
	IdleInterval    time.Duration `toml:"idle_interval" env:"IDLE_INTERVAL"`
	SampleInterval  time.Duration `toml:"sample_interval" env:"SAMPLE_INTERVAL"`
	CallTimeout     time.Duration `toml:"call_timeout" env:"CALL_TIMEOUT"`
	VerifyOnRestore bool          `toml:"verify_on_restore" env:"VERIFY_ON_RESTORE"`

	SignInRoute string `toml:"sign_in_route" env:"SIGN_IN_ROUTE"`
	HomeRoute   string `toml:"home_route" env:"HOME_ROUTE"`

	MetricsAddr string `toml:"metrics_addr" env:"METRICS_ADDR"`

	// RequireTokenHMAC makes the dev server refuse to start unless refresh
	// tokens are hashed with INFRAMON_TOKEN_HMAC_KEY.
	RequireTokenHMAC bool `toml:"require_token_hmac" env:"REQUIRE_TOKEN_HMAC"`

	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `toml:"http_idle_timeout" env:"HTTP_IDLE_TIMEOUT"`

	DevServer devserver.Config `toml:"devserver" envPrefix:"DEVSERVER_"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	sc := session.DefaultConfig()
	gc := guard.DefaultConfig()

	return Config{
		APIURL:         "http://127.0.0.1:8065/api/v1",
		LoginEncoding:  string(authapi.LoginJSON),
		RequestTimeout: 30 * time.Second,

		LogLevel:  "info",
		LogFormat: "json",

		Store:      StoreSQLite,
		StorePath:  defaultStorePath(),
		Profile:    "default",
		DBMaxConns: 4,

		RenewalInterval: sc.RenewalInterval,
		IdleInterval:    sc.IdleInterval,
		SampleInterval:  sc.SampleInterval,
		CallTimeout:     sc.CallTimeout,

		SignInRoute: gc.SignInRoute,
		HomeRoute:   gc.HomeRoute,

		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,

		DevServer: devserver.DefaultConfig(),
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "inframon-credentials.db"
	}
	return filepath.Join(dir, "inframon", "credentials.db")
}

// LoadConfig layers the TOML file and the environment over DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.LoginEncoding = strings.ToLower(strings.TrimSpace(c.LoginEncoding))
	c.Profile = strings.TrimSpace(c.Profile)
}

// Validate checks values that have no safe fallback.
func (c Config) Validate() error {
	var errs []error

	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.StorePath) == "" {
			errs = append(errs, errors.New("store_path is required for the sqlite store"))
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("database_url is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch authapi.LoginEncoding(c.LoginEncoding) {
	case authapi.LoginJSON, authapi.LoginForm:
	default:
		errs = append(errs, fmt.Errorf("unknown login_encoding %q", c.LoginEncoding))
	}
	switch c.LogFormat {
	case "json", "pretty", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if err := c.SessionConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// SessionConfig projects the session timing policy.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		RenewalInterval: c.RenewalInterval,
		IdleInterval:    c.IdleInterval,
		SampleInterval:  c.SampleInterval,
		CallTimeout:     c.CallTimeout,
		VerifyOnRestore: c.VerifyOnRestore,
	}
}

// GuardConfig projects the route names.
func (c Config) GuardConfig() guard.Config {
	return guard.Config{SignInRoute: c.SignInRoute, HomeRoute: c.HomeRoute}
}
