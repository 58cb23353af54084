package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inframon/cmd/internal/auth/session"
	"inframon/cmd/internal/devserver"
	"inframon/cmd/security/password"

	"github.com/stretchr/testify/require"
)

const adminPassword = "correct-horse-battery"

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inframon.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	def := session.DefaultConfig()
	require.Equal(t, "http://127.0.0.1:8065/api/v1", cfg.APIURL)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, def.RenewalInterval, cfg.RenewalInterval)
	require.Equal(t, def.IdleInterval, cfg.IdleInterval)
	require.Equal(t, "/login", cfg.SignInRoute)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeConfigFile(t, `
api_url = "https://monitor.example.com/api/v1/"
store = "Memory"
renewal_interval = "2m"
idle_interval = "10m"

[devserver]
addr = "127.0.0.1:9000"
access_ttl = "15m"
`)
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("INFRAMON_IDLE_INTERVAL", "20m")
	t.Setenv("INFRAMON_DEVSERVER_ADDR", "127.0.0.1:9100")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "https://monitor.example.com/api/v1", cfg.APIURL)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, 2*time.Minute, cfg.RenewalInterval)
	require.Equal(t, 20*time.Minute, cfg.IdleInterval)
	require.Equal(t, "127.0.0.1:9100", cfg.DevServer.Addr)
	require.Equal(t, 15*time.Minute, cfg.DevServer.AccessTTL)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	t.Setenv(ConfigFileEnv, writeConfigFile(t, "api_urll = \"http://127.0.0.1\"\n"))

	_, err := LoadConfig()
	require.ErrorContains(t, err, "unknown keys: api_urll")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown store", mutate: func(c *Config) { c.Store = "redis" }, want: `unknown store "redis"`},
		{name: "postgres without url", mutate: func(c *Config) { c.Store = StorePostgres }, want: "database_url is required"},
		{name: "bad encoding", mutate: func(c *Config) { c.LoginEncoding = "xml" }, want: `unknown login_encoding "xml"`},
		{name: "zero renewal", mutate: func(c *Config) { c.RenewalInterval = 0 }, want: "renewal interval must be positive"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "yaml" }, want: `unknown log_format "yaml"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base string
		path string
		want string
	}{
		{base: "http://127.0.0.1:8065/api/v1", path: "hosts/stream", want: "ws://127.0.0.1:8065/api/v1/hosts/stream"},
		{base: "https://monitor.example.com/api/v1", path: "/hosts/stream", want: "wss://monitor.example.com/api/v1/hosts/stream"},
	}

	for _, tc := range cases {
		a := &App{cfg: Config{APIURL: tc.base}}
		got, err := a.streamURL(tc.path)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	a := &App{cfg: Config{APIURL: "ftp://example.com"}}
	_, err := a.streamURL("x")
	require.Error(t, err)
}

// ---- commands ----

type cliHarness struct {
	t   *testing.T
	cfg Config
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()

	dcfg := devserver.DefaultConfig()
	dcfg.AdminPassword = adminPassword
	dcfg.JWTSecret = strings.Repeat("k", 32)
	dcfg.StreamInterval = 20 * time.Millisecond

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	h, err := devserver.NewHandler(dcfg,
		devserver.WithPasswordConfig(pw),
		devserver.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIURL = srv.URL + dcfg.Prefix
	cfg.Store = StoreSQLite
	cfg.StorePath = filepath.Join(t.TempDir(), "credentials.db")

	return &cliHarness{t: t, cfg: cfg}
}

// run executes one command with stdin and returns stdout.
func (h *cliHarness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()

	var out, errOut bytes.Buffer
	c := &cli{
		cfg:    h.cfg,
		log:    discardLogger(),
		in:     strings.NewReader(stdin),
		out:    &out,
		errOut: &errOut,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.run(ctx, args)
	return out.String(), err
}

func TestCLI_SessionLifecycle(t *testing.T) {
	t.Parallel()
	h := newCLIHarness(t)

	_, err := h.run("", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)

	out, err := h.run(adminPassword+"\n", "login", "-u", "admin", "-password-stdin")
	require.NoError(t, err)
	require.Contains(t, out, "Signed in as admin")

	_, err = h.run(adminPassword+"\n", "login", "-u", "admin", "-password-stdin")
	require.ErrorIs(t, err, session.ErrAlreadySignedIn)

	out, err = h.run("", "whoami", "-verify")
	require.NoError(t, err)
	require.Contains(t, out, "user:      admin")
	require.Contains(t, out, "email:     admin@localhost")

	out, err = h.run("", "whoami", "-json")
	require.NoError(t, err)
	require.Contains(t, out, `"username": "admin"`)

	out, err = h.run("", "get", "hosts")
	require.NoError(t, err)
	require.Contains(t, out, `"hosts"`)

	out, err = h.run("", "logout")
	require.NoError(t, err)
	require.Equal(t, "Signed out.\n", out)

	out, err = h.run("", "logout")
	require.NoError(t, err)
	require.Equal(t, "Not signed in.\n", out)

	_, err = h.run("", "get", "hosts")
	require.ErrorIs(t, err, errNotSignedIn)
}

func TestCLI_LoginPromptsForUsername(t *testing.T) {
	t.Parallel()
	h := newCLIHarness(t)

	out, err := h.run("admin\n"+adminPassword+"\n", "login")
	require.NoError(t, err)
	require.Contains(t, out, "Signed in as admin")
}

func TestCLI_LoginRejected(t *testing.T) {
	t.Parallel()
	h := newCLIHarness(t)

	_, err := h.run("wrong-password\n", "login", "-u", "admin", "-password-stdin")
	require.ErrorContains(t, err, "incorrect username or password")

	_, err = h.run("", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)
}

func TestCLI_Stream(t *testing.T) {
	t.Parallel()
	h := newCLIHarness(t)

	_, err := h.run(adminPassword+"\n", "login", "-u", "admin", "-password-stdin")
	require.NoError(t, err)

	out, err := h.run("", "stream", "-n", "2", "hosts/stream")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"hosts"`)
}

func TestCLI_Usage(t *testing.T) {
	t.Parallel()
	h := newCLIHarness(t)

	_, err := h.run("")
	require.ErrorContains(t, err, "missing command")

	_, err = h.run("", "frobnicate")
	require.ErrorContains(t, err, `unknown command "frobnicate"`)

	out, err := h.run("", "help")
	require.NoError(t, err)
	require.Contains(t, out, "usage: inframon")
}
