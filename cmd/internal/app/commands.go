package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inframon/cmd/internal/auth/session"
	"inframon/cmd/internal/devserver"
	"inframon/cmd/internal/transport"
	"inframon/cmd/security/password"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"
)

const usage = `usage: inframon <command> [flags]

commands:
  login      sign in and persist the session
  logout     end the session and revoke it on the server
  whoami     show the signed-in identity
  watch      keep the session alive and report its remaining time
  get        GET an API resource with the session credential
  stream     follow an API WebSocket stream
  devserver  run a local auth server for development
`

var errNotSignedIn = errors.New("not signed in (run: inframon login)")

// Run is the CLI entrypoint used by cmd/inframon.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	if cfg.IdleInterval <= cfg.RenewalInterval {
		// Sessions will end before their first renewal.
		log.Warn("config.idle_before_renewal", "idle", cfg.IdleInterval, "renewal", cfg.RenewalInterval)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &cli{cfg: cfg, log: log, in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
	return c.run(ctx, args)
}

type cli struct {
	cfg    Config
	log    Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	opts   []Option
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		_, _ = io.WriteString(c.errOut, usage)
		return errors.New("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return c.login(ctx, rest)
	case "logout":
		return c.logout(ctx, rest)
	case "whoami":
		return c.whoami(ctx, rest)
	case "watch":
		return c.watch(ctx, rest)
	case "get":
		return c.get(ctx, rest)
	case "stream":
		return c.stream(ctx, rest)
	case "devserver":
		return c.devserver(ctx, rest)
	case "help", "-h", "--help":
		_, _ = io.WriteString(c.out, usage)
		return nil
	default:
		_, _ = io.WriteString(c.errOut, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

func (c *cli) open(ctx context.Context, cfg Config) (*App, error) {
	return New(ctx, cfg, c.log, c.opts...)
}

// restored opens an App and resumes the persisted session, or fails with
// errNotSignedIn.
func (c *cli) restored(ctx context.Context, cfg Config) (*App, error) {
	a, err := c.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ok, err := a.Session().Restore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if !ok {
		_ = a.Close()
		return nil, errNotSignedIn
	}
	return a, nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := c.flags("login")
	user := fs.String("u", "", "username or email")
	pwStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := c.open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sess := a.Session()
	if ok, err := sess.Restore(ctx); err != nil {
		return err
	} else if ok {
		u, _ := sess.Identity()
		return fmt.Errorf("%w as %s (run: inframon logout)", session.ErrAlreadySignedIn, u.Username)
	}

	r := bufio.NewReader(c.in)
	username := strings.TrimSpace(*user)
	if username == "" {
		_, _ = fmt.Fprint(c.errOut, "Username: ")
		if username, err = readLine(r); err != nil {
			return err
		}
	}
	pw, err := c.readPassword(r, *pwStdin)
	if err != nil {
		return err
	}

	u, err := sess.Login(ctx, username, pw)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return errors.New("login failed: incorrect username or password")
		}
		return err
	}

	snap := sess.Snapshot()
	_, _ = fmt.Fprintf(c.out, "Signed in as %s (session %s, expires in %s)\n",
		u.Username, snap.SessionID, snap.Remaining.Round(time.Second))
	return nil
}

func (c *cli) readPassword(r *bufio.Reader, fromStdin bool) (string, error) {
	if f, ok := c.in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(c.errOut, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(c.errOut)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	if !fromStdin {
		_, _ = fmt.Fprint(c.errOut, "Password: ")
	}
	return readLine(r)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *cli) logout(ctx context.Context, args []string) error {
	if err := c.flags("logout").Parse(args); err != nil {
		return err
	}

	a, err := c.restored(ctx, c.cfg)
	if errors.Is(err, errNotSignedIn) {
		_, _ = fmt.Fprintln(c.out, "Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	a.Session().Logout(ctx)
	_, _ = fmt.Fprintln(c.out, "Signed out.")
	return nil
}

func (c *cli) whoami(ctx context.Context, args []string) error {
	fs := c.flags("whoami")
	verify := fs.Bool("verify", false, "confirm the identity with the server")
	asJSON := fs.Bool("json", false, "print the identity as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := c.cfg
	cfg.VerifyOnRestore = cfg.VerifyOnRestore || *verify

	a, err := c.restored(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	snap := a.Session().Snapshot()
	if *asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap.User)
	}

	u := snap.User
	_, _ = fmt.Fprintf(c.out, "user:      %s (id %s)\n", u.Username, u.ID)
	if u.Email != "" {
		_, _ = fmt.Fprintf(c.out, "email:     %s\n", u.Email)
	}
	_, _ = fmt.Fprintf(c.out, "superuser: %t\n", u.IsSuperuser)
	_, _ = fmt.Fprintf(c.out, "session:   %s\n", snap.SessionID)
	_, _ = fmt.Fprintf(c.out, "expires:   in %s\n", snap.Remaining.Round(time.Second))
	return nil
}

// watch keeps the session running in the foreground. Each chunk read from
// stdin counts as keyboard activity.
func (c *cli) watch(ctx context.Context, args []string) error {
	fs := c.flags("watch")
	every := fs.Duration("every", 30*time.Second, "how often to print the remaining time")
	metricsAddr := fs.String("metrics", c.cfg.MetricsAddr, "serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := c.restored(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if *metricsAddr != "" {
		stop, err := startMetrics(ctx, *metricsAddr, a.registry, c.log, c.cfg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer stop()
	}

	sess := a.Session()
	ended := make(chan session.Reason, 1)
	unsub := sess.Subscribe(func(ev session.Event) {
		switch ev.Kind {
		case session.EventRenewed:
			_, _ = fmt.Fprintf(c.out, "%s renewed\n", ev.At.Format(time.TimeOnly))
		case session.EventSignedOut:
			select {
			case ended <- ev.Reason:
			default:
			}
		}
	})
	defer unsub()

	var lastPrint time.Time
	unsample := sess.OnSample(func(s session.Sample) {
		if *every <= 0 || (!lastPrint.IsZero() && s.At.Sub(lastPrint) < *every) {
			return
		}
		lastPrint = s.At
		_, _ = fmt.Fprintf(c.out, "%s expires in %s (idle %s)\n",
			s.At.Format(time.TimeOnly), s.Remaining.Round(time.Second), s.Idle.Round(time.Second))
	})
	defer unsample()

	go c.pumpActivity(sess)

	u, _ := sess.Identity()
	_, _ = fmt.Fprintf(c.out, "Watching session for %s on %s. Press Ctrl-C to stop.\n", u.Username, a.Route())

	select {
	case <-ctx.Done():
		return nil
	case reason := <-ended:
		_, _ = fmt.Fprintf(c.out, "Session ended (%s); now on %s.\n", reason, a.Route())
		return nil
	}
}

func (c *cli) pumpActivity(sess *session.Manager) {
	buf := make([]byte, 256)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			sess.RecordActivity(session.SignalKey)
		}
		if err != nil {
			return
		}
	}
}

func (c *cli) get(ctx context.Context, args []string) error {
	fs := c.flags("get")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: inframon get <path>")
	}

	a, err := c.restored(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resourceURL(fs.Arg(0)), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("GET %s: %s: session ended, sign in again", fs.Arg(0), resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: %s", fs.Arg(0), resp.Status)
	}
	_, err = io.Copy(c.out, resp.Body)
	return err
}

func (c *cli) stream(ctx context.Context, args []string) error {
	fs := c.flags("stream")
	limit := fs.Int("n", 0, "stop after this many messages (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: inframon stream <path>")
	}

	a, err := c.restored(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	wsURL, err := a.streamURL(fs.Arg(0))
	if err != nil {
		return err
	}
	conn, err := transport.DialStream(ctx, a.HTTPClient(), wsURL)
	if err != nil {
		return err
	}

	errDone := errors.New("done")
	seen := 0
	err = transport.ReadStream(ctx, conn, func(_ websocket.MessageType, b []byte) error {
		_, _ = fmt.Fprintln(c.out, strings.TrimSpace(string(b)))
		seen++
		if *limit > 0 && seen >= *limit {
			return errDone
		}
		return nil
	})
	if errors.Is(err, errDone) {
		return nil
	}
	return err
}

func (c *cli) devserver(ctx context.Context, args []string) error {
	cfg := c.cfg
	fs := c.flags("devserver")
	fs.StringVar(&cfg.DevServer.Addr, "addr", cfg.DevServer.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ValidateServerSecurity(cfg); err != nil {
		return err
	}

	pw, err := password.FromEnv()
	if err != nil {
		return err
	}
	if cfg.DevServer.AdminPassword == "" {
		if cfg.DevServer.AdminPassword, err = randomPassword(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.errOut, "admin password for %q: %s\n", cfg.DevServer.AdminUsername, cfg.DevServer.AdminPassword)
	}

	h, err := devserver.NewHandler(cfg.DevServer,
		devserver.WithLogger(c.log),
		devserver.WithPasswordConfig(pw),
	)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	ln, err := net.Listen("tcp", cfg.DevServer.Addr)
	if err != nil {
		return err
	}
	srv := newServer(cfg, devServerHandler(h, reg, c.log))
	return serve(ctx, srv, ln, c.log, "devserver")
}

func randomPassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
