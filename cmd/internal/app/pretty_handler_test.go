package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrettyHandler_Plain(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)).
		With("component", "session")

	log.Debug("hidden")
	log.Info("http.request", "method", "get", "path", "/api/v1/hosts", "status", 401, "duration_ms", 12, "note", "two words")

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "\n"))
	require.Contains(t, out, "lvl=[INFO]")
	require.Contains(t, out, "msg=http.request")
	require.Contains(t, out, "component=session")
	require.Contains(t, out, "method=GET")
	require.Contains(t, out, "path=/api/v1/hosts")
	require.Contains(t, out, "status=401")
	require.Contains(t, out, "duration=12ms")
	require.Contains(t, out, `note="two words"`)
	require.NotContains(t, out, "\x1b[")
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).WithGroup("auth")
	log.Info("auth.refresh.success", slog.Group("cred", slog.String("fp", "abc123")))

	require.Contains(t, buf.String(), "auth.cred.fp=abc123")
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("auth.session.terminated", "reason", "unauthorized")

	out := buf.String()
	require.Contains(t, out, ansiRed+"[ERROR]"+ansiReset)
	require.Contains(t, out, "reason="+ansiRed+"unauthorized"+ansiReset)
}

func TestColorizeReason(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", colorizeReason("idle", false))
	require.Equal(t, ansiYellow+"idle"+ansiReset, colorizeReason("idle", true))
	require.Equal(t, ansiGreen+"explicit"+ansiReset, colorizeReason("explicit", true))
}

func TestPrettyHandler_WithBeforeGroupKeepsKey(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).
		With("session_id", "01J").
		WithGroup("http").
		With("route", "/hosts")
	log.Warn("nav.redirect", "status_class", "4xx", slog.Group("", slog.String("inline", "yes")))

	out := buf.String()
	require.Contains(t, out, " session_id=01J")
	require.NotContains(t, out, "http.session_id")
	require.Contains(t, out, " http.route=/hosts")
	require.Contains(t, out, " http.class=4xx")
	require.Contains(t, out, " http.inline=yes")
	require.Contains(t, out, "lvl=[WARN]")
}
