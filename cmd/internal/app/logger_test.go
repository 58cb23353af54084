package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, parseLogLevel(tc.in), tc.in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "json", false)
	log.Info("auth.login.success")
	log.Warn("auth.refresh.fail", "status", 401)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "auth.refresh.fail", rec["msg"])
	require.EqualValues(t, 401, rec["status"])
	require.Contains(t, rec, "source")
}

func TestNewLogger_Pretty(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := NewLogger(&buf, "debug", "pretty", false)
	log.Debug("auth.session.terminated", "reason", "idle", "session_id", "01HZX")

	out := buf.String()
	require.Contains(t, out, "lvl=[DEBUG]")
	require.Contains(t, out, "msg=auth.session.terminated")
	require.Contains(t, out, "reason=idle")
	require.Contains(t, out, "session_id=01HZX")
}
