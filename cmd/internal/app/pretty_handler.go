package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders records as one key=value line for terminals.
// Attributes added through With are rendered once, when they are added.
type prettyHandler struct {
	out       *lockedWriter
	level     slog.Leveler
	addSource bool
	color     bool

	prefix string // open groups, "a.b."
	pre    string // rendered With attributes
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{out: &lockedWriter{w: w}, level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ts=%s lvl=%s msg=%s",
		paint(ansiDim, ts.Format("15:04:05.000"), h.color),
		levelTag(r.Level, h.color),
		paint(ansiBright, r.Message, h.color),
	)
	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			src := filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
			b.WriteString(" src=" + paint(ansiDim, src, h.color))
		}
	}
	b.WriteString(h.pre)
	r.Attrs(func(a slog.Attr) bool {
		h.render(&b, a, h.prefix)
		return true
	})
	b.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	for _, a := range attrs {
		h.render(&b, a, h.prefix)
	}
	cp := *h
	cp.pre = h.pre + b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) render(b *strings.Builder, a slog.Attr, prefix string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			h.render(b, ga, prefix)
		}
		return
	}
	if key == "" {
		return
	}

	f, ok := prettyFields[key]
	if !ok {
		b.WriteString(" " + prefix + key + "=" + quoteIfNeeded(plainValue(a.Value)))
		return
	}
	if f.name != "" {
		key = f.name
	}
	b.WriteString(" " + prefix + key + "=" + f.format(a.Value, h.color))
}

// prettyField controls how a well-known key is printed.
type prettyField struct {
	name   string
	format func(v slog.Value, color bool) string
}

var prettyFields = map[string]prettyField{
	"method": {format: func(v slog.Value, color bool) string {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), color)
	}},
	"path":  {format: routeValue},
	"route": {format: routeValue},
	"from":  {format: routeValue},
	"to":    {format: routeValue},
	"status": {format: func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), color)
		}
		return quoteIfNeeded(plainValue(v))
	}},
	"status_class": {name: "class", format: func(v slog.Value, color bool) string {
		return colorizeStatusClass(strings.TrimSpace(v.String()), color)
	}},
	"duration_ms": {name: "duration", format: func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, color)
		}
		return quoteIfNeeded(plainValue(v))
	}},
	"result": {format: func(v slog.Value, color bool) string {
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), color)
	}},
	"reason": {format: func(v slog.Value, color bool) string {
		return colorizeReason(strings.TrimSpace(v.String()), color)
	}},
}

func routeValue(v slog.Value, color bool) string {
	return paint(ansiCyan, quoteIfNeeded(strings.TrimSpace(v.String())), color)
}

func plainValue(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint(ansiRed, "[ERROR]", color)
	case level >= slog.LevelWarn:
		return paint(ansiYellow, "[WARN]", color)
	case level < slog.LevelInfo:
		return paint(ansiMagenta, "[DEBUG]", color)
	default:
		return paint(ansiBlue, "[INFO]", color)
	}
}
