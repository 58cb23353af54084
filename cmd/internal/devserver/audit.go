package devserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Audit actions. They go to the structured log rather than a table; the dev
// server keeps no durable state.
const (
	auditLoginFailed      = "auth.login.failed"
	auditLoginSuccess     = "auth.login.success"
	auditLoginRateLimited = "auth.login.rate_limited"
	auditRefreshSuccess   = "auth.refresh.success"
	auditRefreshReuse     = "auth.refresh.reuse_detected"
	auditLogout           = "auth.logout"
	auditUserDisabled     = "auth.user.disabled"
)

func (h *Handler) audit(r *http.Request, action string, attrs ...slog.Attr) {
	base := make([]slog.Attr, 0, len(attrs)+3)
	base = append(base, slog.String("action", action))
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
		if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
			base = append(base, slog.String("ip", ip.String()))
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			base = append(base, slog.String("user_agent", ua))
		}
	}
	base = append(base, attrs...)
	h.log.LogAttrs(ctx, slog.LevelInfo, "audit", base...)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for p := range strings.SplitSeq(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func retryAttr(d time.Duration) slog.Attr {
	return slog.Int64("retry_after_s", int64(d.Seconds()))
}
