package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const streamWriteTimeout = 5 * time.Second

// hostBoard is a fixed fleet whose load figures move on every tick.
type hostBoard struct {
	mu    sync.Mutex
	tick  int
	hosts []Host
}

func newHostBoard() *hostBoard {
	return &hostBoard{hosts: []Host{
		{ID: "h-1", Name: "web-1", Status: "up", CPU: 12},
		{ID: "h-2", Name: "db-1", Status: "up", CPU: 35},
		{ID: "h-3", Name: "cache-1", Status: "up", CPU: 4},
	}}
}

func (b *hostBoard) snapshot(now time.Time) []Host {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick++
	out := make([]Host, len(b.hosts))
	for i, h := range b.hosts {
		h.CPU += float64((b.tick+i)%10) * 1.5
		h.CheckedAt = now
		out[i] = h
	}
	return out
}

func (h *Handler) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, hostsResponse{Hosts: h.hosts.snapshot(h.now())})
}

// handleHostStream pushes host snapshots over a WebSocket until the client
// leaves or the session behind the handshake credential ends.
func (h *Handler) handleHostStream(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	// Reads only to notice the peer closing.
	ctx := conn.CloseRead(r.Context())

	t := time.NewTicker(h.cfg.StreamInterval)
	defer t.Stop()

	for {
		if !h.sessions.active(claims.SessionID, h.now()) {
			_ = conn.Close(websocket.StatusPolicyViolation, "session ended")
			return
		}
		if err := writeHosts(ctx, conn, h.hosts.snapshot(h.now())); err != nil {
			h.log.Info("ws.write.fail", "session_id", claims.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func writeHosts(ctx context.Context, conn *websocket.Conn, hosts []Host) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, hostsResponse{Hosts: hosts})
}
