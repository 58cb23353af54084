package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	authapi "inframon/cmd/internal/auth/api"

	"github.com/coder/websocket"
)

const streamReadLimit = 1 << 20

// DialStream opens a WebSocket through client so the handshake carries the
// session credential and a 401 follows the usual forced-logout path.
func DialStream(ctx context.Context, client *http.Client, rawURL string) (*websocket.Conn, error) {
	if client == nil {
		return nil, errors.New("transport: nil http client")
	}
	// Deadlines come from ctx; a client timeout would cut the stream short.
	hc := *client
	hc.Timeout = 0

	conn, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("transport: dial %s: %w", rawURL, authapi.ErrUnauthorized)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", rawURL, err)
	}
	conn.SetReadLimit(streamReadLimit)
	return conn, nil
}

// ReadStream calls handle for every data message until ctx ends, the peer
// closes normally, or handle returns an error.
func ReadStream(ctx context.Context, conn *websocket.Conn, handle func(websocket.MessageType, []byte) error) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := handle(typ, data); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}
