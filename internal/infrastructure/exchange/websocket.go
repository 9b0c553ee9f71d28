package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readDeadline = 60 * time.Second
	pingPeriod   = 25 * time.Second
	writeTimeout = 5 * time.Second
)

// WSHelper provides the shared WebSocket plumbing: dial, read loop, and
// keepalive pings with a pong-refreshed read deadline.
type WSHelper struct {
	URL string
}

// DialWS creates a WebSocket connection bound to the context.
func (w *WSHelper) DialWS(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, w.URL, nil)
	return conn, err
}

// ReadWithPing reads messages until the context is cancelled or the
// connection dies, sending periodic pings to keep it alive.
func (w *WSHelper) ReadWithPing(ctx context.Context, conn *websocket.Conn, onMessage func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			onMessage(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
		}
	}
}
