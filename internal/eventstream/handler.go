package eventstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultWriteTimeout bounds a single event write to a WebSocket client.
const DefaultWriteTimeout = 5 * time.Second

// HandlerOption configures the WebSocket handler.
type HandlerOption func(*handler)

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of the patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *handler) { h.origins = patterns }
}

// WithWriteTimeout overrides [DefaultWriteTimeout].
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

type handler struct {
	broker       *Broker
	origins      []string
	writeTimeout time.Duration
}

// Handler returns an [http.Handler] that upgrades the request to a WebSocket
// and streams every event published on b as a JSON text message. Messages
// sent by the client are discarded. The stream ends when the client goes
// away, a write times out, or b is closed.
func Handler(b *Broker, opts ...HandlerOption) http.Handler {
	h := &handler{broker: b, writeTimeout: DefaultWriteTimeout}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("eventstream: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := h.broker.Subscribe()
	defer cancel()

	// CloseRead discards client messages and cancels ctx once the client
	// closes the connection.
	ctx := conn.CloseRead(r.Context())

	slog.Debug("eventstream: subscriber connected", "remote", r.RemoteAddr)
	err = h.stream(ctx, conn, events)
	switch {
	case err == nil:
		_ = conn.Close(websocket.StatusGoingAway, "event stream closed")
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		slog.Debug("eventstream: subscriber disconnected", "remote", r.RemoteAddr)
	default:
		slog.Warn("eventstream: stream ended", "remote", r.RemoteAddr, "err", err)
	}
}

// stream writes events until the channel closes (nil error) or ctx ends.
func (h *handler) stream(ctx context.Context, conn *websocket.Conn, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
