// Package websocket streams realtime hub events to WebSocket clients.
package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"playkit/core"
	"playkit/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Option configures the handler.
type Option func(*options)

type options struct {
	checkOrigin func(*http.Request) bool
	buffer      int
}

// WithCheckOrigin overrides the origin check (default allows all origins).
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(o *options) { o.checkOrigin = fn }
}

// WithBuffer sets the per-connection event buffer.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// Handler returns an http.Handler that upgrades to WebSocket and streams
// events from the hub. The optional "user" and "feature" query parameters
// narrow the stream.
func Handler(hub *realtime.Hub, opts ...Option) http.Handler {
	o := options{checkOrigin: func(*http.Request) bool { return true }, buffer: 256}
	for _, opt := range opts {
		opt(&o)
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: o.checkOrigin}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := realtime.Filter{
			UserID:  core.UserID(r.URL.Query().Get("user")),
			Feature: core.Feature(r.URL.Query().Get("feature")),
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.SubscribeFilter(o.buffer, filter)
		defer hub.Unsubscribe(id)

		// the read side only services control frames and notices the close
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
