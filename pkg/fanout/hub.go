// Package fanout delivers relay events to websocket subscribers.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/rs/zerolog"
)

const (
	DefaultAddr = ":8765"
	welcome     = "Connected to signal relay"
	readLimit   = 1 << 20
	writeWait   = 10 * time.Second
)

type systemFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type client struct {
	conn   *websocket.Conn
	addr   string
	send   chan []byte
	done   chan struct{}
	closer sync.Once
}

func (c *client) close() {
	c.closer.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type Hub struct {
	registry   *Registry
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	queue      int
	pingPeriod time.Duration
	pongWait   time.Duration
}

type Option func(*Hub)

// WithQueue sets how many events may be pending for a subscriber before it
// is dropped.
func WithQueue(n int) Option {
	return func(h *Hub) { h.queue = n }
}

func WithPing(period, timeout time.Duration) Option {
	return func(h *Hub) {
		h.pingPeriod = period
		h.pongWait = period + timeout
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(h *Hub) { h.log = log.With().Str("component", "fanout").Logger() }
}

func NewHub(registry *Registry, opts ...Option) *Hub {
	h := &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:        zerolog.Nop(),
		queue:      64,
		pingPeriod: 30 * time.Second,
		pongWait:   40 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.queue < 1 {
		h.queue = 1
	}
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// ServeHTTP upgrades the request and serves the subscriber until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("couldn't upgrade connection")
		return
	}
	c := &client{
		conn: conn,
		addr: r.RemoteAddr,
		send: make(chan []byte, h.queue),
		done: make(chan struct{}),
	}
	// The welcome frame is queued before the client is visible to Publish
	js, _ := json.Marshal(systemFrame{Type: "system", Message: welcome})
	c.send <- js
	h.registry.add(c)
	h.log.Info().Str("addr", c.addr).Int("subscribers", h.registry.Len()).Msg("subscriber connected")

	go h.write(c)
	h.read(c)
}

// Publish queues the event for every subscriber without blocking. Subscribers
// with a full queue are dropped.
func (h *Hub) Publish(_ context.Context, ev *relay.Event) error {
	js, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("fanout: couldn't encode event %s: %w", ev.ID, err)
	}
	for _, c := range h.registry.snapshot() {
		select {
		case c.send <- js:
		default:
			h.log.Warn().Str("addr", c.addr).Msg("subscriber too slow")
			h.drop(c)
		}
	}
	return nil
}

// Serve listens on addr until the context is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h}
	errC := make(chan error, 1)
	go func() {
		h.log.Info().Str("addr", addr).Msg("websocket listening")
		errC <- srv.ListenAndServe()
	}()
	select {
	case err := <-errC:
		return fmt.Errorf("fanout: couldn't listen on %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	h.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("fanout: couldn't shutdown: %w", err)
	}
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	for _, c := range h.registry.snapshot() {
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	if h.registry.remove(c) {
		h.log.Info().Str("addr", c.addr).Int("subscribers", h.registry.Len()).Msg("subscriber disconnected")
	}
	c.close()
}

func (h *Hub) write(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	defer h.drop(c)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn().Err(err).Str("addr", c.addr).Msg("couldn't send event")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Warn().Err(err).Str("addr", c.addr).Msg("ping failed")
				return
			}
		}
	}
}

func (h *Hub) read(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			case errors.As(err, &netErr) && netErr.Timeout():
				h.log.Warn().Str("addr", c.addr).Msg("subscriber timed out")
			default:
				h.log.Debug().Err(err).Str("addr", c.addr).Msg("subscriber read failed")
			}
			return
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Warn().Err(err).Str("addr", c.addr).Msg("invalid subscriber message discarded")
			continue
		}
		h.log.Debug().Str("addr", c.addr).Interface("frame", frame).Msg("subscriber message")
	}
}
