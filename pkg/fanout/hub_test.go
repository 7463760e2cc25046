package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var frame systemFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "system", frame.Type)
	assert.Equal(t, "Connected to signal relay", frame.Message)
	return conn
}

func receive(t *testing.T, conn *websocket.Conn) *relay.Event {
	t.Helper()
	var ev relay.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	return &ev
}

func newServer(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(NewRegistry(), opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func TestPublish(t *testing.T) {
	hub, srv := newServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	assert.Equal(t, 2, hub.Registry().Len())

	ev := &relay.Event{Type: relay.EventMessage, ID: "1", Channel: "Gold Hunter", Text: "hello"}
	require.NoError(t, hub.Publish(context.Background(), ev))

	for _, conn := range []*websocket.Conn{a, b} {
		got := receive(t, conn)
		assert.Equal(t, "1", got.ID)
		assert.Equal(t, "hello", got.Text)
		assert.Equal(t, "message", got.Type)
	}
}

func TestWelcomeWithBusyPublisher(t *testing.T) {
	hub, srv := newServer(t, WithQueue(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ev := &relay.Event{Type: relay.EventMessage, ID: "1"}
		for ctx.Err() == nil {
			_ = hub.Publish(ctx, ev)
		}
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame systemFrame
		err = conn.ReadJSON(&frame)
		_ = conn.Close()
		if err != nil {
			// Slow subscribers may be dropped, but never left unserved
			var netErr net.Error
			require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "subscriber never served")
			continue
		}
		assert.Equal(t, "system", frame.Type)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(NewRegistry())
	assert.NoError(t, hub.Publish(context.Background(), &relay.Event{ID: "1"}))
}

func TestSubscriberLeaves(t *testing.T) {
	hub, srv := newServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()
	require.Eventually(t, func() bool { return hub.Registry().Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), &relay.Event{ID: "2"}))
	assert.Equal(t, "2", receive(t, b).ID)
}

func TestInvalidFrameIsDiscarded(t *testing.T) {
	hub, srv := newServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, hub.Publish(context.Background(), &relay.Event{ID: "3"}))
	assert.Equal(t, "3", receive(t, conn).ID)
	assert.Equal(t, 1, hub.Registry().Len())
}

func TestOversizedFrameDropsSubscriber(t *testing.T) {
	hub, srv := newServer(t)
	conn := dial(t, srv)

	// The server may close before the whole frame is written
	_ = conn.WriteMessage(websocket.TextMessage, make([]byte, readLimit+1))
	require.Eventually(t, func() bool { return hub.Registry().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPongTimeout(t *testing.T) {
	hub, srv := newServer(t, WithPing(50*time.Millisecond, 50*time.Millisecond))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Without reading, pings are never answered
	require.Eventually(t, func() bool { return hub.Registry().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestEventEncoding(t *testing.T) {
	hub, srv := newServer(t)
	conn := dial(t, srv)

	require.NoError(t, hub.Publish(context.Background(), &relay.Event{ID: "4", HasSignal: false}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, false, raw["hasSignal"])
	assert.NotContains(t, raw, "orderStatus")
}
