package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/igolaizola/aurum/pkg/history/inmem"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/igolaizola/aurum/pkg/venue/venuetest"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	term    *venuetest.Terminal
	session *venue.Session
	store   *inmem.Store
	inject  chan relay.Message
	router  *gin.Engine
}

func newFixture(t *testing.T, connect, inject bool) *fixture {
	t.Helper()
	f := &fixture{
		term:  &venuetest.Terminal{},
		store: &inmem.Store{},
	}
	f.session = venue.NewSession(f.term, zerolog.Nop())
	if connect {
		require.NoError(t, f.session.Connect(context.Background()))
	}
	var ch chan<- relay.Message
	if inject {
		f.inject = make(chan relay.Message, 1)
		ch = f.inject
	}
	f.router = New(f.session, f.store, ch, zerolog.Nop()).Router()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) placeOrder(t *testing.T) int64 {
	t.Helper()
	res, err := f.session.Submit(context.Background(), &venue.OrderRequest{
		Action: venue.ActionDeal,
		Symbol: "XAUUSD",
		Side:   venue.SideBuy,
		Volume: decimal.RequireFromString("0.01"),
		Price:  decimal.RequireFromString("1950"),
	})
	require.NoError(t, err)
	return res.Ticket
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false, false)
	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","venue":"disconnected"}`, w.Body.String())
}

func TestGetOrders(t *testing.T) {
	f := newFixture(t, true, false)

	w := f.do(http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	ticket := f.placeOrder(t)
	w = f.do(http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	var orders []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, float64(ticket), orders[0]["ticket"])
	assert.Equal(t, "BUY", orders[0]["type"])
	assert.Equal(t, "XAUUSD", orders[0]["symbol"])
}

func TestGetOrdersNotConnected(t *testing.T) {
	f := newFixture(t, false, false)
	w := f.do(http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, true, false)
	ticket := f.placeOrder(t)

	w := f.do(http.MethodPost, "/cancel/"+itoa(ticket), "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp cancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, ticket, resp.Ticket)
	assert.Equal(t, "Order "+itoa(ticket)+" cancelled successfully", resp.Message)

	w = f.do(http.MethodPost, "/cancel/"+itoa(ticket), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)

	w = f.do(http.MethodPost, "/cancel/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAccount(t *testing.T) {
	f := newFixture(t, true, false)
	w := f.do(http.MethodGet, "/account", "")
	require.Equal(t, http.StatusOK, w.Code)
	var acc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	for _, k := range []string{"balance", "equity", "margin", "free_margin", "leverage"} {
		assert.Contains(t, acc, k)
	}
	assert.Equal(t, float64(100), acc["leverage"])

	require.NoError(t, f.session.Disconnect())
	w = f.do(http.MethodGet, "/account", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetMessages(t *testing.T) {
	f := newFixture(t, false, false)
	for i := 0; i < 150; i++ {
		require.NoError(t, f.store.Append(&relay.Event{Type: relay.EventMessage, ID: itoa(int64(i))}))
	}

	var events []relay.Event
	w := f.do(http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 100)
	assert.Equal(t, "149", events[99].ID)

	w = f.do(http.MethodGet, "/messages?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "148", events[0].ID)

	w = f.do(http.MethodGet, "/messages?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessagesRange(t *testing.T) {
	f := newFixture(t, false, false)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Append(&relay.Event{
			Type:      relay.EventMessage,
			ID:        itoa(int64(i)),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	ids := func(path string) []string {
		t.Helper()
		w := f.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var events []relay.Event
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
		var ids []string
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		return ids
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids("/messages?from=2024-03-01T10:00:00Z&to=2024-03-01T12:00:00Z"))
	assert.Equal(t, []string{"3", "4"}, ids("/messages?from=2024-03-01T12:00:00Z"))
	assert.Equal(t, []string{"0", "1"}, ids("/messages?to=2024-03-01T10:00:00Z"))
	assert.Equal(t, []string{"3", "4"}, ids("/messages?from=2024-03-01T09:00:00Z&limit=2"))

	w := f.do(http.MethodGet, "/messages?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/messages?from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/messages?from=2025-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t, false, true)

	w := f.do(http.MethodPost, "/messages", `{"channel":"Gold Hunter","sender":"","text":"BUY GOLD 1950\nSL 1945\nTP 1960","timestamp":"2024-03-01T09:30:00Z"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())

	select {
	case msg := <-f.inject:
		assert.Equal(t, "Gold Hunter", msg.Channel)
		assert.Equal(t, relay.DefaultSender, msg.Sender)
		assert.Equal(t, "BUY GOLD 1950\nSL 1945\nTP 1960", msg.Text)
		assert.True(t, msg.Time.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
	default:
		t.Fatal("message not injected")
	}

	w = f.do(http.MethodPost, "/messages", `{"channel":"Gold Hunter"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/messages", `{"text":"hi","timestamp":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostMessageDisabled(t *testing.T) {
	f := newFixture(t, false, false)
	w := f.do(http.MethodPost, "/messages", `{"text":"hi"}`)
	assert.NotEqual(t, http.StatusAccepted, w.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, false, false)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, false, false)
	w := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aurum_subscribers")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
