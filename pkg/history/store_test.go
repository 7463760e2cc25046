package history_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/igolaizola/aurum/pkg/history"
	"github.com/igolaizola/aurum/pkg/history/bolt"
	"github.com/igolaizola/aurum/pkg/history/inmem"
	"github.com/igolaizola/aurum/pkg/order"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func events(n int) []*relay.Event {
	var evs []*relay.Event
	for i := 0; i < n; i++ {
		evs = append(evs, &relay.Event{
			Type:      relay.EventMessage,
			ID:        fmt.Sprintf("ev-%d", i),
			Channel:   "Gold Hunter",
			Sender:    relay.DefaultSender,
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return evs
}

func stores(t *testing.T) map[string]history.Store {
	t.Helper()
	db, err := bolt.New(filepath.Join(t.TempDir(), "aurum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return map[string]history.Store{
		"inmem": &inmem.Store{},
		"bolt":  db,
	}
}

func TestStore(t *testing.T) {
	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			evs := events(5)
			// Backfilled message arriving last with an older timestamp
			late := &relay.Event{ID: "late", Text: "late", Timestamp: base.Add(-time.Hour), HasSignal: true, OrderStatus: order.StatusFailed}
			for _, ev := range append(evs, late) {
				require.NoError(t, s.Append(ev))
			}

			last, err := s.Last(2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, "ev-4", last[0].ID)
			assert.Equal(t, "late", last[1].ID)
			assert.Equal(t, order.StatusFailed, last[1].OrderStatus)

			all, err := s.Last(0)
			require.NoError(t, err)
			assert.Len(t, all, 6)

			more, err := s.Last(100)
			require.NoError(t, err)
			assert.Len(t, more, 6)
			assert.Equal(t, "ev-0", more[0].ID)

			list, err := s.List(base.Add(time.Minute), base.Add(3*time.Minute))
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "ev-1", list[0].ID)
			assert.Equal(t, "ev-3", list[2].ID)
			assert.True(t, list[0].Timestamp.Equal(base.Add(time.Minute)))
		})
	}
}

func TestSink(t *testing.T) {
	s := &inmem.Store{}
	sink := history.Sink(s)
	for _, ev := range events(3) {
		require.NoError(t, sink.Publish(context.Background(), ev))
	}
	got, err := s.Last(history.DefaultLimit)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBoltReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aurum.db")
	db, err := bolt.New(path)
	require.NoError(t, err)
	for _, ev := range events(2) {
		require.NoError(t, db.Append(ev))
	}
	require.NoError(t, db.Close())

	db, err = bolt.New(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Append(&relay.Event{ID: "ev-2"}))
	got, err := db.Last(0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "ev-2", got[2].ID)
}
