package history

import (
	"context"
	"time"

	"github.com/igolaizola/aurum/pkg/relay"
)

// DefaultLimit is the number of events returned when no limit is given.
const DefaultLimit = 100

// Store keeps relayed events in arrival order.
type Store interface {
	Append(ev *relay.Event) error
	List(from time.Time, to time.Time) ([]*relay.Event, error)
	// Last returns up to n events, oldest first.
	Last(n int) ([]*relay.Event, error)
}

// Sink appends every published event to the store.
func Sink(s Store) relay.Sink {
	return relay.SinkFunc(func(_ context.Context, ev *relay.Event) error {
		return s.Append(ev)
	})
}
