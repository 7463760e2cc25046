package inmem

import (
	"context"
	"sync"
	"time"
)

type Guard struct {
	window time.Duration
	now    func() time.Time

	lock sync.Mutex
	seen map[string]time.Time
}

func New(window time.Duration) *Guard {
	return &Guard{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// WithClock replaces the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

func (g *Guard) Allow(_ context.Context, key string) (bool, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	now := g.now()

	// Evict expired keys
	for k, t := range g.seen {
		if now.Sub(t) >= g.window {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = now
	return true, nil
}
