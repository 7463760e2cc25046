// Package dedup guards against dispatching the same signal more than once
// within a time window.
package dedup

import (
	"context"
	"time"
)

// DefaultWindow is how long a signal key is remembered.
const DefaultWindow = 10 * time.Minute

type Guard interface {
	// Allow records key and reports whether it wasn't seen during the
	// current window.
	Allow(ctx context.Context, key string) (bool, error)
}

// Nop allows every key.
type Nop struct{}

func (Nop) Allow(context.Context, string) (bool, error) { return true, nil }
