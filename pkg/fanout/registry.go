package fanout

import (
	"sync"

	"github.com/igolaizola/aurum/pkg/metrics"
)

// Registry is the set of connected subscribers.
type Registry struct {
	lock    sync.RWMutex
	clients map[*client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[*client]struct{})}
}

func (r *Registry) add(c *client) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.clients[c] = struct{}{}
	metrics.Subscribers.Set(float64(len(r.clients)))
}

// remove reports whether c was registered.
func (r *Registry) remove(c *client) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	metrics.Subscribers.Set(float64(len(r.clients)))
	return true
}

func (r *Registry) snapshot() []*client {
	r.lock.RLock()
	defer r.lock.RUnlock()
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// Len returns the number of connected subscribers.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.clients)
}
