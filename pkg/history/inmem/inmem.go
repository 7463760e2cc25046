package inmem

import (
	"sync"
	"time"

	"github.com/igolaizola/aurum/pkg/relay"
)

type Store struct {
	lock   sync.RWMutex
	events []*relay.Event
}

func (s *Store) Append(ev *relay.Event) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) List(from time.Time, to time.Time) ([]*relay.Event, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	var events []*relay.Event
	for _, ev := range s.events {
		if ev.Timestamp.Before(from) {
			continue
		}
		if ev.Timestamp.After(to) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) Last(n int) ([]*relay.Event, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	return append([]*relay.Event(nil), s.events[len(s.events)-n:]...), nil
}
