package bolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/igolaizola/aurum/pkg/relay"
)

var bucket = []byte("messages")

func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: couldn't open bolt db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: couldn't create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Store persists events keyed by arrival sequence.
type Store struct {
	db *bolt.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ev *relay.Event) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("couldn't get sequence: %w", err)
		}
		byt, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("couldn't encode: %w", err)
		}
		return b.Put(key(seq), byt)
	}); err != nil {
		return fmt.Errorf("bolt: couldn't put %s: %w", ev.ID, err)
	}
	return nil
}

func (s *Store) List(from time.Time, to time.Time) ([]*relay.Event, error) {
	var events []*relay.Event
	if err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev relay.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("couldn't decode: %w", err)
			}
			if ev.Timestamp.Before(from) {
				continue
			}
			if ev.Timestamp.After(to) {
				continue
			}
			events = append(events, &ev)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("bolt: couldn't query: %w", err)
	}
	return events, nil
}

func (s *Store) Last(n int) ([]*relay.Event, error) {
	var events []*relay.Event
	if err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Last(); k != nil && (n <= 0 || len(events) < n); k, v = c.Prev() {
			var ev relay.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("couldn't decode: %w", err)
			}
			events = append(events, &ev)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("bolt: couldn't query: %w", err)
	}
	// Oldest first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func key(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
