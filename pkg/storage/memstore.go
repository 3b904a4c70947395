package storage

import (
	"sync"

	"github.com/sangwoo-bae/etherdex/pkg/events"
)

// InMemoryStore is an events.Store for tests and the seeder.
type InMemoryStore struct {
	mu     sync.Mutex
	stored []events.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, ev)
	return nil
}

func (s *InMemoryStore) Load() ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.stored))
	copy(out, s.stored)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

var _ events.Store = (*InMemoryStore)(nil)
