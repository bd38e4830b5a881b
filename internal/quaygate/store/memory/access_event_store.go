package memory

import (
	"context"
	"sync"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// AccessEventStore keeps events in order of arrival and exposes them
// to tests via Events.
type AccessEventStore struct {
	mu     sync.Mutex
	events []types.AccessEvent
}

func NewAccessEventStore() *AccessEventStore {
	return &AccessEventStore{}
}

func (s *AccessEventStore) RecordEvent(_ context.Context, ev types.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *AccessEventStore) Events() []types.AccessEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AccessEvent(nil), s.events...)
}
