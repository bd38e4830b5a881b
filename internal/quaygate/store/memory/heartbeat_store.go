package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/store"
)

type HeartbeatStore struct {
	mu   sync.RWMutex
	last map[string]store.HeartbeatRecord
}

func NewHeartbeatStore() *HeartbeatStore {
	return &HeartbeatStore{last: make(map[string]store.HeartbeatRecord)}
}

func (s *HeartbeatStore) Upsert(_ context.Context, checkpointID string, rec store.HeartbeatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[checkpointID] = rec
	return nil
}

func (s *HeartbeatStore) LastSeen(_ context.Context, checkpointID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.last[checkpointID]
	return rec.ReceivedAt, ok, nil
}
