package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/store"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

type OutboxStore struct {
	mu      sync.Mutex
	pending map[string][]store.PendingMutation // target id → queue, oldest first
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{pending: make(map[string][]store.PendingMutation)}
}

func (s *OutboxStore) Enqueue(_ context.Context, targetID string, m types.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A redelivered enqueue of the same mutation keeps its original
	// queue position.
	for _, pm := range s.pending[targetID] {
		if pm.Mutation.MutationID == m.MutationID {
			return nil
		}
	}
	s.pending[targetID] = append(s.pending[targetID], store.PendingMutation{
		Mutation:   m,
		EnqueuedAt: time.Now().UTC(),
	})
	return nil
}

func (s *OutboxStore) Pending(_ context.Context, targetID string, limit int) ([]store.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.pending[targetID]
	if limit > 0 && len(q) > limit {
		q = q[:limit]
	}
	return append([]store.PendingMutation(nil), q...), nil
}

func (s *OutboxStore) Ack(_ context.Context, targetID, mutationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.pending[targetID]
	for i, pm := range q {
		if pm.Mutation.MutationID == mutationID {
			s.pending[targetID] = append(q[:i:i], q[i+1:]...)
			return nil
		}
	}
	return nil // already acked: no-op
}

func (s *OutboxStore) OldestPending(_ context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time)
	for id, q := range s.pending {
		if len(q) > 0 {
			out[id] = q[0].EnqueuedAt
		}
	}
	return out, nil
}
