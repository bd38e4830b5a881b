package memory

import (
	"context"
	"sync"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]types.CheckpointPolicy
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]types.CheckpointPolicy)}
}

func (s *PolicyStore) Put(_ context.Context, pol types.CheckpointPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[pol.CheckpointID] = pol
	return nil
}

func (s *PolicyStore) Get(_ context.Context, checkpointID string) (types.CheckpointPolicy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pol, ok := s.policies[checkpointID]
	return pol, ok, nil
}

func (s *PolicyStore) List(_ context.Context) ([]types.CheckpointPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.CheckpointPolicy, 0, len(s.policies))
	for _, pol := range s.policies {
		out = append(out, pol)
	}
	return out, nil
}
