// Package memory provides in-memory store implementations used by
// tests and by single-process development setups.
package memory

import (
	"context"
	"sync"

	"github.com/quaygate/quaygate/internal/quaygate/store"
)

type WorkerStore struct {
	mu   sync.RWMutex
	rows map[string]store.WorkerRow // worker id → row
}

func NewWorkerStore() *WorkerStore {
	return &WorkerStore{rows: make(map[string]store.WorkerRow)}
}

func (s *WorkerStore) Get(_ context.Context, workerID string) (store.WorkerRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[workerID]
	return row, ok, nil
}

func (s *WorkerStore) FindByCredential(_ context.Context, credentialID string) (store.WorkerRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if !row.Deleted && row.Record.CredentialID == credentialID {
			return row, true, nil
		}
	}
	return store.WorkerRow{}, false, nil
}

func (s *WorkerStore) Put(_ context.Context, row store.WorkerRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.Record.WorkerID] = row
	return nil
}
