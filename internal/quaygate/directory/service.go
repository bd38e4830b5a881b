// Package directory implements the Central Directory: the single
// writer for worker records. Every change bumps the worker's version
// and fans out to the port servers that hold a replica.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/biometric"
	"github.com/quaygate/quaygate/internal/quaygate/store"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

var (
	ErrWorkerNotFound  = errors.New("worker not found")
	ErrWorkerExists    = errors.New("worker already enrolled")
	ErrCredentialInUse = errors.New("credential already assigned")
)

type Service struct {
	workers store.WorkerStore
	outbox  store.OutboxStore // nil disables fan-out
	log     *slog.Logger

	// Serializes the read-modify-write of a worker row so two admin
	// commands cannot mint the same version number.
	mu sync.Mutex
}

// NewService wires the directory. Mutations fan out through the
// outbox, keyed by port id: a port server that is unreachable keeps
// its queue until the dispatcher gets a delivery acknowledged, so a
// delete can never be lost to an outage.
func NewService(workers store.WorkerStore, outbox store.OutboxStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{workers: workers, outbox: outbox, log: log}
}

// Enroll creates a worker record at version 1. The biometric sample is
// hashed into a template here and discarded; only the template is
// stored. Re-enrolling a previously deleted worker id continues that
// worker's version sequence so replicas never see a version go
// backwards.
func (s *Service) Enroll(ctx context.Context, req types.EnrollRequest) (types.MutationResponse, error) {
	if err := req.Validate(); err != nil {
		return types.MutationResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	workerID := strings.TrimSpace(req.WorkerID)

	existing, ok, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return types.MutationResponse{}, err
	}
	if ok && !existing.Deleted {
		return types.MutationResponse{}, ErrWorkerExists
	}

	if err := s.checkCredentialFree(ctx, req.CredentialID, workerID); err != nil {
		return types.MutationResponse{}, err
	}

	tpl, err := biometric.NewTemplate(req.BiometricSample)
	if err != nil {
		return types.MutationResponse{}, err
	}

	version := uint64(1)
	if ok {
		version = existing.Record.Version + 1
	}

	rec := types.WorkerRecord{
		WorkerID:     workerID,
		Name:         strings.TrimSpace(req.Name),
		Roles:        cleanList(req.Roles),
		HomePorts:    cleanList(req.HomePorts),
		CredentialID: strings.TrimSpace(req.CredentialID),
		Template:     tpl,
		Version:      version,
	}
	if err := s.workers.Put(ctx, store.WorkerRow{Record: rec, UpdatedAt: time.Now().UTC()}); err != nil {
		return types.MutationResponse{}, err
	}

	s.log.Info("worker enrolled",
		"worker_id", workerID, "version", version, "actor", req.Actor)

	if err := s.fanOut(ctx, putMutation(rec), rec.HomePorts); err != nil {
		return types.MutationResponse{}, err
	}

	return types.MutationResponse{OK: true, WorkerID: workerID, Version: version}, nil
}

// Update applies the set fields of req to an existing record and bumps
// its version. Ports removed from the home-port set still receive the
// new put so they can drop their replica.
func (s *Service) Update(ctx context.Context, req types.UpdateRequest) (types.MutationResponse, error) {
	if err := req.Validate(); err != nil {
		return types.MutationResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	workerID := strings.TrimSpace(req.WorkerID)

	row, ok, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return types.MutationResponse{}, err
	}
	if !ok || row.Deleted {
		return types.MutationResponse{}, ErrWorkerNotFound
	}

	oldPorts := row.Record.HomePorts

	rec := row.Record
	if req.Roles != nil {
		rec.Roles = cleanList(*req.Roles)
	}
	if req.HomePorts != nil {
		rec.HomePorts = cleanList(*req.HomePorts)
	}
	if req.CredentialID != nil {
		cred := strings.TrimSpace(*req.CredentialID)
		if cred != rec.CredentialID {
			if err := s.checkCredentialFree(ctx, cred, workerID); err != nil {
				return types.MutationResponse{}, err
			}
			rec.CredentialID = cred
		}
	}
	rec.Version++

	if err := s.workers.Put(ctx, store.WorkerRow{Record: rec, UpdatedAt: time.Now().UTC()}); err != nil {
		return types.MutationResponse{}, err
	}

	s.log.Info("worker updated",
		"worker_id", workerID, "version", rec.Version, "actor", req.Actor)

	if err := s.fanOut(ctx, putMutation(rec), unionPorts(oldPorts, rec.HomePorts)); err != nil {
		return types.MutationResponse{}, err
	}

	return types.MutationResponse{OK: true, WorkerID: workerID, Version: rec.Version}, nil
}

// Delete tombstones a worker everywhere. The row is retained so the
// version sequence survives; deleting an already deleted worker
// reports the held version and re-queues the tombstone, which the
// outbox dedupes, so a retried delete always leaves the fan-out
// complete.
func (s *Service) Delete(ctx context.Context, req types.DeleteRequest) (types.MutationResponse, error) {
	if err := req.Validate(); err != nil {
		return types.MutationResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	workerID := strings.TrimSpace(req.WorkerID)

	row, ok, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return types.MutationResponse{}, err
	}
	if !ok {
		return types.MutationResponse{}, ErrWorkerNotFound
	}

	if !row.Deleted {
		row.Record.Version++
		row.Deleted = true
		row.UpdatedAt = time.Now().UTC()
		if err := s.workers.Put(ctx, row); err != nil {
			return types.MutationResponse{}, err
		}
		s.log.Info("worker deleted",
			"worker_id", workerID, "version", row.Record.Version, "actor", req.Actor)
	}

	if err := s.fanOut(ctx, types.Mutation{
		MutationID: types.NewMutationID(workerID, row.Record.Version),
		Op:         types.OpTombstone,
		WorkerID:   workerID,
		Version:    row.Record.Version,
		IssuedAt:   time.Now().UTC(),
	}, row.Record.HomePorts); err != nil {
		return types.MutationResponse{}, err
	}

	return types.MutationResponse{OK: true, WorkerID: workerID, Version: row.Record.Version}, nil
}

// Lookup resolves a credential for a port server. The answer is
// filtered by the caller's port: a worker who exists but does not list
// the asking port comes back Found but not Authorized, with no record
// attached.
func (s *Service) Lookup(ctx context.Context, req types.LookupRequest) (types.LookupResponse, error) {
	if err := req.Validate(); err != nil {
		return types.LookupResponse{}, err
	}

	row, ok, err := s.workers.FindByCredential(ctx, strings.TrimSpace(req.CredentialID))
	if err != nil {
		return types.LookupResponse{}, err
	}
	if !ok {
		return types.LookupResponse{}, nil
	}

	portID := strings.TrimSpace(req.PortID)
	if portID != "" && !row.Record.HasPort(portID) {
		return types.LookupResponse{Found: true}, nil
	}

	rec := row.Record
	return types.LookupResponse{Found: true, Authorized: true, Record: &rec}, nil
}

// checkCredentialFree rejects a credential already held by a different
// live worker. Caller holds s.mu.
func (s *Service) checkCredentialFree(ctx context.Context, credentialID, workerID string) error {
	holder, ok, err := s.workers.FindByCredential(ctx, strings.TrimSpace(credentialID))
	if err != nil {
		return err
	}
	if ok && holder.Record.WorkerID != workerID {
		return ErrCredentialInUse
	}
	return nil
}

// fanOut queues m for every port in ports. The dispatcher delivers
// and retries in the background; an enqueue failure fails the admin
// command, because a mutation that never reaches the outbox would be
// lost to the replicas.
func (s *Service) fanOut(ctx context.Context, m types.Mutation, ports []string) error {
	if s.outbox == nil {
		return nil
	}
	for _, portID := range ports {
		if err := s.outbox.Enqueue(ctx, portID, m); err != nil {
			s.log.Error("fan-out enqueue failed",
				"port_id", portID, "worker_id", m.WorkerID, "version", m.Version, "err", err)
			return err
		}
	}
	return nil
}

func putMutation(rec types.WorkerRecord) types.Mutation {
	return types.Mutation{
		MutationID: types.NewMutationID(rec.WorkerID, rec.Version),
		Op:         types.OpPut,
		WorkerID:   rec.WorkerID,
		Version:    rec.Version,
		Record:     &rec,
		IssuedAt:   time.Now().UTC(),
	}
}

func unionPorts(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, p := range append(append([]string{}, a...), b...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
