// Package portserver implements the middle tier: a filtered mirror of
// the directory for one port, the checkpoint registry, the mutation
// outbox, and audit ingestion.
package portserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/policy"
	"github.com/quaygate/quaygate/internal/quaygate/store"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

var (
	ErrUnknownCheckpoint = errors.New("checkpoint not registered")
	ErrWrongPort         = errors.New("checkpoint belongs to another port")
)

// DirectoryLookup is the upstream credential resolver. The directory
// filters by this port before answering.
type DirectoryLookup interface {
	Lookup(ctx context.Context, req types.LookupRequest) (types.LookupResponse, error)
}

type Service struct {
	portID     string
	mirror     store.WorkerStore
	policies   store.PolicyStore
	outbox     store.OutboxStore
	heartbeats store.HeartbeatStore
	directory  DirectoryLookup // nil when the port runs isolated
	log        *slog.Logger

	// Serializes mirror read-modify-write so concurrent pushes for the
	// same worker cannot interleave version checks.
	mu sync.Mutex
}

type Config struct {
	PortID     string
	Mirror     store.WorkerStore
	Policies   store.PolicyStore
	Outbox     store.OutboxStore
	Heartbeats store.HeartbeatStore
	Directory  DirectoryLookup
	Logger     *slog.Logger
}

func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		portID:     cfg.PortID,
		mirror:     cfg.Mirror,
		policies:   cfg.Policies,
		outbox:     cfg.Outbox,
		heartbeats: cfg.Heartbeats,
		directory:  cfg.Directory,
		log:        log,
	}
}

// ApplyMutation ingests one mutation from the directory. A version at
// or below the mirror's copy is acknowledged as stale and dropped;
// everything else updates the mirror and is queued for every
// registered checkpoint. A put whose record no longer lists this port
// is treated as a removal: the mirror drops the worker and checkpoints
// are told to evict.
func (s *Service) ApplyMutation(ctx context.Context, req types.PushRequest) (types.PushResponse, error) {
	if err := req.Validate(); err != nil {
		return types.PushResponse{}, err
	}
	m := req.Mutation

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.mirror.Get(ctx, m.WorkerID)
	if err != nil {
		return types.PushResponse{}, err
	}
	if ok && m.Version <= existing.Record.Version {
		return types.PushResponse{OK: true, Status: types.ApplyStale}, nil
	}

	switch {
	case m.Op == types.OpPut && m.Record.HasPort(s.portID):
		row := store.WorkerRow{Record: *m.Record, UpdatedAt: time.Now().UTC()}
		if err := s.mirror.Put(ctx, row); err != nil {
			return types.PushResponse{}, err
		}
		if err := s.fanOut(ctx, m); err != nil {
			return types.PushResponse{}, err
		}
		s.log.Info("mutation applied",
			"worker_id", m.WorkerID, "version", m.Version, "op", string(m.Op))
		return types.PushResponse{OK: true, Status: types.ApplyApplied}, nil

	default:
		// Tombstone, or a put that moved the worker off this port.
		removed := types.WorkerRecord{WorkerID: m.WorkerID, Version: m.Version}
		if ok {
			removed = existing.Record
			removed.Version = m.Version
		}
		if err := s.mirror.Put(ctx, store.WorkerRow{
			Record:    removed,
			Deleted:   true,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return types.PushResponse{}, err
		}
		if err := s.fanOut(ctx, types.Mutation{
			MutationID: m.MutationID,
			Op:         types.OpTombstone,
			WorkerID:   m.WorkerID,
			Version:    m.Version,
			IssuedAt:   m.IssuedAt,
		}); err != nil {
			return types.PushResponse{}, err
		}

		status := types.ApplyApplied
		if ok && !existing.Deleted {
			status = types.ApplyEvicted
		}
		s.log.Info("mutation applied",
			"worker_id", m.WorkerID, "version", m.Version, "op", "tombstone")
		return types.PushResponse{OK: true, Status: status}, nil
	}
}

// fanOut queues one delivery per registered checkpoint. Checkpoints
// whose lane admits none of the worker's roles get a tombstone at the
// same version instead of the record, so the edge never holds data its
// policy cannot use. Caller holds s.mu.
func (s *Service) fanOut(ctx context.Context, m types.Mutation) error {
	pols, err := s.policies.List(ctx)
	if err != nil {
		return err
	}
	for _, pol := range pols {
		out := m
		if m.Op == types.OpPut && !policy.Admit(*m.Record, pol) {
			out = types.Mutation{
				MutationID: m.MutationID,
				Op:         types.OpTombstone,
				WorkerID:   m.WorkerID,
				Version:    m.Version,
				IssuedAt:   m.IssuedAt,
			}
		}
		if err := s.outbox.Enqueue(ctx, pol.CheckpointID, out); err != nil {
			return err
		}
	}
	return nil
}

// Lookup resolves a credential for a checkpoint, filtered by that
// checkpoint's lane policy. On a mirror miss the directory is asked
// and an authorized answer is absorbed into the mirror before the
// checkpoint sees it.
func (s *Service) Lookup(ctx context.Context, req types.LookupRequest) (types.LookupResponse, error) {
	if err := req.Validate(); err != nil {
		return types.LookupResponse{}, err
	}
	checkpointID := strings.TrimSpace(req.CheckpointID)
	if checkpointID == "" {
		return types.LookupResponse{}, types.ErrMissingCheckpointID
	}

	pol, ok, err := s.policies.Get(ctx, checkpointID)
	if err != nil {
		return types.LookupResponse{}, err
	}
	if !ok {
		return types.LookupResponse{}, ErrUnknownCheckpoint
	}

	row, ok, err := s.mirror.FindByCredential(ctx, strings.TrimSpace(req.CredentialID))
	if err != nil {
		return types.LookupResponse{}, err
	}
	if !ok {
		row, ok, err = s.lookupUpstream(ctx, req.CredentialID)
		if err != nil {
			return types.LookupResponse{}, err
		}
	}
	if !ok {
		return types.LookupResponse{}, nil
	}

	if !policy.Admit(row.Record, pol) {
		return types.LookupResponse{Found: true}, nil
	}
	rec := row.Record
	return types.LookupResponse{Found: true, Authorized: true, Record: &rec}, nil
}

// lookupUpstream asks the directory and, when it answers with a
// record, absorbs the answer before the checkpoint sees it.
func (s *Service) lookupUpstream(ctx context.Context, credentialID string) (store.WorkerRow, bool, error) {
	if s.directory == nil {
		return store.WorkerRow{}, false, nil
	}
	resp, err := s.directory.Lookup(ctx, types.LookupRequest{
		CredentialID: credentialID,
		PortID:       s.portID,
	})
	if err != nil {
		return store.WorkerRow{}, false, err
	}
	if !resp.Authorized || resp.Record == nil {
		return store.WorkerRow{}, false, nil
	}

	row := store.WorkerRow{Record: *resp.Record, UpdatedAt: time.Now().UTC()}
	s.absorb(ctx, row)
	return row, true, nil
}

// absorb installs a pulled record in the mirror and queues it for the
// checkpoints, exactly as the push of that version would have; the
// stable mutation id means a push that arrives afterwards dedupes
// against these entries instead of being lost to a stale ack. A push
// that already delivered this version or newer wins.
func (s *Service) absorb(ctx context.Context, row store.WorkerRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.mirror.Get(ctx, row.Record.WorkerID)
	if err != nil {
		s.log.Warn("mirror absorb failed", "worker_id", row.Record.WorkerID, "err", err)
		return
	}
	if ok && row.Record.Version <= existing.Record.Version {
		return
	}
	if err := s.mirror.Put(ctx, row); err != nil {
		s.log.Warn("mirror absorb failed", "worker_id", row.Record.WorkerID, "err", err)
		return
	}

	rec := row.Record
	if err := s.fanOut(ctx, types.Mutation{
		MutationID: types.NewMutationID(rec.WorkerID, rec.Version),
		Op:         types.OpPut,
		WorkerID:   rec.WorkerID,
		Version:    rec.Version,
		Record:     &rec,
		IssuedAt:   time.Now().UTC(),
	}); err != nil {
		s.log.Warn("absorb fan-out failed", "worker_id", rec.WorkerID, "err", err)
	}
}

// RegisterCheckpoint provisions or updates a lane policy. Policy role
// changes take effect on the next attempt at that lane; the checkpoint
// itself is told via its next sync.
func (s *Service) RegisterCheckpoint(ctx context.Context, req types.RegisterCheckpointRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Policy.PortID != s.portID {
		return ErrWrongPort
	}
	if err := s.policies.Put(ctx, req.Policy); err != nil {
		return err
	}
	s.log.Info("checkpoint registered",
		"checkpoint_id", req.Policy.CheckpointID, "location", req.Policy.Location)
	return nil
}

// Heartbeat records a liveness report and tells the device whether it
// is registered here.
func (s *Service) Heartbeat(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResponse, error) {
	if err := req.Validate(); err != nil {
		return types.HeartbeatResponse{}, err
	}
	now := time.Now().UTC()

	if err := s.heartbeats.Upsert(ctx, req.CheckpointID, store.HeartbeatRecord{
		ReceivedAt: now,
		Request:    req,
	}); err != nil {
		return types.HeartbeatResponse{}, err
	}

	_, registered, err := s.policies.Get(ctx, req.CheckpointID)
	if err != nil {
		return types.HeartbeatResponse{}, err
	}
	if !req.AuditHealthy {
		s.log.Warn("checkpoint reports degraded audit spool", "checkpoint_id", req.CheckpointID)
	}

	return types.HeartbeatResponse{
		OK:         true,
		Registered: registered,
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}
