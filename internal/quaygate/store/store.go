// Package store defines the persistence interfaces for the directory
// and port tiers. Implementations live in the sqlite and memory
// subpackages; services only see these interfaces.
package store

import (
	"context"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// WorkerRow is a worker record plus its lifecycle state. Deleted rows
// are kept so the per-worker version sequence stays monotonic across a
// delete and so tombstones can be re-fanned-out.
type WorkerRow struct {
	Record    types.WorkerRecord
	Deleted   bool
	UpdatedAt time.Time
}

// WorkerStore holds worker records keyed by worker id. The Central
// Directory uses it for the canonical set; each port server uses the
// same interface for its filtered mirror.
type WorkerStore interface {
	Get(ctx context.Context, workerID string) (WorkerRow, bool, error)
	FindByCredential(ctx context.Context, credentialID string) (WorkerRow, bool, error)
	Put(ctx context.Context, row WorkerRow) error
}

// PolicyStore holds checkpoint policies at the port server.
type PolicyStore interface {
	Put(ctx context.Context, pol types.CheckpointPolicy) error
	Get(ctx context.Context, checkpointID string) (types.CheckpointPolicy, bool, error)
	List(ctx context.Context) ([]types.CheckpointPolicy, error)
}

// AccessEventStore persists access decisions as an append-only audit
// log. Events are never updated or deleted by normal operation.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, ev types.AccessEvent) error
}

// PendingMutation is one queued delivery for one target.
type PendingMutation struct {
	Mutation   types.Mutation
	EnqueuedAt time.Time
}

// OutboxStore is the per-target redelivery queue. The directory keys
// it by port id, a port server by checkpoint id. A mutation stays
// queued until acknowledged; acking an already-acked mutation is a
// no-op, and re-enqueueing a mutation id keeps its original position.
// Deletes are never dropped by the store. Flagging a target that will
// not acknowledge is the monitor's job.
type OutboxStore interface {
	Enqueue(ctx context.Context, targetID string, m types.Mutation) error
	Pending(ctx context.Context, targetID string, limit int) ([]PendingMutation, error)
	Ack(ctx context.Context, targetID, mutationID string) error
	// OldestPending returns, per target, the enqueue time of its
	// oldest unacknowledged mutation.
	OldestPending(ctx context.Context) (map[string]time.Time, error)
}

// HeartbeatRecord is the latest liveness report from a checkpoint.
type HeartbeatRecord struct {
	ReceivedAt time.Time
	Request    types.HeartbeatRequest
}

// HeartbeatStore keeps the most recent heartbeat per checkpoint.
type HeartbeatStore interface {
	Upsert(ctx context.Context, checkpointID string, rec HeartbeatRecord) error
	LastSeen(ctx context.Context, checkpointID string) (time.Time, bool, error)
}
