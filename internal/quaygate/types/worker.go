package types

import (
	"fmt"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/biometric"
)

// WorkerRecord is the canonical description of an enrolled worker. The
// Central Directory owns the record's lifecycle; every other copy (port
// mirror, checkpoint cache) is a filtered replica identified by Version.
type WorkerRecord struct {
	WorkerID     string             `json:"worker_id"`
	Name         string             `json:"name"`
	Roles        []string           `json:"roles"`
	HomePorts    []string           `json:"home_ports"`
	CredentialID string             `json:"credential_id"`
	Template     biometric.Template `json:"template"`
	Version      uint64             `json:"version"`
}

// HasPort reports whether port is in the worker's home-port set.
func (r WorkerRecord) HasPort(port string) bool {
	for _, p := range r.HomePorts {
		if p == port {
			return true
		}
	}
	return false
}

// CheckpointPolicy describes one physical lane: where it is and which
// roles it admits. Set at provisioning, changed only by administrative
// push from the port server.
type CheckpointPolicy struct {
	CheckpointID string   `json:"checkpoint_id"`
	PortID       string   `json:"port_id"`
	Location     string   `json:"location"`
	AllowedRoles []string `json:"allowed_roles"`
}

// MutationOp distinguishes a record upsert from a tombstone.
type MutationOp string

const (
	OpPut       MutationOp = "put"
	OpTombstone MutationOp = "tombstone"
)

// Mutation is one versioned change to one worker, fanned out from the
// Central Directory. Per-worker mutations are totally ordered by
// Version; a receiver applies a mutation only if Version is strictly
// greater than what it holds, which makes redelivery a no-op.
//
// A tombstone carries no record and must never be undone by a replay of
// an older put.
type Mutation struct {
	MutationID string        `json:"mutation_id"`
	Op         MutationOp    `json:"op"`
	WorkerID   string        `json:"worker_id"`
	Version    uint64        `json:"version"`
	Record     *WorkerRecord `json:"record,omitempty"`
	IssuedAt   time.Time     `json:"issued_at"`
}

// NewMutationID derives the stable id for a worker's change at a
// version. Every producer of the same logical change mints the same
// id, so re-enqueueing it dedupes in the outbox instead of queueing a
// duplicate delivery.
func NewMutationID(workerID string, version uint64) string {
	return fmt.Sprintf("%s@v%d", workerID, version)
}

// ApplyStatus is a receiver's acknowledgment of one mutation.
type ApplyStatus string

const (
	ApplyApplied ApplyStatus = "applied" // version advanced
	ApplyStale   ApplyStatus = "stale"   // version <= held version; dropped
	ApplyEvicted ApplyStatus = "evicted" // tombstone removed a cached record
)
