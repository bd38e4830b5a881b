package types

import (
	"errors"
	"strings"
)

// Administrative and inter-tier commands. Each command is its own
// typed payload validated at the boundary; handlers never see a
// half-formed request. Unknown JSON fields are rejected by the HTTP
// layer before these validators run.

var (
	ErrMissingWorkerID     = errors.New("worker_id is required")
	ErrMissingName         = errors.New("name is required")
	ErrMissingRoles        = errors.New("at least one role is required")
	ErrMissingHomePorts    = errors.New("at least one home port is required")
	ErrMissingCredentialID = errors.New("credential_id is required")
	ErrMissingSample       = errors.New("biometric_sample is required")
	ErrEmptyUpdate         = errors.New("update changes no fields")
	ErrMissingCheckpointID = errors.New("checkpoint_id is required")
	ErrMissingPortID       = errors.New("port_id is required")
	ErrBadMutation         = errors.New("malformed mutation")
)

// EnrollRequest creates a worker record at the Central Directory.
// The biometric sample is hashed into a template on arrival and then
// discarded; it never reaches a store.
type EnrollRequest struct {
	WorkerID        string   `json:"worker_id"`
	Name            string   `json:"name"`
	Roles           []string `json:"roles"`
	HomePorts       []string `json:"home_ports"`
	CredentialID    string   `json:"credential_id"`
	BiometricSample []byte   `json:"biometric_sample"`
	Actor           string   `json:"actor,omitempty"`
}

func (r EnrollRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.WorkerID) == "":
		return ErrMissingWorkerID
	case strings.TrimSpace(r.Name) == "":
		return ErrMissingName
	case len(cleanList(r.Roles)) == 0:
		return ErrMissingRoles
	case len(cleanList(r.HomePorts)) == 0:
		return ErrMissingHomePorts
	case strings.TrimSpace(r.CredentialID) == "":
		return ErrMissingCredentialID
	case len(r.BiometricSample) == 0:
		return ErrMissingSample
	}
	return nil
}

// UpdateRequest mutates an existing record. Nil fields are left
// untouched; at least one must be set.
type UpdateRequest struct {
	WorkerID     string    `json:"worker_id"`
	Roles        *[]string `json:"roles,omitempty"`
	HomePorts    *[]string `json:"home_ports,omitempty"`
	CredentialID *string   `json:"credential_id,omitempty"`
	Actor        string    `json:"actor,omitempty"`
}

func (r UpdateRequest) Validate() error {
	if strings.TrimSpace(r.WorkerID) == "" {
		return ErrMissingWorkerID
	}
	if r.Roles == nil && r.HomePorts == nil && r.CredentialID == nil {
		return ErrEmptyUpdate
	}
	if r.Roles != nil && len(cleanList(*r.Roles)) == 0 {
		return ErrMissingRoles
	}
	if r.HomePorts != nil && len(cleanList(*r.HomePorts)) == 0 {
		return ErrMissingHomePorts
	}
	if r.CredentialID != nil && strings.TrimSpace(*r.CredentialID) == "" {
		return ErrMissingCredentialID
	}
	return nil
}

// DeleteRequest tombstones a worker record everywhere.
type DeleteRequest struct {
	WorkerID string `json:"worker_id"`
	Actor    string `json:"actor,omitempty"`
}

func (r DeleteRequest) Validate() error {
	if strings.TrimSpace(r.WorkerID) == "" {
		return ErrMissingWorkerID
	}
	return nil
}

// MutationResponse acknowledges an admin mutation with the version it
// produced.
type MutationResponse struct {
	OK       bool   `json:"ok"`
	WorkerID string `json:"worker_id"`
	Version  uint64 `json:"version"`
}

// LookupRequest resolves a credential on a cache miss. Checkpoints ask
// their port server; port servers ask the directory. The responder
// filters by the caller's scope before answering — the edge never
// receives data it is not authorized to hold.
type LookupRequest struct {
	CredentialID string `json:"credential_id"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	PortID       string `json:"port_id,omitempty"`
}

func (r LookupRequest) Validate() error {
	if strings.TrimSpace(r.CredentialID) == "" {
		return ErrMissingCredentialID
	}
	return nil
}

// LookupResponse distinguishes "nobody holds this credential" from
// "held, but not authorized for your scope". Record is set only when
// Authorized is true.
type LookupResponse struct {
	Found      bool          `json:"found"`
	Authorized bool          `json:"authorized"`
	Record     *WorkerRecord `json:"record,omitempty"`
}

// PushRequest delivers one mutation downstream (directory → port, or
// port → checkpoint). The ack carries the receiver's ApplyStatus; any
// status acknowledges delivery.
type PushRequest struct {
	Mutation Mutation `json:"mutation"`
}

func (r PushRequest) Validate() error {
	m := r.Mutation
	if strings.TrimSpace(m.WorkerID) == "" || m.Version == 0 {
		return ErrBadMutation
	}
	switch m.Op {
	case OpPut:
		if m.Record == nil {
			return ErrBadMutation
		}
	case OpTombstone:
		if m.Record != nil {
			return ErrBadMutation
		}
	default:
		return ErrBadMutation
	}
	return nil
}

// PushResponse acknowledges a mutation push.
type PushResponse struct {
	OK     bool        `json:"ok"`
	Status ApplyStatus `json:"status"`
}

// RegisterCheckpointRequest provisions a checkpoint's policy at its
// port server.
type RegisterCheckpointRequest struct {
	Policy CheckpointPolicy `json:"policy"`
}

func (r RegisterCheckpointRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Policy.CheckpointID) == "":
		return ErrMissingCheckpointID
	case strings.TrimSpace(r.Policy.PortID) == "":
		return ErrMissingPortID
	case len(cleanList(r.Policy.AllowedRoles)) == 0:
		return ErrMissingRoles
	}
	return nil
}

// HeartbeatRequest is a checkpoint liveness report. The staleness
// monitor uses last-seen times to tell an offline device from a
// misbehaving one.
type HeartbeatRequest struct {
	CheckpointID    string `json:"checkpoint_id"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_s,omitempty"`
	CacheEntries    int    `json:"cache_entries,omitempty"`
	AuditHealthy    bool   `json:"audit_healthy"`
}

func (r HeartbeatRequest) Validate() error {
	if strings.TrimSpace(r.CheckpointID) == "" {
		return ErrMissingCheckpointID
	}
	return nil
}

// HeartbeatResponse echoes what the port server knows about the device.
type HeartbeatResponse struct {
	OK         bool   `json:"ok"`
	Registered bool   `json:"registered"`
	ServerTime string `json:"server_time"`
}

// EventBatch forwards spooled access events upstream.
type EventBatch struct {
	CheckpointID string        `json:"checkpoint_id"`
	Events       []AccessEvent `json:"events"`
}

func (r EventBatch) Validate() error {
	if strings.TrimSpace(r.CheckpointID) == "" {
		return ErrMissingCheckpointID
	}
	return nil
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
