package types

import "time"

// Outcome is the closed set of results an authentication attempt can
// surface. There is no generic failure: every deny carries its reason.
type Outcome string

const (
	OutcomeGranted           Outcome = "granted"
	OutcomeUnknownCredential Outcome = "denied-unknown-credential"
	OutcomeRoleNotPermitted  Outcome = "denied-role"
	OutcomeBiometricMismatch Outcome = "denied-biometric-mismatch"
	OutcomeSensorFault       Outcome = "denied-sensor-fault"
	OutcomeSyncPending       Outcome = "sync-pending" // informational, not a denial
)

// Granted reports whether the outcome opens the lane.
func (o Outcome) Granted() bool { return o == OutcomeGranted }

// UnknownWorker is recorded when an attempt never resolved to an
// enrolled worker.
const UnknownWorker = "unknown"

// AccessEvent is one audit record for one authentication attempt.
// Events are append-only and owned by the port server; checkpoints
// spool them locally and forward when connectivity allows.
type AccessEvent struct {
	EventID      string    `json:"event_id"`
	OccurredAt   time.Time `json:"occurred_at"` // UTC
	CheckpointID string    `json:"checkpoint_id"`
	WorkerID     string    `json:"worker_id"` // UnknownWorker if unresolved
	Role         string    `json:"role,omitempty"`
	Outcome      Outcome   `json:"outcome,omitempty"` // empty for abandoned attempts
	Reason       string    `json:"reason,omitempty"`
	Abandoned    bool      `json:"abandoned,omitempty"`
}
