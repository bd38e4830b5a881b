package checkpoint

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quaygate/quaygate/internal/quaygate/biometric"
	"github.com/quaygate/quaygate/internal/quaygate/policy"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// State is the authentication machine's position in one attempt.
type State int

const (
	StateIdle State = iota
	StateAwaitingCredential
	StateCredentialPresented
	StateAwaitingBiometric
	StateBiometricPresented
	StateDecided
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateCredentialPresented:
		return "credential_presented"
	case StateAwaitingBiometric:
		return "awaiting_biometric"
	case StateBiometricPresented:
		return "biometric_presented"
	case StateDecided:
		return "decided"
	default:
		return "unknown"
	}
}

// Result is what the sensor/UI collaborator gets back from each input.
// Decided is true exactly when the attempt reached a terminal outcome;
// the machine has already reset to Idle by the time the caller sees it.
type Result struct {
	State     State
	Decided   bool
	Outcome   types.Outcome
	Reason    string
	Abandoned bool
}

// Resolver is the upstream lookup used on a cache miss. The port
// server answers from its mirror or, failing that, the directory, and
// filters the response to this checkpoint's policy before it leaves
// the server.
type Resolver interface {
	Lookup(ctx context.Context, credentialID string) (types.LookupResponse, error)
}

// EventRecorder receives exactly one access event per decided or
// abandoned attempt. Implementations are best-effort: a failed write
// must not block or change the access decision.
type EventRecorder interface {
	Record(ev types.AccessEvent)
}

// Machine runs the two-factor authentication sequence for one physical
// lane. One attempt at a time; an unexpected input aborts the current
// attempt as abandoned rather than guessing at intent.
//
// Every path out of an attempt is a definitive grant, deny, or
// abandonment — never silence, and on any fault, never a grant.
type Machine struct {
	mu sync.Mutex

	pol      types.CheckpointPolicy
	cache    *Cache
	matcher  biometric.Matcher
	resolver Resolver
	audit    EventRecorder
	throttle *Throttle
	log      *slog.Logger

	lookupTimeout time.Duration

	state  State
	worker types.WorkerRecord
}

// MachineConfig wires a Machine. Cache may be nil when the local store
// is faulted: the machine then lives on the resolver alone and denies
// when that is unavailable. Resolver and Throttle may be nil.
type MachineConfig struct {
	Policy        types.CheckpointPolicy
	Cache         *Cache
	Matcher       biometric.Matcher
	Resolver      Resolver
	Audit         EventRecorder
	Throttle      *Throttle
	Logger        *slog.Logger
	LookupTimeout time.Duration
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.Matcher == nil {
		cfg.Matcher = biometric.HashMatcher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	return &Machine{
		pol:           cfg.Policy,
		cache:         cfg.Cache,
		matcher:       cfg.Matcher,
		resolver:      cfg.Resolver,
		audit:         cfg.Audit,
		throttle:      cfg.Throttle,
		log:           cfg.Logger,
		lookupTimeout: cfg.LookupTimeout,
		state:         StateIdle,
	}
}

// State reports the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Activate arms the machine for a new attempt (card tap). Activating
// mid-attempt abandons the attempt in progress.
func (m *Machine) Activate() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return m.abandon("activation during attempt")
	}
	m.state = StateAwaitingCredential
	return Result{State: m.state}
}

// Reset abandons any attempt in progress and returns to Idle.
func (m *Machine) Reset() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateIdle {
		return Result{State: StateIdle}
	}
	return m.abandon("explicit reset")
}

// PresentCredential consumes the credential read from the card. On a
// local hit the checkpoint's policy is re-checked against the cached
// record before the biometric stage — cache admission and this attempt
// may be separated by a role change that has not propagated yet. On a
// miss (or after a re-check eviction) the resolver is consulted under
// a hard timeout; an unreachable or silent upstream denies.
func (m *Machine) PresentCredential(ctx context.Context, credentialID string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingCredential {
		return m.abandon("credential out of turn")
	}
	m.state = StateCredentialPresented

	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return m.decide(types.WorkerRecord{}, types.OutcomeSensorFault, "empty credential read")
	}

	if m.throttle != nil && !m.throttle.Allow(credentialID) {
		return m.decide(types.WorkerRecord{}, types.OutcomeUnknownCredential, "attempt rate exceeded")
	}

	if m.cache != nil {
		if rec, ok := m.cache.LookupCredential(credentialID); ok {
			if policy.Admit(rec, m.pol) {
				m.worker = rec
				m.state = StateAwaitingBiometric
				return Result{State: m.state}
			}
			// Stale cache: the record no longer satisfies this lane's
			// policy. Evict, then fall through to a live re-query.
			m.cache.Evict(rec.WorkerID)
			m.log.Info("evicted stale cache entry",
				"worker_id", rec.WorkerID, "checkpoint_id", m.pol.CheckpointID)
			// With no upstream to consult, the evicted record is simply
			// no longer known here.
			if m.resolver == nil {
				return m.decide(types.WorkerRecord{}, types.OutcomeUnknownCredential, "unknown credential")
			}
		}
	}

	return m.resolveMiss(ctx, credentialID)
}

// resolveMiss runs the pull path. Caller holds m.mu.
func (m *Machine) resolveMiss(ctx context.Context, credentialID string) Result {
	if m.resolver == nil {
		return m.decide(types.WorkerRecord{}, types.OutcomeUnknownCredential, "unknown credential")
	}

	ctx, cancel := context.WithTimeout(ctx, m.lookupTimeout)
	defer cancel()

	resp, err := m.resolver.Lookup(ctx, credentialID)
	if err != nil {
		m.log.Warn("cache-miss lookup failed", "error", err)
		return m.decide(types.WorkerRecord{}, types.OutcomeUnknownCredential, "unknown credential")
	}

	switch {
	case !resp.Found:
		return m.decide(types.WorkerRecord{}, types.OutcomeUnknownCredential, "unknown credential")
	case !resp.Authorized || resp.Record == nil:
		return m.decide(types.WorkerRecord{}, types.OutcomeRoleNotPermitted, "role not permitted at this checkpoint")
	case !policy.Admit(*resp.Record, m.pol):
		// The server filters; this re-check catches a misbehaving one.
		return m.decide(*resp.Record, types.OutcomeRoleNotPermitted, "role not permitted at this checkpoint")
	}

	if m.cache != nil {
		if err := m.cache.AdmitPull(*resp.Record); err != nil {
			m.log.Warn("cache admit after pull failed", "error", err)
		}
	}

	m.worker = *resp.Record
	m.state = StateAwaitingBiometric
	return Result{State: m.state}
}

// PresentBiometric consumes the sensor sample and finishes the
// attempt. Verification is 1:1 against the already-identified worker's
// template; a matcher error is a sensor fault and fails closed. There
// is no in-attempt retry — a mismatch ends the attempt and the worker
// must restart from the card tap.
func (m *Machine) PresentBiometric(ctx context.Context, sample []byte) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingBiometric {
		return m.abandon("biometric out of turn")
	}
	m.state = StateBiometricPresented

	if err := ctx.Err(); err != nil {
		return m.decide(m.worker, types.OutcomeSensorFault, "sensor failure")
	}

	match, err := m.matcher.Verify(sample, m.worker.Template)
	if err != nil {
		m.log.Warn("biometric verify error", "worker_id", m.worker.WorkerID, "error", err)
		return m.decide(m.worker, types.OutcomeSensorFault, "sensor failure")
	}
	if !match {
		return m.decide(m.worker, types.OutcomeBiometricMismatch, "biometric mismatch")
	}
	return m.decide(m.worker, types.OutcomeGranted, "")
}

// ReportSensorFault lets the sensor driver surface a hardware timeout
// while a sample is awaited.
func (m *Machine) ReportSensorFault() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingBiometric {
		return m.abandon("sensor fault out of turn")
	}
	m.state = StateBiometricPresented
	return m.decide(m.worker, types.OutcomeSensorFault, "sensor failure")
}

// decide emits the single audit event for the attempt and resets.
// Caller holds m.mu.
func (m *Machine) decide(rec types.WorkerRecord, outcome types.Outcome, reason string) Result {
	m.state = StateDecided
	m.emit(rec, outcome, reason, false)
	m.reset()
	return Result{State: StateIdle, Decided: true, Outcome: outcome, Reason: reason}
}

// abandon aborts the attempt without counting it as a failed
// authentication. Caller holds m.mu.
func (m *Machine) abandon(reason string) Result {
	rec := m.worker
	m.emit(rec, "", reason, true)
	m.reset()
	return Result{State: StateIdle, Abandoned: true, Reason: reason}
}

func (m *Machine) reset() {
	m.state = StateIdle
	m.worker = types.WorkerRecord{}
}

func (m *Machine) emit(rec types.WorkerRecord, outcome types.Outcome, reason string, abandoned bool) {
	if m.audit == nil {
		return
	}
	workerID := rec.WorkerID
	if workerID == "" {
		workerID = types.UnknownWorker
	}
	m.audit.Record(types.AccessEvent{
		EventID:      uuid.NewString(),
		OccurredAt:   time.Now().UTC(),
		CheckpointID: m.pol.CheckpointID,
		WorkerID:     workerID,
		Role:         strings.Join(rec.Roles, ","),
		Outcome:      outcome,
		Reason:       reason,
		Abandoned:    abandoned,
	})
}
