package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quaygate/quaygate/internal/quaygate/biometric"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// recorder collects emitted access events for inspection.
type recorder struct {
	mu     sync.Mutex
	events []types.AccessEvent
}

func (r *recorder) Record(ev types.AccessEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []types.AccessEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.AccessEvent(nil), r.events...)
}

// resolverFunc adapts a function to the Resolver interface.
type resolverFunc func(ctx context.Context, credentialID string) (types.LookupResponse, error)

func (f resolverFunc) Lookup(ctx context.Context, credentialID string) (types.LookupResponse, error) {
	return f(ctx, credentialID)
}

// faultyMatcher simulates a broken sensor pipeline.
type faultyMatcher struct{}

func (faultyMatcher) Verify(_ []byte, _ biometric.Template) (bool, error) {
	return false, errors.New("sensor read error")
}

func halifaxPolicy(roles ...string) types.CheckpointPolicy {
	return types.CheckpointPolicy{
		CheckpointID: "cp-1",
		PortID:       "halifax",
		Location:     "north gate",
		AllowedRoles: roles,
	}
}

// newTestMachine builds a machine over a fresh in-memory cache seeded
// with the given records.
func newTestMachine(t *testing.T, cfg MachineConfig, seed ...types.WorkerRecord) (*Machine, *recorder) {
	t.Helper()
	rec := &recorder{}
	if cfg.Cache == nil {
		c, err := NewCache(nil)
		require.NoError(t, err)
		cfg.Cache = c
	}
	for _, w := range seed {
		_, err := cfg.Cache.Apply(putMutation(w))
		require.NoError(t, err)
	}
	cfg.Audit = rec
	return NewMachine(cfg), rec
}

func tapAndPresent(t *testing.T, m *Machine, credentialID string) Result {
	t.Helper()
	res := m.Activate()
	require.Equal(t, StateAwaitingCredential, res.State)
	return m.PresentCredential(context.Background(), credentialID)
}

func enrolledW1(t *testing.T) (types.WorkerRecord, []byte) {
	t.Helper()
	sample := []byte("w1-finger-3")
	rec := workerW1(1)
	tpl, err := biometric.NewTemplate(sample)
	require.NoError(t, err)
	rec.Template = tpl
	return rec, sample
}

func TestGrantHappyPath(t *testing.T) {
	rec, sample := enrolledW1(t)
	m, audit := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("janitor")}, rec)

	res := tapAndPresent(t, m, "card-w1")
	require.Equal(t, StateAwaitingBiometric, res.State)
	require.False(t, res.Decided)

	res = m.PresentBiometric(context.Background(), sample)
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeGranted, res.Outcome)
	require.Equal(t, StateIdle, m.State())

	events := audit.all()
	require.Len(t, events, 1)
	require.Equal(t, "w1", events[0].WorkerID)
	require.Equal(t, types.OutcomeGranted, events[0].Outcome)
	require.False(t, events[0].Abandoned)
}

func TestDeniedRoleViaFilteredLookup(t *testing.T) {
	// Managers-only checkpoint: w1 is never cached here, and the port
	// server answers the miss with found-but-not-authorized.
	resolver := resolverFunc(func(_ context.Context, _ string) (types.LookupResponse, error) {
		return types.LookupResponse{Found: true, Authorized: false}, nil
	})
	m, audit := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("manager"), Resolver: resolver})

	res := tapAndPresent(t, m, "card-w1")
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeRoleNotPermitted, res.Outcome)
	require.Equal(t, "role not permitted at this checkpoint", res.Reason)

	events := audit.all()
	require.Len(t, events, 1)
	require.Equal(t, types.OutcomeRoleNotPermitted, events[0].Outcome)
}

func TestDeniedUnknownCredentialOffline(t *testing.T) {
	m, audit := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("janitor")})

	res := tapAndPresent(t, m, "card-stranger")
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeUnknownCredential, res.Outcome)

	events := audit.all()
	require.Len(t, events, 1)
	require.Equal(t, types.UnknownWorker, events[0].WorkerID)
}

func TestLookupTimeoutFailsClosed(t *testing.T) {
	resolver := resolverFunc(func(ctx context.Context, _ string) (types.LookupResponse, error) {
		<-ctx.Done() // upstream never answers
		return types.LookupResponse{}, ctx.Err()
	})
	m, _ := newTestMachine(t, MachineConfig{
		Policy:        halifaxPolicy("janitor"),
		Resolver:      resolver,
		LookupTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	res := tapAndPresent(t, m, "card-w1")
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeUnknownCredential, res.Outcome)
	require.Less(t, time.Since(start), time.Second, "lookup must be bounded by its timeout")
}

func TestLookupPopulatesCache(t *testing.T) {
	rec, sample := enrolledW1(t)
	calls := 0
	resolver := resolverFunc(func(_ context.Context, credentialID string) (types.LookupResponse, error) {
		calls++
		require.Equal(t, "card-w1", credentialID)
		return types.LookupResponse{Found: true, Authorized: true, Record: &rec}, nil
	})
	m, _ := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("janitor"), Resolver: resolver})

	res := tapAndPresent(t, m, "card-w1")
	require.Equal(t, StateAwaitingBiometric, res.State)
	res = m.PresentBiometric(context.Background(), sample)
	require.Equal(t, types.OutcomeGranted, res.Outcome)

	// Second attempt must be served locally.
	res = tapAndPresent(t, m, "card-w1")
	require.Equal(t, StateAwaitingBiometric, res.State)
	require.Equal(t, 1, calls)
	res = m.PresentBiometric(context.Background(), sample)
	require.Equal(t, types.OutcomeGranted, res.Outcome)
}

func TestStaleRoleEvictedAndRequeried(t *testing.T) {
	// w1 cached as janitor; directory has since promoted w1 to manager,
	// which this janitors-only lane does not admit.
	rec, _ := enrolledW1(t)
	resolver := resolverFunc(func(_ context.Context, _ string) (types.LookupResponse, error) {
		return types.LookupResponse{Found: true, Authorized: false}, nil
	})
	cache, err := NewCache(nil)
	require.NoError(t, err)
	cfg := MachineConfig{Policy: halifaxPolicy("manager"), Resolver: resolver, Cache: cache}
	m, _ := newTestMachine(t, cfg, rec) // seeded despite policy: simulates a pre-change admission

	res := tapAndPresent(t, m, "card-w1")
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeRoleNotPermitted, res.Outcome)

	_, ok := cfg.Cache.LookupCredential("card-w1")
	require.False(t, ok, "stale entry must be evicted, not reused")
}

func TestStaleRoleEvictedOffline(t *testing.T) {
	rec, _ := enrolledW1(t)
	cache, err := NewCache(nil)
	require.NoError(t, err)
	cfg := MachineConfig{Policy: halifaxPolicy("manager"), Cache: cache}
	m, _ := newTestMachine(t, cfg, rec)

	res := tapAndPresent(t, m, "card-w1")
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeUnknownCredential, res.Outcome)

	_, ok := cfg.Cache.LookupCredential("card-w1")
	require.False(t, ok)
}

func TestBiometricMismatchEndsAttempt(t *testing.T) {
	rec, _ := enrolledW1(t)
	m, audit := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("janitor")}, rec)

	res := tapAndPresent(t, m, "card-w1")
	require.Equal(t, StateAwaitingBiometric, res.State)

	res = m.PresentBiometric(context.Background(), []byte("wrong-finger"))
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeBiometricMismatch, res.Outcome)

	// Retrying the biometric without a fresh card tap is an invalid
	// transition: the attempt is gone, only an abandonment is recorded.
	res = m.PresentBiometric(context.Background(), []byte("wrong-finger"))
	require.False(t, res.Decided)
	require.True(t, res.Abandoned)

	events := audit.all()
	require.Len(t, events, 2)
	require.Equal(t, types.OutcomeBiometricMismatch, events[0].Outcome)
	require.True(t, events[1].Abandoned)
	require.Empty(t, events[1].Outcome)
}

func TestSensorFaultFailsClosed(t *testing.T) {
	rec, _ := enrolledW1(t)
	m, _ := newTestMachine(t, MachineConfig{
		Policy:  halifaxPolicy("janitor"),
		Matcher: faultyMatcher{},
	}, rec)

	res := tapAndPresent(t, m, "card-w1")
	require.Equal(t, StateAwaitingBiometric, res.State)

	res = m.PresentBiometric(context.Background(), []byte("anything"))
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeSensorFault, res.Outcome)
	require.Equal(t, "sensor failure", res.Reason)
}

func TestReportSensorFault(t *testing.T) {
	rec, _ := enrolledW1(t)
	m, _ := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("janitor")}, rec)

	tapAndPresent(t, m, "card-w1")
	res := m.ReportSensorFault()
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeSensorFault, res.Outcome)
}

func TestSecondTapMidFlowAbandons(t *testing.T) {
	rec, sample := enrolledW1(t)
	m, audit := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("janitor")}, rec)

	tapAndPresent(t, m, "card-w1")
	res := m.Activate() // second tap while awaiting biometric
	require.True(t, res.Abandoned)
	require.Equal(t, StateIdle, m.State())

	events := audit.all()
	require.Len(t, events, 1)
	require.True(t, events[0].Abandoned)
	require.Empty(t, events[0].Outcome, "abandonment is not a failed authentication")

	// A fresh full sequence still works.
	res = tapAndPresent(t, m, "card-w1")
	require.Equal(t, StateAwaitingBiometric, res.State)
	res = m.PresentBiometric(context.Background(), sample)
	require.Equal(t, types.OutcomeGranted, res.Outcome)
}

func TestThrottleDeniesBeforeLookup(t *testing.T) {
	rec, sample := enrolledW1(t)
	m, _ := newTestMachine(t, MachineConfig{
		Policy:   halifaxPolicy("janitor"),
		Throttle: NewThrottle(2, time.Hour),
	}, rec)

	for i := 0; i < 2; i++ {
		res := tapAndPresent(t, m, "card-w1")
		require.Equal(t, StateAwaitingBiometric, res.State)
		res = m.PresentBiometric(context.Background(), sample)
		require.Equal(t, types.OutcomeGranted, res.Outcome)
	}

	res := tapAndPresent(t, m, "card-w1")
	require.True(t, res.Decided)
	require.Equal(t, types.OutcomeUnknownCredential, res.Outcome)
	require.Equal(t, "attempt rate exceeded", res.Reason)
}

func TestEveryDecisionEmitsExactlyOneEvent(t *testing.T) {
	rec, sample := enrolledW1(t)
	m, audit := newTestMachine(t, MachineConfig{Policy: halifaxPolicy("janitor")}, rec)

	tapAndPresent(t, m, "card-w1")
	m.PresentBiometric(context.Background(), sample) // granted

	tapAndPresent(t, m, "card-unknown") // denied

	tapAndPresent(t, m, "card-w1")
	m.PresentBiometric(context.Background(), []byte("nope")) // mismatch

	require.Len(t, audit.all(), 3)
}
