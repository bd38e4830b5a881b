package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/outbox"
	"github.com/quaygate/quaygate/internal/quaygate/store/memory"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// fakeDeliverer plays the receiving tier's push endpoint. It can be
// set to fail to simulate an outage.
type fakeDeliverer struct {
	mu        sync.Mutex
	delivered map[string][]types.Mutation
	failing   bool
	failFor   map[string]bool
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{
		delivered: make(map[string][]types.Mutation),
		failFor:   make(map[string]bool),
	}
}

func (f *fakeDeliverer) Deliver(_ context.Context, targetID string, m types.Mutation) (types.ApplyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing || f.failFor[targetID] {
		return "", errors.New("target unreachable")
	}
	f.delivered[targetID] = append(f.delivered[targetID], m)
	return types.ApplyApplied, nil
}

func (f *fakeDeliverer) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *fakeDeliverer) forTarget(id string) []types.Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Mutation(nil), f.delivered[id]...)
}

func putAt(version uint64) types.Mutation {
	rec := types.WorkerRecord{
		WorkerID:     "w-100",
		Name:         "Marta Quinn",
		Roles:        []string{"crane-operator"},
		HomePorts:    []string{"halifax"},
		CredentialID: "card-100",
		Version:      version,
	}
	return types.Mutation{
		MutationID: types.NewMutationID(rec.WorkerID, version),
		Op:         types.OpPut,
		WorkerID:   rec.WorkerID,
		Version:    version,
		Record:     &rec,
		IssuedAt:   time.Now().UTC(),
	}
}

func tombstoneAt(version uint64) types.Mutation {
	return types.Mutation{
		MutationID: types.NewMutationID("w-100", version),
		Op:         types.OpTombstone,
		WorkerID:   "w-100",
		Version:    version,
		IssuedAt:   time.Now().UTC(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatcher_DrainsInOrder(t *testing.T) {
	ob := memory.NewOutboxStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := ob.Enqueue(ctx, "cp-1", putAt(uint64(i))); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	fd := newFakeDeliverer()
	d := outbox.NewDispatcher(ob, fd, outbox.DispatcherConfig{Interval: 10 * time.Millisecond}, nil)
	d.Start(ctx)
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return len(fd.forTarget("cp-1")) == 3
	})

	got := fd.forTarget("cp-1")
	for i, m := range got {
		if m.Version != uint64(i+1) {
			t.Errorf("position %d: expected v%d, got v%d", i, i+1, m.Version)
		}
	}

	pending, err := ob.Pending(ctx, "cp-1", 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected drained outbox, %d left", len(pending))
	}
}

// Scenario: the target is offline while mutations accumulate, then
// comes back. Everything is redelivered; nothing was dropped.
func TestDispatcher_RedeliversAfterOutage(t *testing.T) {
	ob := memory.NewOutboxStore()
	ctx := context.Background()

	fd := newFakeDeliverer()
	fd.setFailing(true)

	d := outbox.NewDispatcher(ob, fd, outbox.DispatcherConfig{Interval: 10 * time.Millisecond}, nil)
	d.Start(ctx)
	defer d.Stop()

	if err := ob.Enqueue(ctx, "cp-1", putAt(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := ob.Enqueue(ctx, "cp-1", tombstoneAt(2)); err != nil {
		t.Fatalf("Enqueue tombstone: %v", err)
	}

	// Give the dispatcher a few failing passes; the queue must survive.
	time.Sleep(50 * time.Millisecond)
	pending, err := ob.Pending(ctx, "cp-1", 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("outage must not drop mutations, have %d", len(pending))
	}

	fd.setFailing(false)
	waitFor(t, 2*time.Second, func() bool {
		return len(fd.forTarget("cp-1")) == 2
	})

	got := fd.forTarget("cp-1")
	if got[1].Op != types.OpTombstone {
		t.Errorf("expected the tombstone delivered last, got %+v", got[1])
	}
}

func TestDispatcher_FailureIsolatedPerTarget(t *testing.T) {
	ob := memory.NewOutboxStore()
	ctx := context.Background()

	fd := newFakeDeliverer()
	fd.failFor["cp-1"] = true

	if err := ob.Enqueue(ctx, "cp-1", putAt(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := ob.Enqueue(ctx, "cp-2", putAt(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d := outbox.NewDispatcher(ob, fd, outbox.DispatcherConfig{Interval: 10 * time.Millisecond}, nil)
	d.Start(ctx)
	defer d.Stop()

	// cp-2 drains even though cp-1 is down.
	waitFor(t, 2*time.Second, func() bool {
		return len(fd.forTarget("cp-2")) == 1
	})

	pending, err := ob.Pending(ctx, "cp-1", 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("cp-1's queue should be intact, have %d", len(pending))
	}
}

func TestDispatcher_StopWithoutStart(t *testing.T) {
	d := outbox.NewDispatcher(memory.NewOutboxStore(), newFakeDeliverer(), outbox.DispatcherConfig{}, nil)
	d.Stop() // must not hang
}

// ═══════════════════════════════════════════════════════════════════════════
// Monitor
// ═══════════════════════════════════════════════════════════════════════════

func TestMonitor_FlagsOverBound(t *testing.T) {
	ob := memory.NewOutboxStore()
	ctx := context.Background()

	if err := ob.Enqueue(ctx, "cp-1", putAt(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Anything pending is immediately over a 1ns bound.
	m := outbox.NewMonitor(ob, outbox.MonitorConfig{
		Bound:    time.Nanosecond,
		Interval: 10 * time.Millisecond,
	}, nil)
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := m.Flagged()["cp-1"]
		return ok
	})

	// Draining the queue clears the flag on the next check.
	pending, err := ob.Pending(ctx, "cp-1", 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if err := ob.Ack(ctx, "cp-1", pending[0].Mutation.MutationID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, ok := m.Flagged()["cp-1"]
		return !ok
	})
}

func TestMonitor_ZeroBoundDisabled(t *testing.T) {
	m := outbox.NewMonitor(memory.NewOutboxStore(), outbox.MonitorConfig{}, nil)
	m.Start(context.Background())
	m.Stop() // must not hang
	if len(m.Flagged()) != 0 {
		t.Error("disabled monitor should flag nothing")
	}
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := outbox.NewMonitor(memory.NewOutboxStore(), outbox.MonitorConfig{Bound: time.Hour}, nil)
	m.Stop() // must not hang
}
