package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/store"
)

// Monitor watches the outbox for targets that have not acknowledged
// anything for longer than the configured bound. Flagged targets are
// surfaced for operators; their queues are never dropped, because a
// delete that silently disappears leaves a revoked credential live
// downstream.
type Monitor struct {
	outbox   store.OutboxStore
	bound    time.Duration
	interval time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	flagged map[string]time.Time // target id → oldest pending enqueue time

	cancel context.CancelFunc
	done   chan struct{}
}

type MonitorConfig struct {
	// Bound is how long a mutation may sit unacknowledged before its
	// target is flagged. 0 disables the monitor.
	Bound time.Duration

	// Interval between checks. Defaults to 1 minute.
	Interval time.Duration
}

func NewMonitor(outbox store.OutboxStore, cfg MonitorConfig, log *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		outbox:   outbox,
		bound:    cfg.Bound,
		interval: cfg.Interval,
		log:      log,
		flagged:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}
}

// Start begins the background check loop. A zero bound disables it.
func (m *Monitor) Start(ctx context.Context) {
	if m.bound <= 0 {
		m.log.Info("staleness monitor disabled")
		close(m.done)
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
	m.log.Info("staleness monitor started", "bound", m.bound.String(), "interval", m.interval.String())
}

// Stop signals the monitor to exit and waits for it to finish. Safe to
// call on a monitor that was never started.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Flagged returns the targets currently over the staleness bound and
// the enqueue time of their oldest pending mutation.
func (m *Monitor) Flagged() map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.flagged))
	for id, t := range m.flagged {
		out[id] = t
	}
	return out
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	oldest, err := m.outbox.OldestPending(ctx)
	if err != nil {
		m.log.Error("staleness check failed", "err", err)
		return
	}

	now := time.Now().UTC()
	next := make(map[string]time.Time)
	for id, t := range oldest {
		if now.Sub(t) <= m.bound {
			continue
		}
		next[id] = t
		if _, already := m.currentlyFlagged(id); !already {
			m.log.Warn("sync stale",
				"target_id", id,
				"oldest_pending", t.Format(time.RFC3339),
				"age", now.Sub(t).String())
		}
	}

	m.mu.Lock()
	m.flagged = next
	m.mu.Unlock()
}

func (m *Monitor) currentlyFlagged(id string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.flagged[id]
	return t, ok
}
