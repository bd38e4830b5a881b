package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// EventSink delivers spooled events to the port server's audit log.
type EventSink interface {
	PushEvents(ctx context.Context, batch types.EventBatch) error
}

// Spool buffers access events locally and forwards them upstream in
// the background. Recording never blocks and never fails the access
// decision: when the buffer is full the oldest event is dropped and
// the spool marks itself unhealthy so operators can see that audit
// coverage degraded.
type Spool struct {
	checkpointID string
	sink         EventSink
	log          *slog.Logger
	interval     time.Duration
	capacity     int

	mu      sync.Mutex
	pending []types.AccessEvent

	degraded atomic.Bool
	done     chan struct{}
	cancel   context.CancelFunc
}

// SpoolConfig sizes the spool. Zero values get serviceable defaults.
type SpoolConfig struct {
	CheckpointID  string
	Sink          EventSink
	Logger        *slog.Logger
	FlushInterval time.Duration
	Capacity      int
}

func NewSpool(cfg SpoolConfig) *Spool {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Spool{
		checkpointID: cfg.CheckpointID,
		sink:         cfg.Sink,
		log:          cfg.Logger,
		interval:     cfg.FlushInterval,
		capacity:     cfg.Capacity,
		done:         make(chan struct{}),
	}
}

// Record buffers one event. Best-effort by contract: the decision that
// produced the event has already been honored.
func (s *Spool) Record(ev types.AccessEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= s.capacity {
		s.pending = s.pending[1:]
		if s.degraded.CompareAndSwap(false, true) {
			s.log.Error("audit spool full, dropping oldest events", "checkpoint_id", s.checkpointID)
		}
	}
	s.pending = append(s.pending, ev)
}

// Healthy reports whether the spool has lost events since start.
func (s *Spool) Healthy() bool { return !s.degraded.Load() }

// Start begins the background forwarding loop. No-op without a sink
// (a fully offline checkpoint keeps buffering up to capacity).
func (s *Spool) Start(ctx context.Context) {
	if s.sink == nil {
		close(s.done)
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop flushes once more and halts the loop. Safe to call when Start
// never ran, or ran without a sink.
func (s *Spool) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done

	flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.flush(flushCtx)
}

func (s *Spool) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

// flush sends everything pending; on failure events stay spooled for
// the next tick.
func (s *Spool) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := types.EventBatch{
		CheckpointID: s.checkpointID,
		Events:       append([]types.AccessEvent(nil), s.pending...),
	}
	s.mu.Unlock()

	if err := s.sink.PushEvents(ctx, batch); err != nil {
		s.log.Warn("audit forward failed, retaining events",
			"checkpoint_id", s.checkpointID, "events", len(batch.Events), "error", err)
		return
	}

	s.mu.Lock()
	s.pending = s.pending[len(batch.Events):]
	s.mu.Unlock()
}
