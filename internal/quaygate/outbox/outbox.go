// Package outbox drains per-target mutation queues with acknowledgment
// and redelivery. The directory uses it to reach its port servers and
// each port server uses it to reach its checkpoints; a mutation leaves
// a queue only when the receiver has confirmed it.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/store"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// Deliverer pushes one mutation to one target and returns the
// receiver's apply status. Any status acknowledges delivery; only a
// transport error leaves the mutation queued.
type Deliverer interface {
	Deliver(ctx context.Context, targetID string, m types.Mutation) (types.ApplyStatus, error)
}

// Dispatcher drains the outbox in the background. Each tick it walks
// the targets with pending mutations and delivers them in order,
// acknowledging each as the receiver confirms it. A target that fails
// mid-drain keeps the rest of its queue for the next tick; other
// targets are unaffected.
type Dispatcher struct {
	outbox    store.OutboxStore
	deliverer Deliverer
	interval  time.Duration
	batch     int
	log       *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

type DispatcherConfig struct {
	// Interval between drain passes. Defaults to 5 seconds.
	Interval time.Duration

	// Batch caps how many mutations are pulled per target per pass.
	// Defaults to 64.
	Batch int
}

func NewDispatcher(outbox store.OutboxStore, d Deliverer, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		outbox:    outbox,
		deliverer: d,
		interval:  cfg.Interval,
		batch:     cfg.Batch,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Start begins the background drain loop. It runs an immediate pass on
// startup, then repeats on the configured interval.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
	d.log.Info("outbox dispatcher started", "interval", d.interval.String(), "batch", d.batch)
}

// Stop signals the dispatcher to exit and waits for it to finish. Safe
// to call on a dispatcher that was never started.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	d.drain(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	oldest, err := d.outbox.OldestPending(ctx)
	if err != nil {
		d.log.Error("outbox drain: list targets", "err", err)
		return
	}
	for targetID := range oldest {
		if ctx.Err() != nil {
			return
		}
		d.drainTarget(ctx, targetID)
	}
}

func (d *Dispatcher) drainTarget(ctx context.Context, targetID string) {
	pending, err := d.outbox.Pending(ctx, targetID, d.batch)
	if err != nil {
		d.log.Error("outbox drain: pending", "target_id", targetID, "err", err)
		return
	}

	for _, pm := range pending {
		status, err := d.deliverer.Deliver(ctx, targetID, pm.Mutation)
		if err != nil {
			// Leave the queue intact. In-order delivery matters less
			// than not skipping: the receiver drops stale versions itself.
			d.log.Warn("outbox delivery failed",
				"target_id", targetID,
				"mutation_id", pm.Mutation.MutationID,
				"err", err)
			return
		}
		if err := d.outbox.Ack(ctx, targetID, pm.Mutation.MutationID); err != nil {
			d.log.Error("outbox ack failed",
				"target_id", targetID,
				"mutation_id", pm.Mutation.MutationID,
				"err", err)
			return
		}
		if status == types.ApplyStale {
			d.log.Debug("mutation acknowledged stale",
				"target_id", targetID, "mutation_id", pm.Mutation.MutationID)
		}
	}
}
