package portserver

import (
	"context"
	"log/slog"

	"github.com/quaygate/quaygate/internal/quaygate/store"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

// AuditService owns the port's append-only access log. Checkpoints
// spool events locally and forward them in batches; duplicate event
// ids from a retransmitted batch land exactly once.
type AuditService struct {
	events store.AccessEventStore
	log    *slog.Logger
}

func NewAuditService(events store.AccessEventStore, log *slog.Logger) *AuditService {
	if log == nil {
		log = slog.Default()
	}
	return &AuditService{events: events, log: log}
}

// Ingest persists a forwarded batch. The first failed write aborts the
// batch with an error so the checkpoint retains and retries it whole;
// idempotent inserts make the overlap harmless.
func (s *AuditService) Ingest(ctx context.Context, batch types.EventBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	for _, ev := range batch.Events {
		if ev.CheckpointID == "" {
			ev.CheckpointID = batch.CheckpointID
		}
		if err := s.events.RecordEvent(ctx, ev); err != nil {
			s.log.Error("audit ingest failed",
				"checkpoint_id", batch.CheckpointID, "event_id", ev.EventID, "err", err)
			return err
		}
	}
	if len(batch.Events) > 0 {
		s.log.Info("audit batch ingested",
			"checkpoint_id", batch.CheckpointID, "events", len(batch.Events))
	}
	return nil
}
