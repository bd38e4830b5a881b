package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/quaygate/quaygate/internal/db"
	"github.com/quaygate/quaygate/internal/quaygate/store"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

// RecordEvent appends one decision to the audit log. Checkpoints
// retransmit whole batches after an outage, so a duplicate event_id is
// silently ignored rather than treated as an error.
func (s *AccessEventStore) RecordEvent(ctx context.Context, ev types.AccessEvent) error {
	if ev.EventID == "" {
		return fmt.Errorf("RecordEvent: event id is required")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	var abandoned int
	if ev.Abandoned {
		abandoned = 1
	}
	receivedMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO access_events(
  event_id, checkpoint_id, worker_id, role, outcome, reason, abandoned,
  occurred_at_ms, received_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			ev.EventID, ev.CheckpointID, ev.WorkerID, ev.Role,
			string(ev.Outcome), ev.Reason, abandoned,
			ev.OccurredAt.UTC().UnixMilli(), receivedMs,
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

var _ store.AccessEventStore = (*AccessEventStore)(nil)
