package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/quaygate/quaygate/internal/db"
	"github.com/quaygate/quaygate/internal/quaygate/store"
)

type HeartbeatStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewHeartbeatStore(db *sql.DB, writer *dbpkg.Worker) *HeartbeatStore {
	return &HeartbeatStore{db: db, writer: writer}
}

func (s *HeartbeatStore) Upsert(ctx context.Context, checkpointID string, rec store.HeartbeatRecord) error {
	checkpointID = strings.TrimSpace(checkpointID)
	if checkpointID == "" {
		return nil
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	var healthy int
	if rec.Request.AuditHealthy {
		healthy = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO heartbeats(
  checkpoint_id, received_at_ms, firmware_version, uptime_seconds, cache_entries, audit_healthy
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(checkpoint_id) DO UPDATE SET
  received_at_ms   = excluded.received_at_ms,
  firmware_version = excluded.firmware_version,
  uptime_seconds   = excluded.uptime_seconds,
  cache_entries    = excluded.cache_entries,
  audit_healthy    = excluded.audit_healthy;
`,
			checkpointID, rec.ReceivedAt.UTC().UnixMilli(),
			strings.TrimSpace(rec.Request.FirmwareVersion),
			rec.Request.UptimeSeconds, rec.Request.CacheEntries, healthy,
		); err != nil {
			return fmt.Errorf("Upsert heartbeat: %w", err)
		}
		return nil
	})
}

func (s *HeartbeatStore) LastSeen(ctx context.Context, checkpointID string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `
SELECT received_at_ms FROM heartbeats WHERE checkpoint_id = ?;
`, checkpointID).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("LastSeen query: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

var _ store.HeartbeatStore = (*HeartbeatStore)(nil)
