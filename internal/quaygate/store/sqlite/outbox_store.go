package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	dbpkg "github.com/quaygate/quaygate/internal/db"
	"github.com/quaygate/quaygate/internal/quaygate/store"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

type OutboxStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewOutboxStore(db *sql.DB, writer *dbpkg.Worker) *OutboxStore {
	return &OutboxStore{db: db, writer: writer}
}

func (s *OutboxStore) Enqueue(ctx context.Context, targetID string, m types.Mutation) error {
	if targetID == "" || m.MutationID == "" {
		return fmt.Errorf("Enqueue: target id and mutation id are required")
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("Enqueue marshal mutation: %w", err)
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// A redelivered enqueue of the same mutation keeps its original
		// queue position.
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO outbox(target_id, mutation_id, mutation, enqueued_at_ms)
VALUES (?, ?, ?, ?);
`, targetID, m.MutationID, string(payload), nowMs); err != nil {
			return fmt.Errorf("Enqueue insert: %w", err)
		}
		return nil
	})
}

func (s *OutboxStore) Pending(ctx context.Context, targetID string, limit int) ([]store.PendingMutation, error) {
	query := `
SELECT mutation, enqueued_at_ms
FROM outbox
WHERE target_id = ?
ORDER BY enqueued_at_ms, rowid`
	args := []any{targetID}
	if limit > 0 {
		query += `
LIMIT ?`
		args = append(args, limit)
	}
	query += ";"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Pending query: %w", err)
	}
	defer rows.Close()

	var out []store.PendingMutation
	for rows.Next() {
		var (
			payload    string
			enqueuedMs int64
		)
		if err := rows.Scan(&payload, &enqueuedMs); err != nil {
			return nil, fmt.Errorf("Pending scan: %w", err)
		}
		var m types.Mutation
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("Pending decode mutation: %w", err)
		}
		out = append(out, store.PendingMutation{
			Mutation:   m,
			EnqueuedAt: time.UnixMilli(enqueuedMs).UTC(),
		})
	}
	return out, rows.Err()
}

func (s *OutboxStore) Ack(ctx context.Context, targetID, mutationID string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Acking a mutation that is already gone is a no-op.
		if _, err := tx.ExecContext(ctx, `
DELETE FROM outbox WHERE target_id = ? AND mutation_id = ?;
`, targetID, mutationID); err != nil {
			return fmt.Errorf("Ack delete: %w", err)
		}
		return nil
	})
}

func (s *OutboxStore) OldestPending(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT target_id, MIN(enqueued_at_ms)
FROM outbox
GROUP BY target_id;
`)
	if err != nil {
		return nil, fmt.Errorf("OldestPending query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			ms int64
		)
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, fmt.Errorf("OldestPending scan: %w", err)
		}
		out[id] = time.UnixMilli(ms).UTC()
	}
	return out, rows.Err()
}

var _ store.OutboxStore = (*OutboxStore)(nil)
