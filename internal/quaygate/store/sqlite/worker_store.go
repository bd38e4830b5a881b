package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	dbpkg "github.com/quaygate/quaygate/internal/db"
	"github.com/quaygate/quaygate/internal/quaygate/biometric"
	"github.com/quaygate/quaygate/internal/quaygate/store"
)

type WorkerStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewWorkerStore(db *sql.DB, writer *dbpkg.Worker) *WorkerStore {
	return &WorkerStore{db: db, writer: writer}
}

func (s *WorkerStore) Get(ctx context.Context, workerID string) (store.WorkerRow, bool, error) {
	return s.scanOne(ctx, `
SELECT worker_id, name, roles, home_ports, credential_id, template, version, deleted, updated_at_ms
FROM workers
WHERE worker_id = ?;
`, workerID)
}

// FindByCredential resolves a live worker by card id. Deleted rows are
// excluded: a revoked worker's credential must not resolve even though
// the row is retained for version ordering.
func (s *WorkerStore) FindByCredential(ctx context.Context, credentialID string) (store.WorkerRow, bool, error) {
	return s.scanOne(ctx, `
SELECT worker_id, name, roles, home_ports, credential_id, template, version, deleted, updated_at_ms
FROM workers
WHERE credential_id = ? AND deleted = 0;
`, credentialID)
}

func (s *WorkerStore) Put(ctx context.Context, row store.WorkerRow) error {
	if row.Record.WorkerID == "" {
		return fmt.Errorf("Put: worker id is required")
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}

	roles, err := json.Marshal(cleanJSONList(row.Record.Roles))
	if err != nil {
		return fmt.Errorf("Put marshal roles: %w", err)
	}
	ports, err := json.Marshal(cleanJSONList(row.Record.HomePorts))
	if err != nil {
		return fmt.Errorf("Put marshal home_ports: %w", err)
	}
	tpl, err := json.Marshal(row.Record.Template)
	if err != nil {
		return fmt.Errorf("Put marshal template: %w", err)
	}

	var deleted int
	if row.Deleted {
		deleted = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO workers(
  worker_id, name, roles, home_ports, credential_id, template, version, deleted, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(worker_id) DO UPDATE SET
  name          = excluded.name,
  roles         = excluded.roles,
  home_ports    = excluded.home_ports,
  credential_id = excluded.credential_id,
  template      = excluded.template,
  version       = excluded.version,
  deleted       = excluded.deleted,
  updated_at_ms = excluded.updated_at_ms;
`,
			row.Record.WorkerID, row.Record.Name, string(roles), string(ports),
			row.Record.CredentialID, string(tpl), int64(row.Record.Version),
			deleted, row.UpdatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Put upsert worker: %w", err)
		}
		return nil
	})
}

func (s *WorkerStore) scanOne(ctx context.Context, query string, arg any) (store.WorkerRow, bool, error) {
	var (
		row      store.WorkerRow
		roles    string
		ports    string
		tpl      string
		version  int64
		deleted  int
		updMilli int64
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&row.Record.WorkerID, &row.Record.Name, &roles, &ports,
		&row.Record.CredentialID, &tpl, &version, &deleted, &updMilli,
	)
	if err == sql.ErrNoRows {
		return store.WorkerRow{}, false, nil
	}
	if err != nil {
		return store.WorkerRow{}, false, fmt.Errorf("query worker: %w", err)
	}

	if err := json.Unmarshal([]byte(roles), &row.Record.Roles); err != nil {
		return store.WorkerRow{}, false, fmt.Errorf("decode roles: %w", err)
	}
	if err := json.Unmarshal([]byte(ports), &row.Record.HomePorts); err != nil {
		return store.WorkerRow{}, false, fmt.Errorf("decode home_ports: %w", err)
	}
	var template biometric.Template
	if err := json.Unmarshal([]byte(tpl), &template); err != nil {
		return store.WorkerRow{}, false, fmt.Errorf("decode template: %w", err)
	}
	row.Record.Template = template
	row.Record.Version = uint64(version)
	row.Deleted = deleted != 0
	row.UpdatedAt = time.UnixMilli(updMilli).UTC()

	return row, true, nil
}

// cleanJSONList keeps stored lists as [] rather than null.
func cleanJSONList(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

var _ store.WorkerStore = (*WorkerStore)(nil)
