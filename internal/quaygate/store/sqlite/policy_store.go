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

type PolicyStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPolicyStore(db *sql.DB, writer *dbpkg.Worker) *PolicyStore {
	return &PolicyStore{db: db, writer: writer}
}

func (s *PolicyStore) Put(ctx context.Context, pol types.CheckpointPolicy) error {
	if pol.CheckpointID == "" {
		return fmt.Errorf("Put: checkpoint id is required")
	}

	roles, err := json.Marshal(cleanJSONList(pol.AllowedRoles))
	if err != nil {
		return fmt.Errorf("Put marshal allowed_roles: %w", err)
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO checkpoints(
  checkpoint_id, port_id, location, allowed_roles, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(checkpoint_id) DO UPDATE SET
  port_id       = excluded.port_id,
  location      = excluded.location,
  allowed_roles = excluded.allowed_roles,
  updated_at_ms = excluded.updated_at_ms;
`, pol.CheckpointID, pol.PortID, pol.Location, string(roles), nowMs, nowMs); err != nil {
			return fmt.Errorf("Put upsert checkpoint: %w", err)
		}
		return nil
	})
}

func (s *PolicyStore) Get(ctx context.Context, checkpointID string) (types.CheckpointPolicy, bool, error) {
	var (
		pol   types.CheckpointPolicy
		roles string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT checkpoint_id, port_id, location, allowed_roles
FROM checkpoints
WHERE checkpoint_id = ?;
`, checkpointID).Scan(&pol.CheckpointID, &pol.PortID, &pol.Location, &roles)
	if err == sql.ErrNoRows {
		return types.CheckpointPolicy{}, false, nil
	}
	if err != nil {
		return types.CheckpointPolicy{}, false, fmt.Errorf("Get checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &pol.AllowedRoles); err != nil {
		return types.CheckpointPolicy{}, false, fmt.Errorf("decode allowed_roles: %w", err)
	}
	return pol, true, nil
}

func (s *PolicyStore) List(ctx context.Context) ([]types.CheckpointPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT checkpoint_id, port_id, location, allowed_roles
FROM checkpoints
ORDER BY checkpoint_id;
`)
	if err != nil {
		return nil, fmt.Errorf("List checkpoints: %w", err)
	}
	defer rows.Close()

	var out []types.CheckpointPolicy
	for rows.Next() {
		var (
			pol   types.CheckpointPolicy
			roles string
		)
		if err := rows.Scan(&pol.CheckpointID, &pol.PortID, &pol.Location, &roles); err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		if err := json.Unmarshal([]byte(roles), &pol.AllowedRoles); err != nil {
			return nil, fmt.Errorf("decode allowed_roles: %w", err)
		}
		out = append(out, pol)
	}
	return out, rows.Err()
}

var _ store.PolicyStore = (*PolicyStore)(nil)
