package flowstone

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	workflow_id   TEXT NOT NULL,
	iteration     INTEGER NOT NULL,
	saved_at      TIMESTAMPTZ NOT NULL,
	data          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow
	ON checkpoints (workflow_id, saved_at, iteration);
`

// PostgresStore is a Postgres-backed CheckpointStore for deployments that
// already run a database. The store-level mutex serializes writers sharing
// one instance; cross-process callers must still honor the one-active-runner
// rule per workflow id.
type PostgresStore struct {
	mutex     sync.Mutex
	db        *sql.DB
	retention int
}

// NewPostgresStore connects with the given DSN and creates the schema if
// missing. A retention of 0 means DefaultRetention.
func NewPostgresStore(ctx context.Context, dsn string, retention int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PostgresStore{db: db, retention: retention}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Save(ctx context.Context, checkpoint *Checkpoint) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := checkpoint.Copy()
	if stored.CheckpointID == "" {
		stored.CheckpointID = newCheckpointID()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, workflow_id, iteration, saved_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (checkpoint_id) DO UPDATE
			SET iteration = EXCLUDED.iteration,
			    saved_at  = EXCLUDED.saved_at,
			    data      = EXCLUDED.data`,
		stored.CheckpointID, stored.WorkflowID, stored.Iteration,
		stored.Timestamp.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return "", fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE checkpoint_id IN (
			SELECT checkpoint_id FROM checkpoints
			WHERE workflow_id = $1
			ORDER BY saved_at DESC, iteration DESC
			OFFSET $2
		)`, stored.WorkflowID, s.retention)
	if err != nil {
		return "", fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return stored.CheckpointID, nil
}

func (s *PostgresStore) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE checkpoint_id = $1`, checkpointID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return unmarshalCheckpoint(data)
}

func (s *PostgresStore) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM checkpoints
		WHERE workflow_id = $1
		ORDER BY saved_at ASC, iteration ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoint, err := unmarshalCheckpoint(data)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	return checkpoints, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE checkpoint_id = $1`, checkpointID)
	if err != nil {
		return false, fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresStore) PurgeAll(ctx context.Context, workflowID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("failed to purge checkpoints: %w", err)
	}
	return nil
}
