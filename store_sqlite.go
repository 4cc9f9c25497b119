package flowstone

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	workflow_id   TEXT NOT NULL,
	iteration     INTEGER NOT NULL,
	saved_at      TEXT NOT NULL,
	data          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow
	ON checkpoints (workflow_id, saved_at, iteration);
`

// Fixed-width timestamp layout so TEXT comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite-backed CheckpointStore: a single-file database
// suitable for local durability with zero setup. Checkpoints survive process
// restart. WAL mode keeps reads concurrent with the single writer.
type SQLiteStore struct {
	mutex     sync.Mutex
	db        *sql.DB
	retention int
}

// NewSQLiteStore opens (creating if needed) a SQLite store at path. Use
// ":memory:" for an ephemeral database. A retention of 0 means
// DefaultRetention.
func NewSQLiteStore(path string, retention int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SQLiteStore{db: db, retention: retention}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, checkpoint *Checkpoint) (string, error) {
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
		INSERT OR REPLACE INTO checkpoints
			(checkpoint_id, workflow_id, iteration, saved_at, data)
		VALUES (?, ?, ?, ?, ?)`,
		stored.CheckpointID, stored.WorkflowID, stored.Iteration,
		stored.Timestamp.UTC().Format(sqliteTimeLayout), string(data))
	if err != nil {
		return "", fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	// Evict the oldest checkpoints beyond the retention limit
	_, err = tx.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE checkpoint_id IN (
			SELECT checkpoint_id FROM checkpoints
			WHERE workflow_id = ?
			ORDER BY saved_at DESC, iteration DESC
			LIMIT -1 OFFSET ?
		)`, stored.WorkflowID, s.retention)
	if err != nil {
		return "", fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return stored.CheckpointID, nil
}

func (s *SQLiteStore) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE checkpoint_id = ?`, checkpointID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return unmarshalCheckpoint(data)
}

func (s *SQLiteStore) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM checkpoints
		WHERE workflow_id = ?
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

func (s *SQLiteStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE checkpoint_id = ?`, checkpointID)
	if err != nil {
		return false, fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) PurgeAll(ctx context.Context, workflowID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("failed to purge checkpoints: %w", err)
	}
	return nil
}

func unmarshalCheckpoint(data string) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}
