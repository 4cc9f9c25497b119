package flowstone

import (
	"context"
	"errors"
	"sort"
)

// ErrCheckpointNotFound is returned by CheckpointStore.Load when no
// checkpoint with the given id exists.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// DefaultRetention is the number of checkpoints a store keeps per workflow
// id before pruning the oldest.
const DefaultRetention = 5

// CheckpointStore is the durable repository of run snapshots. All operations
// on a single store instance are mutually exclusive (single writer), so
// concurrent suspensions of different workflow ids sharing one store never
// interleave partial writes.
type CheckpointStore interface {
	// Save persists the checkpoint and returns its id. Saving prunes the
	// workflow's oldest checkpoints beyond the retention limit, by
	// ascending (timestamp, iteration).
	Save(ctx context.Context, checkpoint *Checkpoint) (string, error)

	// Load returns the checkpoint with the given id, or
	// ErrCheckpointNotFound.
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// List returns all checkpoints for the workflow id, ordered by
	// ascending (timestamp, iteration).
	List(ctx context.Context, workflowID string) ([]*Checkpoint, error)

	// Delete removes the checkpoint with the given id, reporting whether
	// it existed.
	Delete(ctx context.Context, checkpointID string) (bool, error)

	// PurgeAll removes every checkpoint for the workflow id.
	PurgeAll(ctx context.Context, workflowID string) error
}

// sortCheckpoints orders checkpoints by ascending (timestamp, iteration),
// the order in which retention evicts.
func sortCheckpoints(checkpoints []*Checkpoint) {
	sort.SliceStable(checkpoints, func(i, j int) bool {
		if checkpoints[i].Timestamp.Equal(checkpoints[j].Timestamp) {
			return checkpoints[i].Iteration < checkpoints[j].Iteration
		}
		return checkpoints[i].Timestamp.Before(checkpoints[j].Timestamp)
	})
}
