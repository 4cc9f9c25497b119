package flowstone

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore is a file-based CheckpointStore that persists each checkpoint as
// a JSON document under dataDir/<workflow_id>/<checkpoint_id>.json.
type FileStore struct {
	mutex     sync.Mutex
	dataDir   string
	retention int
}

// NewFileStore creates a file-based store rooted at dataDir. An empty
// dataDir defaults to ~/.flowstone/checkpoints. A retention of 0 means
// DefaultRetention.
func NewFileStore(dataDir string, retention int) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".flowstone", "checkpoints")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &FileStore{dataDir: dataDir, retention: retention}, nil
}

func (s *FileStore) Save(ctx context.Context, checkpoint *Checkpoint) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := checkpoint.Copy()
	if stored.CheckpointID == "" {
		stored.CheckpointID = newCheckpointID()
	}
	workflowDir := filepath.Join(s.dataDir, stored.WorkflowID)
	if err := os.MkdirAll(workflowDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workflow directory: %w", err)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path := filepath.Join(workflowDir, stored.CheckpointID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	if err := s.pruneLocked(stored.WorkflowID); err != nil {
		return "", err
	}
	return stored.CheckpointID, nil
}

func (s *FileStore) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path, err := s.findLocked(checkpointID)
	if err != nil {
		return nil, err
	}
	return readCheckpointFile(path)
}

func (s *FileStore) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.listLocked(workflowID)
}

func (s *FileStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path, err := s.findLocked(checkpointID)
	if err == ErrCheckpointNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return true, nil
}

func (s *FileStore) PurgeAll(ctx context.Context, workflowID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	workflowDir := filepath.Join(s.dataDir, workflowID)
	if err := os.RemoveAll(workflowDir); err != nil {
		return fmt.Errorf("failed to purge workflow directory: %w", err)
	}
	return nil
}

func (s *FileStore) listLocked(workflowID string) ([]*Checkpoint, error) {
	workflowDir := filepath.Join(s.dataDir, workflowID)
	entries, err := os.ReadDir(workflowDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}
	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		checkpoint, err := readCheckpointFile(filepath.Join(workflowDir, entry.Name()))
		if err != nil {
			// Skip files we can't read
			continue
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	sortCheckpoints(checkpoints)
	return checkpoints, nil
}

// findLocked locates a checkpoint file by id across all workflow
// directories.
func (s *FileStore) findLocked(checkpointID string) (string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return "", fmt.Errorf("failed to read data directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dataDir, entry.Name(), checkpointID+".json")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrCheckpointNotFound
}

func (s *FileStore) pruneLocked(workflowID string) error {
	checkpoints, err := s.listLocked(workflowID)
	if err != nil {
		return err
	}
	if len(checkpoints) <= s.retention {
		return nil
	}
	for _, victim := range checkpoints[:len(checkpoints)-s.retention] {
		path := filepath.Join(s.dataDir, workflowID, victim.CheckpointID+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune checkpoint file: %w", err)
		}
	}
	return nil
}

func readCheckpointFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}
