package flowstone

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory CheckpointStore. Checkpoints do not survive
// process restart; intended for tests and runs that only need suspend/resume
// within one process.
type MemoryStore struct {
	mutex       sync.Mutex
	retention   int
	checkpoints map[string]*Checkpoint // checkpoint id -> checkpoint
	byWorkflow  map[string][]string    // workflow id -> checkpoint ids, save order
}

// NewMemoryStore creates an in-memory store with the given retention limit
// per workflow id. A retention of 0 means DefaultRetention.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention:   retention,
		checkpoints: map[string]*Checkpoint{},
		byWorkflow:  map[string][]string{},
	}
}

func (s *MemoryStore) Save(ctx context.Context, checkpoint *Checkpoint) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := checkpoint.Copy()
	if stored.CheckpointID == "" {
		stored.CheckpointID = newCheckpointID()
	}
	s.checkpoints[stored.CheckpointID] = stored
	s.byWorkflow[stored.WorkflowID] = append(s.byWorkflow[stored.WorkflowID], stored.CheckpointID)
	s.pruneLocked(stored.WorkflowID)
	return stored.CheckpointID, nil
}

func (s *MemoryStore) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	checkpoint, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return checkpoint.Copy(), nil
}

func (s *MemoryStore) List(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []*Checkpoint
	for _, id := range s.byWorkflow[workflowID] {
		if checkpoint, ok := s.checkpoints[id]; ok {
			out = append(out, checkpoint.Copy())
		}
	}
	sortCheckpoints(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	checkpoint, ok := s.checkpoints[checkpointID]
	if !ok {
		return false, nil
	}
	delete(s.checkpoints, checkpointID)
	s.removeFromWorkflowLocked(checkpoint.WorkflowID, checkpointID)
	return true, nil
}

func (s *MemoryStore) PurgeAll(ctx context.Context, workflowID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, id := range s.byWorkflow[workflowID] {
		delete(s.checkpoints, id)
	}
	delete(s.byWorkflow, workflowID)
	return nil
}

func (s *MemoryStore) pruneLocked(workflowID string) {
	ids := s.byWorkflow[workflowID]
	if len(ids) <= s.retention {
		return
	}
	checkpoints := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		checkpoints = append(checkpoints, s.checkpoints[id])
	}
	sortCheckpoints(checkpoints)
	for _, victim := range checkpoints[:len(checkpoints)-s.retention] {
		delete(s.checkpoints, victim.CheckpointID)
		s.removeFromWorkflowLocked(workflowID, victim.CheckpointID)
	}
}

func (s *MemoryStore) removeFromWorkflowLocked(workflowID, checkpointID string) {
	ids := s.byWorkflow[workflowID]
	for i, id := range ids {
		if id == checkpointID {
			s.byWorkflow[workflowID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}
