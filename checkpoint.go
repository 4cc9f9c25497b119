package flowstone

import (
	"encoding/json"
	"time"

	"go.jetify.com/typeid"
)

// Status represents the lifecycle status of a run.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingDecision Status = "awaiting_decision"
	StatusResuming         Status = "resuming"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"

	// StatusIdle means the run stopped with no ready work, no pending
	// decision and no output, e.g. a fan-in starved by a failed branch. The
	// final checkpoint preserves the partial fan-in state for inspection via
	// Load and List, but an idle run cannot be resumed (a failed branch's
	// input is already consumed): recovery means starting a new run.
	StatusIdle Status = "idle"
)

// NewWorkflowID returns a new unique workflow id.
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

func newCheckpointID() string {
	id, err := typeid.WithPrefix("chk")
	if err != nil {
		panic(err)
	}
	return id.String()
}

func newRequestID() string {
	id, err := typeid.WithPrefix("req")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// PendingRequest is the durable record of a suspended decision point. It is
// created when a human review executor requests a decision and consumed
// exactly once when a matching response is supplied to Resume.
type PendingRequest struct {
	RequestID        string          `json:"request_id"`
	SourceExecutorID string          `json:"source_executor_id"`
	Payload          json.RawMessage `json:"payload"`
	Iteration        int             `json:"iteration"`
	CreatedAt        time.Time       `json:"created_at"`

	// ExpiresAt, when non-zero, is the deadline after which a decision for
	// this request is rejected. The zero value means no expiry.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the request's TTL has elapsed.
func (r *PendingRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Copy returns a copy of the pending request.
func (r *PendingRequest) Copy() *PendingRequest {
	dup := *r
	dup.Payload = append(json.RawMessage(nil), r.Payload...)
	return &dup
}

// Checkpoint is a complete, serializable snapshot of a run: enough to resume
// with no message loss and no duplicate delivery to an executor that already
// consumed its input. Pending messages are keyed by edge ("from->to");
// messages buffered at a fan-in barrier are stored the same way and return
// to the barrier on restore.
type Checkpoint struct {
	CheckpointID     string                     `json:"checkpoint_id"`
	WorkflowID       string                     `json:"workflow_id"`
	GraphName        string                     `json:"graph_name"`
	Status           Status                     `json:"status"`
	Iteration        int                        `json:"iteration"`
	ExecutorStates   map[string]json.RawMessage `json:"executor_states,omitempty"`
	PendingMessages  map[string][]Message       `json:"pending_messages,omitempty"`
	PendingRequests  map[string]*PendingRequest `json:"pending_requests,omitempty"`
	ConsumedRequests []string                   `json:"consumed_requests,omitempty"`
	FinalOutput      json.RawMessage            `json:"final_output,omitempty"`
	Timestamp        time.Time                  `json:"timestamp"`
}

// Copy returns a deep copy of the checkpoint. Stores hand out copies so a
// caller cannot mutate stored snapshots.
func (c *Checkpoint) Copy() *Checkpoint {
	dup := &Checkpoint{
		CheckpointID: c.CheckpointID,
		WorkflowID:   c.WorkflowID,
		GraphName:    c.GraphName,
		Status:       c.Status,
		Iteration:    c.Iteration,
		FinalOutput:  append(json.RawMessage(nil), c.FinalOutput...),
		Timestamp:    c.Timestamp,
	}
	if c.ExecutorStates != nil {
		dup.ExecutorStates = make(map[string]json.RawMessage, len(c.ExecutorStates))
		for k, v := range c.ExecutorStates {
			dup.ExecutorStates[k] = append(json.RawMessage(nil), v...)
		}
	}
	if c.PendingMessages != nil {
		dup.PendingMessages = make(map[string][]Message, len(c.PendingMessages))
		for k, v := range c.PendingMessages {
			dup.PendingMessages[k] = append([]Message(nil), v...)
		}
	}
	if c.PendingRequests != nil {
		dup.PendingRequests = make(map[string]*PendingRequest, len(c.PendingRequests))
		for k, v := range c.PendingRequests {
			dup.PendingRequests[k] = v.Copy()
		}
	}
	if c.ConsumedRequests != nil {
		dup.ConsumedRequests = append([]string(nil), c.ConsumedRequests...)
	}
	return dup
}
