package flowstone

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

type emission struct {
	msg    Message
	target string // explicit target, empty for edge-based routing
}

// RunContext is the handle through which an executor interacts with the
// runner: emitting messages, yielding the terminal output, persisting opaque
// state and filing decision requests. A RunContext is created per invocation
// and used by a single goroutine; the runner applies the collected effects
// in deterministic order after the handler returns.
type RunContext struct {
	workflowID  string
	executorID  string
	iteration   int
	terminal    bool
	logger      *slog.Logger
	priorState  json.RawMessage
	decisionTTL time.Duration

	emitted   []emission
	output    json.RawMessage
	outputSet bool
	state     json.RawMessage
	stateSet  bool
	request   *PendingRequest
}

// WorkflowID returns the id of the run.
func (rc *RunContext) WorkflowID() string {
	return rc.workflowID
}

// ExecutorID returns the id of the executor being invoked.
func (rc *RunContext) ExecutorID() string {
	return rc.executorID
}

// Iteration returns the correlation iteration of the input message.
func (rc *RunContext) Iteration() int {
	return rc.iteration
}

// Logger returns a logger carrying the workflow and executor ids.
func (rc *RunContext) Logger() *slog.Logger {
	return rc.logger
}

// Send emits a message to be routed along the executor's outgoing edges.
func (rc *RunContext) Send(msg Message) {
	msg.Source = rc.executorID
	msg.Iteration = rc.iteration
	rc.emitted = append(rc.emitted, emission{msg: msg})
}

// SendTo emits a message to a specific downstream executor. The target must
// be reachable from this executor along a declared edge.
func (rc *RunContext) SendTo(target string, msg Message) {
	msg.Source = rc.executorID
	msg.Iteration = rc.iteration
	rc.emitted = append(rc.emitted, emission{msg: msg, target: target})
}

// YieldOutput declares the terminal output of the run. Only legal for
// terminal executors (no outgoing edges); the runner rejects it otherwise.
func (rc *RunContext) YieldOutput(v any) error {
	if !rc.terminal {
		return fmt.Errorf("executor %q is not terminal and may not yield output", rc.executorID)
	}
	if rc.outputSet {
		return fmt.Errorf("executor %q yielded output twice", rc.executorID)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	rc.output = data
	rc.outputSet = true
	return nil
}

// SetState persists opaque executor state into the next checkpoint.
func (rc *RunContext) SetState(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal executor state: %w", err)
	}
	rc.state = data
	rc.stateSet = true
	return nil
}

// State decodes the executor's persisted state into v. Returns false when no
// state has been persisted yet.
func (rc *RunContext) State(v any) (bool, error) {
	if len(rc.priorState) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(rc.priorState, v); err != nil {
		return false, fmt.Errorf("failed to decode executor state: %w", err)
	}
	return true, nil
}

// RequestDecision files a pending request for an external human decision and
// returns its request id. The runner suspends the run once no further ready
// work remains on independent branches. At most one request per invocation.
func (rc *RunContext) RequestDecision(payload any) (string, error) {
	if rc.request != nil {
		return "", fmt.Errorf("executor %q filed two decision requests in one invocation", rc.executorID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal decision request payload: %w", err)
	}
	now := time.Now().UTC()
	req := &PendingRequest{
		RequestID:        newRequestID(),
		SourceExecutorID: rc.executorID,
		Payload:          data,
		Iteration:        rc.iteration,
		CreatedAt:        now,
	}
	if rc.decisionTTL > 0 {
		req.ExpiresAt = now.Add(rc.decisionTTL)
	}
	rc.request = req
	return req.RequestID, nil
}
