package flowstone

import (
	"context"
)

// Executor represents a single named processing step in a workflow graph.
// An executor consumes one message per invocation and emits zero or more
// messages through the RunContext. Executors hold no cross-run mutable
// state other than what they explicitly persist via RunContext.SetState.
type Executor interface {

	// ID returns the unique identifier of the Executor within a graph.
	ID() string

	// Handle processes one input message. Emitting output is done through
	// the RunContext; a returned error terminates the branch containing
	// this executor and is reported as an executor_failed event.
	Handle(ctx context.Context, msg Message, rc *RunContext) error
}

// HandlerFunc is the signature of a function executor.
type HandlerFunc func(ctx context.Context, msg Message, rc *RunContext) error

// ExecutorFunc is a function that can be used as an executor.
type ExecutorFunc struct {
	id string
	fn HandlerFunc
}

// NewExecutorFunc creates a new ExecutorFunc with the given id.
func NewExecutorFunc(id string, fn HandlerFunc) *ExecutorFunc {
	return &ExecutorFunc{id: id, fn: fn}
}

func (e *ExecutorFunc) ID() string {
	return e.id
}

func (e *ExecutorFunc) Handle(ctx context.Context, msg Message, rc *RunContext) error {
	return e.fn(ctx, msg, rc)
}
