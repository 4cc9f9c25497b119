package flowstone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Store persists checkpoints. Without a store, runs still execute but
	// cannot be resumed after the process exits.
	Store CheckpointStore

	// Sink receives lifecycle events. Defaults to a NullSink.
	Sink EventSink

	// Logger defaults to a discard logger.
	Logger *slog.Logger

	// Metrics is optional; nil disables collection.
	Metrics *Metrics

	// CheckpointEachStep persists a checkpoint after every super-step, not
	// only at suspension points.
	CheckpointEachStep bool

	// DecisionTTL, when positive, sets an expiry on every pending request.
	// The default (zero) means requests never expire.
	DecisionTTL time.Duration
}

// Runner drives execution of a Graph: it dispatches ready messages to
// executors, applies fan-out/fan-in semantics, persists checkpoints, and
// emits lifecycle events. A Runner is safe for concurrent use across
// different workflow ids; it rejects a second concurrent drive of the same
// workflow id.
type Runner struct {
	graph              *Graph
	store              CheckpointStore
	sink               EventSink
	logger             *slog.Logger
	metrics            *Metrics
	checkpointEachStep bool
	decisionTTL        time.Duration

	mutex  sync.Mutex
	active map[string]bool
}

// NewRunner creates a runner for the given graph.
func NewRunner(graph *Graph, opts RunnerOptions) (*Runner, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if opts.Sink == nil {
		opts.Sink = NewNullSink()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		graph:              graph,
		store:              opts.Store,
		sink:               opts.Sink,
		logger:             opts.Logger,
		metrics:            opts.Metrics,
		checkpointEachStep: opts.CheckpointEachStep,
		decisionTTL:        opts.DecisionTTL,
	}, nil
}

// RunResult describes where a drive of the runner stopped.
type RunResult struct {
	WorkflowID string
	Status     Status

	// Output is set when the run completed.
	Output json.RawMessage

	// CheckpointID is the checkpoint persisted at suspension, when a store
	// is configured.
	CheckpointID string

	// PendingRequests are the decision requests outstanding when the run
	// suspended.
	PendingRequests []*PendingRequest
}

// DecodeOutput unmarshals the terminal output into v.
func (r *RunResult) DecodeOutput(v any) error {
	if len(r.Output) == 0 {
		return fmt.Errorf("run %s produced no output", r.WorkflowID)
	}
	if err := json.Unmarshal(r.Output, v); err != nil {
		return fmt.Errorf("failed to decode run output: %w", err)
	}
	return nil
}

type readyItem struct {
	target string
	msg    Message
}

// runState is the in-memory state of one drive. It is touched only by the
// runner goroutine; executor goroutines hand their effects back through
// their RunContext.
type runState struct {
	workflowID       string
	status           Status
	iteration        int
	queue            []readyItem
	buffers          map[string]map[int]map[string]Message
	executorStates   map[string]json.RawMessage
	pendingRequests  map[string]*PendingRequest
	consumedRequests []string
	finalOutput      json.RawMessage
	newRequests      []*PendingRequest
}

func newRunState(workflowID string) *runState {
	return &runState{
		workflowID:      workflowID,
		status:          StatusPending,
		buffers:         map[string]map[int]map[string]Message{},
		executorStates:  map[string]json.RawMessage{},
		pendingRequests: map[string]*PendingRequest{},
	}
}

// Run executes the graph from its start executor with the given initiating
// message. It returns when a terminal executor yields an output, when the
// run suspends awaiting a decision, or when no ready work remains.
func (r *Runner) Run(ctx context.Context, start Message) (*RunResult, error) {
	if start.Type == "" {
		return nil, fmt.Errorf("start message type required")
	}
	workflowID := NewWorkflowID()
	if err := r.acquire(workflowID); err != nil {
		return nil, err
	}
	defer r.release(workflowID)

	st := newRunState(workflowID)
	start.Iteration = 0
	st.queue = append(st.queue, readyItem{target: r.graph.Start(), msg: start})

	r.logger.Info("workflow started",
		"workflow_id", workflowID, "graph", r.graph.Name())
	r.setStatus(st, StatusRunning)
	return r.drive(ctx, st)
}

// Resume reconstructs a run from a checkpoint, applies the supplied decision
// responses and continues execution. Every response is validated before any
// state is mutated; a rejected resume leaves the prior checkpoint untouched.
// Only a run suspended awaiting a decision can be resumed; idle and mid-run
// checkpoints carry no pending requests and are rejected.
func (r *Runner) Resume(ctx context.Context, checkpointID string, responses map[string]DecisionResponse) (*RunResult, error) {
	if r.store == nil {
		return nil, fmt.Errorf("resume requires a checkpoint store")
	}
	if len(responses) == 0 {
		return nil, NewOrchestrationError(ErrCodeMalformedResponse, "no decision responses supplied")
	}
	for requestID := range responses {
		if requestID == "" {
			return nil, NewOrchestrationError(ErrCodeMalformedResponse, "empty request id in responses")
		}
	}

	checkpoint, err := r.store.Load(ctx, checkpointID)
	if err != nil {
		if err == ErrCheckpointNotFound {
			return nil, NewOrchestrationError(ErrCodeCheckpointNotFound, "checkpoint %q not found", checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if len(checkpoint.PendingRequests) == 0 {
		return nil, NewOrchestrationError(ErrCodeUnknownRequest,
			"checkpoint %q has no pending decisions (status %s)", checkpointID, checkpoint.Status)
	}

	if err := r.acquire(checkpoint.WorkflowID); err != nil {
		return nil, err
	}
	defer r.release(checkpoint.WorkflowID)

	// Validate against the latest checkpoint: a request consumed by a prior
	// resume must not be applied again even when the caller replays an
	// older checkpoint id.
	history, err := r.store.List(ctx, checkpoint.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	consumed := checkpoint.ConsumedRequests
	if len(history) > 0 {
		latest := history[len(history)-1]
		if latest.Status == StatusCancelled {
			return nil, NewOrchestrationError(ErrCodeRunCancelled, "run %s was cancelled", checkpoint.WorkflowID)
		}
		consumed = latest.ConsumedRequests
	}

	now := time.Now().UTC()
	for requestID := range responses {
		for _, resolved := range consumed {
			if resolved == requestID {
				return nil, NewOrchestrationError(ErrCodeRequestAlreadyResolved,
					"request %q was already resolved", requestID)
			}
		}
		request, ok := checkpoint.PendingRequests[requestID]
		if !ok {
			return nil, NewOrchestrationError(ErrCodeUnknownRequest,
				"request %q is not pending in checkpoint %q", requestID, checkpointID)
		}
		if request.Expired(now) {
			return nil, NewOrchestrationError(ErrCodeRequestExpired,
				"request %q expired at %s", requestID, request.ExpiresAt.Format(time.RFC3339))
		}
	}

	st := newRunState(checkpoint.WorkflowID)
	if err := r.restore(st, checkpoint); err != nil {
		return nil, fmt.Errorf("failed to restore checkpoint %q: %w", checkpointID, err)
	}

	r.logger.Info("workflow resuming",
		"workflow_id", st.workflowID, "checkpoint_id", checkpointID,
		"responses", len(responses))

	// An abort decision cancels the run explicitly; there is no implicit
	// timeout-based cancellation across the suspend/resume boundary.
	for requestID, response := range responses {
		if response.Abort {
			return r.cancel(ctx, st, requestID)
		}
	}

	r.setStatus(st, StatusResuming)

	requestIDs := make([]string, 0, len(responses))
	for requestID := range responses {
		requestIDs = append(requestIDs, requestID)
	}
	sort.Strings(requestIDs)

	for _, requestID := range requestIDs {
		request := st.pendingRequests[requestID]
		envelope := DecisionEnvelope{
			RequestID: requestID,
			Request:   request.Payload,
			Decision:  responses[requestID],
		}
		msg, err := NewMessage(MessageTypeDecision, envelope)
		if err != nil {
			return nil, err
		}
		msg.Source = request.SourceExecutorID
		// Correlate the decision with the round that produced the request, so
		// sibling-branch messages buffered at a fan-in before suspension
		// still join it. Firing clears a barrier's buffer for the round, so a
		// loop back through an already-fired barrier starts accumulating a
		// fresh set.
		msg.Iteration = request.Iteration
		if err := r.route(ctx, st, request.SourceExecutorID, msg, ""); err != nil {
			return nil, err
		}
		delete(st.pendingRequests, requestID)
		st.consumedRequests = append(st.consumedRequests, requestID)
	}

	r.setStatus(st, StatusRunning)
	return r.drive(ctx, st)
}

func (r *Runner) cancel(ctx context.Context, st *runState, requestID string) (*RunResult, error) {
	delete(st.pendingRequests, requestID)
	st.consumedRequests = append(st.consumedRequests, requestID)
	r.setStatus(st, StatusCancelled)
	checkpointID, err := r.saveCheckpoint(ctx, st)
	if err != nil {
		return nil, err
	}
	r.logger.Info("workflow cancelled", "workflow_id", st.workflowID)
	r.metrics.runFinished(r.graph.Name(), StatusCancelled)
	return &RunResult{
		WorkflowID:   st.workflowID,
		Status:       StatusCancelled,
		CheckpointID: checkpointID,
	}, nil
}

type stepResult struct {
	rc       *RunContext
	err      error
	duration time.Duration
}

// drive runs super-steps until no ready work remains or a terminal executor
// yields the output. Each super-step drains the current queue depth; items
// run concurrently and their effects are applied in enqueue order.
func (r *Runner) drive(ctx context.Context, st *runState) (*RunResult, error) {
	r.metrics.runStarted(r.graph.Name())

	for len(st.queue) > 0 && st.finalOutput == nil {
		if err := ctx.Err(); err != nil {
			r.setStatus(st, StatusFailed)
			return nil, fmt.Errorf("workflow %s interrupted: %w", st.workflowID, err)
		}

		depth := len(st.queue)
		items := st.queue[:depth:depth]
		st.queue = st.queue[depth:]
		r.metrics.observeQueueDepth(depth)

		results := make([]*stepResult, depth)
		var wg sync.WaitGroup
		for i, item := range items {
			executor, ok := r.graph.Executor(item.target)
			if !ok {
				// Build validation makes this unreachable
				results[i] = &stepResult{err: fmt.Errorf("unknown executor %q", item.target)}
				continue
			}
			r.sink.Emit(r.executorEvent(EventExecutorInvoked, item.target, nil))

			rc := &RunContext{
				workflowID: st.workflowID,
				executorID: item.target,
				iteration:  item.msg.Iteration,
				terminal:   r.graph.isTerminal(item.target),
				logger: r.logger.With(
					"workflow_id", st.workflowID, "executor_id", item.target),
				priorState:  st.executorStates[item.target],
				decisionTTL: r.decisionTTL,
			}
			wg.Add(1)
			go func(i int, msg Message) {
				defer wg.Done()
				started := time.Now()
				err := executor.Handle(ctx, msg, rc)
				results[i] = &stepResult{rc: rc, err: err, duration: time.Since(started)}
			}(i, item.msg)
		}
		wg.Wait()
		st.iteration++

		for i, item := range items {
			res := results[i]
			r.metrics.executorInvocation(r.graph.Name(), item.target, res.duration, res.err != nil)
			if res.err != nil {
				r.reportExecutorFailure(st, item.target, res.err)
				continue
			}
			r.sink.Emit(r.executorEvent(EventExecutorCompleted, item.target, nil))

			if res.rc.stateSet {
				st.executorStates[item.target] = res.rc.state
			}
			if res.rc.outputSet {
				st.finalOutput = res.rc.output
			}
			if res.rc.request != nil {
				st.pendingRequests[res.rc.request.RequestID] = res.rc.request
				st.newRequests = append(st.newRequests, res.rc.request)
			}
			for _, em := range res.rc.emitted {
				if err := r.route(ctx, st, item.target, em.msg, em.target); err != nil {
					r.reportExecutorFailure(st, item.target, err)
					break
				}
			}
		}

		if r.checkpointEachStep && st.finalOutput == nil && len(st.queue) > 0 {
			if _, err := r.saveCheckpoint(ctx, st); err != nil {
				return nil, err
			}
		}
	}

	return r.finish(ctx, st)
}

// finish classifies the stopped run: completed with output, suspended
// awaiting decisions, or idle with nothing left to do.
func (r *Runner) finish(ctx context.Context, st *runState) (*RunResult, error) {
	r.metrics.observePendingDecisions(len(st.pendingRequests))

	if st.finalOutput != nil {
		r.setStatus(st, StatusCompleted)
		event := newEvent(EventWorkflowOutput)
		event.Output = st.finalOutput
		r.sink.Emit(event)
		if r.store != nil {
			if err := r.store.PurgeAll(ctx, st.workflowID); err != nil {
				return nil, fmt.Errorf("failed to purge checkpoints: %w", err)
			}
		}
		r.logger.Info("workflow completed", "workflow_id", st.workflowID)
		r.metrics.runFinished(r.graph.Name(), StatusCompleted)
		return &RunResult{
			WorkflowID: st.workflowID,
			Status:     StatusCompleted,
			Output:     st.finalOutput,
		}, nil
	}

	if len(st.pendingRequests) > 0 {
		r.setStatus(st, StatusAwaitingDecision)
		checkpointID, err := r.saveCheckpoint(ctx, st)
		if err != nil {
			return nil, err
		}
		var checkpointRef *string
		if checkpointID != "" {
			checkpointRef = &checkpointID
		}
		for _, request := range st.newRequests {
			event := newEvent(EventDecisionRequired)
			event.RequestID = request.RequestID
			event.Data = request.Payload
			event.CheckpointID = checkpointRef
			r.sink.Emit(event)
		}
		st.newRequests = nil
		r.logger.Info("workflow awaiting decision",
			"workflow_id", st.workflowID, "checkpoint_id", checkpointID,
			"pending", len(st.pendingRequests))
		r.metrics.runFinished(r.graph.Name(), StatusAwaitingDecision)
		return &RunResult{
			WorkflowID:      st.workflowID,
			Status:          StatusAwaitingDecision,
			CheckpointID:    checkpointID,
			PendingRequests: sortedRequests(st.pendingRequests),
		}, nil
	}

	// No output, no pending decision: a starved fan-in or dead branches.
	// The run stays suspended on disk for the caller to inspect.
	r.setStatus(st, StatusIdle)
	checkpointID, err := r.saveCheckpoint(ctx, st)
	if err != nil {
		return nil, err
	}
	r.logger.Warn("workflow idle with no ready work",
		"workflow_id", st.workflowID, "checkpoint_id", checkpointID)
	r.metrics.runFinished(r.graph.Name(), StatusIdle)
	return &RunResult{
		WorkflowID:   st.workflowID,
		Status:       StatusIdle,
		CheckpointID: checkpointID,
	}, nil
}

// route delivers a message emitted by an executor. Precedence: an explicit
// target wins, then a switch edge (exactly one downstream target), then
// every direct, fan-out and fan-in edge.
func (r *Runner) route(ctx context.Context, st *runState, from string, msg Message, explicitTarget string) error {
	if explicitTarget != "" {
		if !r.graph.hasTarget(from, explicitTarget) {
			return fmt.Errorf("no edge from %q to %q", from, explicitTarget)
		}
		r.deliver(st, from, explicitTarget, msg)
		return nil
	}
	if spec, ok := r.graph.switches[from]; ok {
		target, err := spec.evaluate(ctx, msg)
		if err != nil {
			return err
		}
		r.deliver(st, from, target, msg)
		return nil
	}
	delivered := 0
	for _, target := range r.graph.direct[from] {
		r.deliver(st, from, target, msg)
		delivered++
	}
	for _, target := range r.graph.fanOut[from] {
		r.deliver(st, from, target, msg)
		delivered++
	}
	for _, target := range r.graph.fanInSource[from] {
		r.deliver(st, from, target, msg)
		delivered++
	}
	if delivered == 0 {
		r.logger.Debug("message from terminal executor dropped",
			"workflow_id", st.workflowID, "executor_id", from, "msg_type", msg.Type)
	}
	return nil
}

// deliver enqueues a message for the target, or buffers it when the target
// is a fan-in barrier fed by the sender. A barrier fires once all declared
// sources have delivered for the message's iteration, with the batch in
// source-declaration order.
func (r *Runner) deliver(st *runState, from, target string, msg Message) {
	spec, ok := r.graph.fanIn[target]
	if !ok {
		st.queue = append(st.queue, readyItem{target: target, msg: msg})
		return
	}
	if _, isSource := spec.index[from]; !isSource {
		st.queue = append(st.queue, readyItem{target: target, msg: msg})
		return
	}

	iterations, ok := st.buffers[target]
	if !ok {
		iterations = map[int]map[string]Message{}
		st.buffers[target] = iterations
	}
	arrived, ok := iterations[msg.Iteration]
	if !ok {
		arrived = map[string]Message{}
		iterations[msg.Iteration] = arrived
	}
	arrived[from] = msg

	if len(arrived) < len(spec.sources) {
		return
	}
	inputs := make([]Message, len(spec.sources))
	for source, buffered := range arrived {
		inputs[spec.index[source]] = buffered
	}
	delete(iterations, msg.Iteration)

	batch, err := newBatchMessage(msg.Iteration, inputs)
	if err != nil {
		// Inputs are already-valid JSON; re-marshaling cannot fail
		r.logger.Error("failed to build fan-in batch", "error", err)
		return
	}
	st.queue = append(st.queue, readyItem{target: target, msg: batch})
}

func (r *Runner) reportExecutorFailure(st *runState, executorID string, err error) {
	wrapped := &ExecutorError{ExecutorID: executorID, Err: err}
	r.logger.Warn("executor failed",
		"workflow_id", st.workflowID, "executor_id", executorID, "error", err)
	r.sink.Emit(r.executorEvent(EventExecutorFailed, executorID, wrapped))
}

func (r *Runner) executorEvent(eventType, executorID string, err error) Event {
	event := newEvent(eventType)
	event.ExecutorID = executorID
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

func (r *Runner) setStatus(st *runState, status Status) {
	st.status = status
	event := newEvent(EventWorkflowStatusChanged)
	event.Status = status
	r.sink.Emit(event)
}

// saveCheckpoint persists a snapshot of the run. Returns an empty id when no
// store is configured.
func (r *Runner) saveCheckpoint(ctx context.Context, st *runState) (string, error) {
	if r.store == nil {
		return "", nil
	}
	checkpointID, err := r.store.Save(ctx, r.toCheckpoint(st))
	if err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	r.metrics.checkpointSaved(r.graph.Name())
	r.logger.Debug("checkpoint saved",
		"workflow_id", st.workflowID, "checkpoint_id", checkpointID)
	return checkpointID, nil
}

func (r *Runner) toCheckpoint(st *runState) *Checkpoint {
	pending := map[string][]Message{}
	for _, item := range st.queue {
		key := edgeKey(item.msg.Source, item.target)
		pending[key] = append(pending[key], item.msg)
	}
	for target, iterations := range st.buffers {
		for _, arrived := range iterations {
			for source, msg := range arrived {
				key := edgeKey(source, target)
				pending[key] = append(pending[key], msg)
			}
		}
	}

	checkpoint := &Checkpoint{
		WorkflowID:       st.workflowID,
		GraphName:        r.graph.Name(),
		Status:           st.status,
		Iteration:        st.iteration,
		ExecutorStates:   map[string]json.RawMessage{},
		PendingMessages:  pending,
		PendingRequests:  map[string]*PendingRequest{},
		ConsumedRequests: append([]string(nil), st.consumedRequests...),
		FinalOutput:      st.finalOutput,
		Timestamp:        time.Now().UTC(),
	}
	for id, state := range st.executorStates {
		checkpoint.ExecutorStates[id] = state
	}
	for id, request := range st.pendingRequests {
		checkpoint.PendingRequests[id] = request.Copy()
	}
	return checkpoint
}

// restore rebuilds run state from a checkpoint. Buffered fan-in messages
// return to their barrier, everything else returns to the ready queue.
func (r *Runner) restore(st *runState, checkpoint *Checkpoint) error {
	st.workflowID = checkpoint.WorkflowID
	st.status = checkpoint.Status
	st.iteration = checkpoint.Iteration
	st.consumedRequests = append([]string(nil), checkpoint.ConsumedRequests...)
	for id, state := range checkpoint.ExecutorStates {
		st.executorStates[id] = state
	}
	for id, request := range checkpoint.PendingRequests {
		st.pendingRequests[id] = request.Copy()
	}

	edges := make([]string, 0, len(checkpoint.PendingMessages))
	for edge := range checkpoint.PendingMessages {
		edges = append(edges, edge)
	}
	sort.Strings(edges)
	for _, edge := range edges {
		from, to, ok := strings.Cut(edge, "->")
		if !ok {
			return fmt.Errorf("malformed pending message edge %q", edge)
		}
		if _, exists := r.graph.executors[to]; !exists {
			return fmt.Errorf("pending message targets unknown executor %q", to)
		}
		for _, msg := range checkpoint.PendingMessages[edge] {
			r.deliver(st, from, to, msg)
		}
	}
	return nil
}

func sortedRequests(requests map[string]*PendingRequest) []*PendingRequest {
	out := make([]*PendingRequest, 0, len(requests))
	for _, request := range requests {
		out = append(out, request.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Runner) acquire(workflowID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.active == nil {
		r.active = map[string]bool{}
	}
	if r.active[workflowID] {
		return NewOrchestrationError(ErrCodeRunActive,
			"workflow %s already has an active runner", workflowID)
	}
	r.active[workflowID] = true
	return nil
}

func (r *Runner) release(workflowID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.active, workflowID)
}
