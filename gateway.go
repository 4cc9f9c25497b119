package flowstone

import (
	"context"
	"encoding/json"
)

// DecisionResponse is the externally supplied answer to a pending request,
// produced by an operator UI and passed to Resume keyed by request id.
// Setting Abort cancels the run instead of continuing it.
type DecisionResponse struct {
	ApprovedAction  string         `json:"approved_action"`
	Notes           string         `json:"notes,omitempty"`
	DecisionMakerID string         `json:"decision_maker_id,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
	Abort           bool           `json:"abort,omitempty"`
}

// DecisionEnvelope is the payload of the message routed downstream of a
// human review executor when a run resumes: the operator decision together
// with the original request payload, so downstream executors can merge
// correlation fields the decision omitted.
type DecisionEnvelope struct {
	RequestID string           `json:"request_id"`
	Request   json.RawMessage  `json:"request"`
	Decision  DecisionResponse `json:"decision"`
}

// RequestField reads a field from the original request payload. Used to fill
// values the decision did not carry, e.g. the subject id.
func (e *DecisionEnvelope) RequestField(name string) (any, bool) {
	var request map[string]any
	if err := json.Unmarshal(e.Request, &request); err != nil {
		return nil, false
	}
	v, ok := request[name]
	return v, ok
}

// HumanReviewExecutor suspends the run for an external decision. On
// receiving a message it files a PendingRequest carrying the message payload
// and produces no output; the runner persists a checkpoint, emits a
// decision_required event and returns control to the caller. On resume the
// decision is wrapped in a DecisionEnvelope and routed along this executor's
// outgoing edges.
type HumanReviewExecutor struct {
	id        string
	summarize func(Message) (any, error)
}

// HumanReviewOption configures a HumanReviewExecutor.
type HumanReviewOption func(*HumanReviewExecutor)

// WithSummary sets a function that reduces the incoming message to the
// payload stored on the pending request (and shown to the operator). The
// default stores the full message payload.
func WithSummary(fn func(Message) (any, error)) HumanReviewOption {
	return func(e *HumanReviewExecutor) {
		e.summarize = fn
	}
}

// NewHumanReviewExecutor creates a human review executor with the given id.
func NewHumanReviewExecutor(id string, opts ...HumanReviewOption) *HumanReviewExecutor {
	e := &HumanReviewExecutor{id: id}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HumanReviewExecutor) ID() string {
	return e.id
}

func (e *HumanReviewExecutor) Handle(ctx context.Context, msg Message, rc *RunContext) error {
	payload := any(msg.Payload)
	if e.summarize != nil {
		summary, err := e.summarize(msg)
		if err != nil {
			return err
		}
		payload = summary
	}
	requestID, err := rc.RequestDecision(payload)
	if err != nil {
		return err
	}
	rc.Logger().Info("decision requested", "request_id", requestID)
	return nil
}
