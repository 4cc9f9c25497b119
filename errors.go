package flowstone

import (
	"errors"
	"fmt"
)

// Orchestration error codes. These classify errors surfaced to the caller of
// Run or Resume; the run state on disk is unchanged when one is returned.
const (
	// ErrCodeCheckpointNotFound indicates the given checkpoint id does not
	// exist in the store (possibly because the run completed and its
	// checkpoints were purged).
	ErrCodeCheckpointNotFound = "checkpoint_not_found"

	// ErrCodeUnknownRequest indicates a decision response referenced a
	// request id not present in the checkpoint.
	ErrCodeUnknownRequest = "unknown_request"

	// ErrCodeRequestAlreadyResolved indicates a decision response referenced
	// a request id that a prior resume already consumed.
	ErrCodeRequestAlreadyResolved = "request_already_resolved"

	// ErrCodeRequestExpired indicates the pending request's TTL elapsed
	// before a decision arrived.
	ErrCodeRequestExpired = "request_expired"

	// ErrCodeRunCancelled indicates the run was cancelled by an abort
	// decision and cannot be resumed.
	ErrCodeRunCancelled = "run_cancelled"

	// ErrCodeRunActive indicates a second concurrent drive of the same
	// workflow id, which is a caller error.
	ErrCodeRunActive = "run_active"

	// ErrCodeMalformedResponse indicates the resume payload itself is
	// invalid (no responses, or an empty request id).
	ErrCodeMalformedResponse = "malformed_response"
)

// OrchestrationError is returned by Run and Resume for protocol-level
// failures: the call is rejected and the prior checkpoint is left untouched,
// so the caller may retry with corrected input.
type OrchestrationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewOrchestrationError creates an OrchestrationError with the given code.
func NewOrchestrationError(code, format string, args ...any) *OrchestrationError {
	return &OrchestrationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsOrchestrationError reports whether err is an OrchestrationError with the
// given code.
func IsOrchestrationError(err error, code string) bool {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// ExecutorError wraps an error returned by an executor's Handle method. It
// is reported through executor_failed events and terminates only the branch
// containing that executor; the run as a whole is never failed by it.
type ExecutorError struct {
	ExecutorID string
	Err        error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %q failed: %s", e.ExecutorID, e.Err)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}
