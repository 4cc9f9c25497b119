// Package retry runs an operation with exponential backoff until it
// succeeds, its error is classified permanent, or the retry budget is
// spent. It is the wrapper for flaky external capabilities; the workflow
// engine itself applies no retry policy.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseWait   = time.Second
	defaultMaxWait    = 30 * time.Second
)

type config struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
}

// Option configures a call to Do.
type Option func(*config)

// WithMaxRetries sets the number of retries after the initial attempt. The
// function is invoked at most maxRetries+1 times.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithBaseWait sets the wait before the first retry. Subsequent waits double,
// capped by WithMaxWait.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) {
		c.baseWait = d
	}
}

// WithMaxWait caps the backoff between attempts.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) {
		c.maxWait = d
	}
}

// Do invokes fn, retrying with exponential backoff and jitter while the
// returned error is recoverable. It returns nil on the first success, the
// last error once retries are exhausted, or immediately on a
// non-recoverable error or context cancellation.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	c := &config{
		maxRetries: defaultMaxRetries,
		baseWait:   defaultBaseWait,
		maxWait:    defaultMaxWait,
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	wait := c.baseWait
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			return err
		}
		if attempt >= c.maxRetries {
			return err
		}

		// Add up to 25% jitter so concurrent retries spread out
		sleep := wait + time.Duration(rand.Int63n(int64(wait)/4+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		wait *= 2
		if wait > c.maxWait {
			wait = c.maxWait
		}
	}
}

// RecoverableError lets an error decide its own retry classification.
// Errors that do not implement it are classified by the transient-failure
// heuristics in IsRecoverable.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

type classifiedError struct {
	err         error
	recoverable bool
}

func (e *classifiedError) Error() string       { return e.err.Error() }
func (e *classifiedError) IsRecoverable() bool { return e.recoverable }
func (e *classifiedError) Unwrap() error       { return e.err }

// NewRecoverableError marks err as worth retrying.
func NewRecoverableError(err error) error {
	return &classifiedError{err: err, recoverable: true}
}

// NewNonRecoverableError marks err as permanent, overriding the heuristics.
func NewNonRecoverableError(err error) error {
	return &classifiedError{err: err}
}

// IsRecoverable reports whether err is worth retrying. An explicit
// RecoverableError classification wins; otherwise timeouts and the usual
// transient network failures are retryable and everything else is treated
// as permanent.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var classified RecoverableError
	if errors.As(err, &classified) {
		return classified.IsRecoverable()
	}
	return isTransient(err)
}

// Substrings that identify a transient failure in errors carrying no
// explicit classification.
var transientFragments = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"rate limit",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
}

func isTransient(err error) bool {
	// Cancellation is intentional; a missed deadline is a timeout
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Timeout() || opErr.Temporary()) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isTransient(urlErr.Err)
	}
	text := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}
