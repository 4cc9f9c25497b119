package retry

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	t.Run("explicit classification wins", func(t *testing.T) {
		require.True(t, IsRecoverable(NewRecoverableError(errors.New("flaky backend"))))
		// The message would read as transient; the explicit marker overrides
		require.False(t, IsRecoverable(NewNonRecoverableError(errors.New("rate limit"))))
	})

	t.Run("nil is not recoverable", func(t *testing.T) {
		require.False(t, IsRecoverable(nil))
	})

	t.Run("context errors", func(t *testing.T) {
		require.True(t, IsRecoverable(context.DeadlineExceeded))
		require.False(t, IsRecoverable(context.Canceled))
	})

	t.Run("transient message fragments", func(t *testing.T) {
		require.True(t, IsRecoverable(errors.New("dial tcp 10.0.0.1:5432: connection refused")))
		require.True(t, IsRecoverable(errors.New("429 rate limit exceeded")))
		require.False(t, IsRecoverable(errors.New("400 bad request")))
	})

	t.Run("unwraps url errors", func(t *testing.T) {
		wrapped := &url.Error{Op: "Get", URL: "http://example.com", Err: errors.New("connection reset by peer")}
		require.True(t, IsRecoverable(wrapped))
	})
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil on success", func(t *testing.T) {
		calls := 0
		require.NoError(t, Do(ctx, func() error {
			calls++
			return nil
		}))
		require.Equal(t, 1, calls)
	})

	t.Run("retries recoverable errors until the budget is spent", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func() error {
			calls++
			return NewRecoverableError(errors.New("still down"))
		}, WithMaxRetries(2), WithBaseWait(time.Millisecond))
		require.EqualError(t, err, "still down")
		require.Equal(t, 3, calls)
	})

	t.Run("zero retries means a single attempt", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func() error {
			calls++
			return NewRecoverableError(errors.New("still down"))
		}, WithMaxRetries(0), WithBaseWait(time.Millisecond))
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("permanent errors fail immediately", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func() error {
			calls++
			return errors.New("schema mismatch")
		}, WithBaseWait(time.Millisecond))
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("cancellation interrupts the backoff wait", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		err := Do(cancelled, func() error {
			return NewRecoverableError(errors.New("still down"))
		}, WithBaseWait(time.Minute))
		require.ErrorIs(t, err, context.Canceled)
	})
}
