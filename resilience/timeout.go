package resilience

import (
	"context"
	"errors"
	"time"
)

// Deadline bounds a single call with a context deadline.
type Deadline struct {
	timeout time.Duration
}

// NewDeadline creates a Deadline guard.
// Default timeout: 30 seconds
func NewDeadline(timeout time.Duration) *Deadline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Deadline{timeout: timeout}
}

// Timeout returns the configured bound.
func (d *Deadline) Timeout() time.Duration { return d.timeout }

// Execute runs op with a derived deadline. An expired deadline that the
// caller did not set is reported as ErrTimeout.
func (d *Deadline) Execute(ctx context.Context, op func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := op(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

// WaitWithTimeout waits for a value on ch. It returns ErrTimeout after
// timeout (zero waits without bound) and ctx.Err() when ctx ends first.
// The producer is not cancelled.
func WaitWithTimeout[T any](ctx context.Context, timeout time.Duration, ch <-chan T) (T, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
