// Package retry runs an operation until it succeeds, the caller's classifier
// declares the error permanent, or the attempt budget runs out. The bootstrap
// paths use it to wait for Postgres and Redis to come up.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Action is the classifier's verdict on one failed attempt.
type Action int

const (
	// Stop aborts immediately; the error is wrapped in PermanentError.
	Stop Action = iota
	// Retry waits the current backoff and tries again.
	Retry
	// Throttled switches to the longer throttle backoff before retrying.
	Throttled
)

// Policy bounds the retry loop. Backoff doubles after every wait. A nil
// Clock means the real one.
type Policy struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	ThrottleBackoff time.Duration
	OnRetry         func(attempt int, err error, backoff time.Duration)
	Clock           clockwork.Clock
}

type Classifier func(err error) Action
type Operation[T any] func() (T, error)

func Do[T any](ctx context.Context, p Policy, classify Classifier, op Operation[T]) (T, error) {
	var zero T
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		switch classify(err) {
		case Stop:
			return zero, &PermanentError{Err: err}
		case Throttled:
			backoff = p.ThrottleBackoff
		}

		if attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-clock.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}
}

// DoVoid is Do for operations without a result value.
func DoVoid(ctx context.Context, p Policy, classify Classifier, op func() error) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// PermanentError marks an error the classifier declared not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
