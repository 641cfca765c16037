package retry

import (
	"context"
	"fmt"
)

// MaxAttemptsError is returned by Do when every allowed attempt failed
// with a retryable error. It wraps the last attempt's failure.
type MaxAttemptsError struct {
	Attempts int
	Err      error
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) reached: %v", e.Attempts, e.Err)
}

func (e *MaxAttemptsError) Unwrap() error {
	return e.Err
}

// Do runs fn, retrying per the retrier found in ctx (none means a single
// attempt). Attempts for one call never overlap: each retry starts only
// after the previous failure was classified and its backoff elapsed.
func Do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	retrier := FromContextOrNoop(ctx)

	var zero T
	attempt := 1
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		if !retrier.ShouldRetry(err, attempt) {
			return zero, err
		}

		max := retrier.MaxAttempts()
		if max > 0 && attempt >= max {
			return zero, &MaxAttemptsError{Attempts: max, Err: err}
		}

		if waitErr := retrier.Wait(ctx, err, attempt); waitErr != nil {
			return zero, waitErr
		}
		attempt++
	}
}
