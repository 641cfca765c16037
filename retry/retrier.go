// Package retry provides the inline retry mechanism used before a failed
// call is queued or rejected. Retriers are injected through the context,
// so callers can tune or disable the retry budget per operation. By
// default no retries are performed.
//
// Example usage:
//
//	retrier := retry.NewClassifiedRetrier(classifyErr, 3)
//	ctx = retry.ToContext(ctx, retrier)
//	// The operation will now retry per the classifier's verdicts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/grafana/holdfast/classify"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -o ../mocks/retrier.go . Retrier

// Retrier defines the retry behavior for an operation.
// Implementations decide when to retry and how long to wait in between.
type Retrier interface {
	// ShouldRetry determines if an error should be retried.
	// attempt is the current attempt number (1-indexed).
	ShouldRetry(err error, attempt int) bool

	// Wait blocks before the next attempt. err is the failure that caused
	// the retry; attempt is 1-indexed. Returns an error if the context was
	// cancelled during the wait.
	Wait(ctx context.Context, err error, attempt int) error

	// MaxAttempts returns the maximum number of attempts, including the
	// initial one. Zero means unlimited (not recommended).
	MaxAttempts() int
}

// NoopRetrier never retries. It is the default when no retrier is present
// in the context.
type NoopRetrier struct{}

func (NoopRetrier) ShouldRetry(err error, attempt int) bool                { return false }
func (NoopRetrier) Wait(ctx context.Context, err error, attempt int) error { return nil }
func (NoopRetrier) MaxAttempts() int                                       { return 1 }

// ClassifiedRetrier retries according to the error classifier's verdicts:
// the classification decides retryability and the backoff delay comes
// straight from its formula for the failing error's kind.
type ClassifiedRetrier struct {
	classify func(err error, attempt int) classify.Outcome
	attempts int
}

// NewClassifiedRetrier creates a retrier driven by the given
// classification function. attempts bounds the total attempt count,
// including the first.
func NewClassifiedRetrier(classifyFn func(err error, attempt int) classify.Outcome, attempts int) *ClassifiedRetrier {
	if attempts < 1 {
		attempts = 1
	}
	return &ClassifiedRetrier{classify: classifyFn, attempts: attempts}
}

func (r *ClassifiedRetrier) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	return r.classify(err, attempt).Retryable
}

func (r *ClassifiedRetrier) Wait(ctx context.Context, err error, attempt int) error {
	delay := r.classify(err, attempt).Backoff
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *ClassifiedRetrier) MaxAttempts() int {
	return r.attempts
}
