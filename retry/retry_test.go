package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grafana/holdfast/classify"
)

var errRetryable = errors.New("transient failure")

// testClassify treats errRetryable as a retryable network failure with a
// tiny backoff and everything else as terminal.
func testClassify(err error, attempt int) classify.Outcome {
	if errors.Is(err, errRetryable) {
		return classify.Outcome{Kind: classify.KindNetwork, Retryable: true, Backoff: time.Millisecond}
	}
	return classify.Outcome{Kind: classify.KindValidation, Retryable: false}
}

func TestDo_Success(t *testing.T) {
	t.Parallel()

	ctx := ToContext(context.Background(), NoopRetrier{})

	result, err := Do(ctx, func() (string, error) {
		return "success", nil
	})

	require.NoError(t, err)
	require.Equal(t, "success", result)
}

func TestDo_NoRetrier(t *testing.T) {
	t.Parallel()

	// No retrier in context - should use NoopRetrier.
	attempts := 0
	result, err := Do(context.Background(), func() (string, error) {
		attempts++
		return "", errRetryable
	})

	require.Error(t, err)
	require.Equal(t, "", result)
	require.Equal(t, 1, attempts)
}

func TestDo_RetryOnRetryableError(t *testing.T) {
	t.Parallel()

	ctx := ToContext(context.Background(), NewClassifiedRetrier(testClassify, 3))

	attempts := 0
	result, err := Do(ctx, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errRetryable
		}
		return "success", nil
	})

	require.NoError(t, err)
	require.Equal(t, "success", result)
	require.Equal(t, 3, attempts)
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	t.Parallel()

	ctx := ToContext(context.Background(), NewClassifiedRetrier(testClassify, 3))

	attempts := 0
	_, err := Do(ctx, func() (string, error) {
		attempts++
		return "", errRetryable
	})

	require.Error(t, err)
	require.Contains(t, err.Error(), "max retry attempts (3) reached")
	require.Equal(t, 3, attempts)

	var maxErr *MaxAttemptsError
	require.ErrorAs(t, err, &maxErr)
	require.ErrorIs(t, err, errRetryable)
}

func TestDo_NonRetryableError(t *testing.T) {
	t.Parallel()

	ctx := ToContext(context.Background(), NewClassifiedRetrier(testClassify, 3))

	terminal := errors.New("permission denied")
	attempts := 0
	_, err := Do(ctx, func() (string, error) {
		attempts++
		return "", terminal
	})

	require.ErrorIs(t, err, terminal)
	require.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()

	slowClassify := func(err error, attempt int) classify.Outcome {
		return classify.Outcome{Kind: classify.KindNetwork, Retryable: true, Backoff: time.Minute}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = ToContext(ctx, NewClassifiedRetrier(slowClassify, 3))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, func() (string, error) {
		return "", errRetryable
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifiedRetrier_NoRetryOnCancel(t *testing.T) {
	t.Parallel()

	r := NewClassifiedRetrier(testClassify, 3)
	require.False(t, r.ShouldRetry(context.Canceled, 1))
	require.False(t, r.ShouldRetry(nil, 1))
}

func TestClassifiedRetrier_MinimumOneAttempt(t *testing.T) {
	t.Parallel()

	r := NewClassifiedRetrier(testClassify, 0)
	require.Equal(t, 1, r.MaxAttempts())
}

func TestContext_RoundTrip(t *testing.T) {
	t.Parallel()

	retrier := NewClassifiedRetrier(testClassify, 2)
	ctx := ToContext(context.Background(), retrier)

	require.Equal(t, retrier, FromContext(ctx))
	require.Equal(t, retrier, FromContextOrNoop(ctx))
	require.Nil(t, FromContext(context.Background()))
}
