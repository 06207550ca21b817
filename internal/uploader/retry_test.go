package uploader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRetrier returns a retrier whose sleeps are recorded instead of
// actually waiting.
func recordingRetrier(maxRetries int) (*retrier, *[]time.Duration) {
	var slept []time.Duration
	r := newRetrier(maxRetries)
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r, slept := recordingRetrier(3)

	attempts := 0
	err := r.do(context.Background(), func() error {
		attempts++
		if attempts <= 2 {
			return errors.New("transient network error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// Delays double: 1s then 2s, no jitter.
	require.Len(t, *slept, 2)
	assert.Equal(t, 1*time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
}

func TestRetryExhaustion(t *testing.T) {
	r, slept := recordingRetrier(3)

	attempts := 0
	cause := errors.New("connection refused")
	err := r.do(context.Background(), func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryExhausted)
	assert.ErrorIs(t, err, cause)

	// Exactly maxRetries attempts, no (k+1)th call, no sleep after the last.
	assert.Equal(t, 3, attempts)
	assert.Len(t, *slept, 2)
}

func TestRetryFirstAttemptSuccessSleepsNever(t *testing.T) {
	r, slept := recordingRetrier(3)

	err := r.do(context.Background(), func() error { return nil })

	require.NoError(t, err)
	assert.Empty(t, *slept)
}

func TestRetryDelaysKeepDoubling(t *testing.T) {
	r, slept := recordingRetrier(5)

	err := r.do(context.Background(), func() error { return errors.New("down") })

	require.ErrorIs(t, err, ErrDeliveryExhausted)
	require.Len(t, *slept, 4)
	for i := 1; i < len(*slept); i++ {
		assert.Equal(t, 2*(*slept)[i-1], (*slept)[i], "delay %d must double delay %d", i, i-1)
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	r := newRetrier(3)
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := r.do(ctx, func() error { return errors.New("down") })

	require.ErrorIs(t, err, context.Canceled)
}
