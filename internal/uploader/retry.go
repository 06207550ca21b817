package uploader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrDeliveryExhausted is returned when every retry attempt for one chunk
// has failed. It is fatal to the whole transfer.
var ErrDeliveryExhausted = errors.New("chunk delivery exhausted")

// newChunkBackOff builds the delay schedule between chunk attempts: pure
// exponential doubling from one second (1s, 2s, 4s, ...), no jitter, no cap.
func newChunkBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retrier executes one chunk transmission attempt up to maxRetries times,
// waiting between attempts per the backoff schedule.
type retrier struct {
	maxRetries int
	newBackOff func() backoff.BackOff
	sleep      func(context.Context, time.Duration) error
}

func newRetrier(maxRetries int) *retrier {
	return &retrier{
		maxRetries: maxRetries,
		newBackOff: newChunkBackOff,
		sleep:      sleepContext,
	}
}

// do runs attempt until it succeeds or maxRetries attempts are spent. The
// returned error wraps ErrDeliveryExhausted and the last attempt's failure.
func (r *retrier) do(ctx context.Context, attempt func() error) error {
	bo := r.newBackOff()

	var lastErr error
	for i := 0; i < r.maxRetries; i++ {
		if lastErr = attempt(); lastErr == nil {
			return nil
		}
		if i == r.maxRetries-1 {
			break
		}
		if err := r.sleep(ctx, bo.NextBackOff()); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryExhausted, r.maxRetries, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
