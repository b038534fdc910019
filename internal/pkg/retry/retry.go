// Package retry provides the exponential-backoff helper the fetcher's
// whole-file download path uses for its bounded retry of non-rate-limit
// errors. The uploader's single-send retry does not use it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Operation represents a function that can be retried.
type Operation func() error

// WithRetry executes op with exponential backoff between attempts, up to
// maxRetries total attempts. It returns the number of attempts made and the
// last error, or nil once op succeeds.
//
// It never retries past a context cancellation or deadline.
func WithRetry(ctx context.Context, log *zap.Logger, name string, op Operation, maxRetries int, baseDelay time.Duration) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			delay := time.Duration(math.Pow(2, float64(attempt-2))) * baseDelay
			log.Warn("retrying", zap.String("op", name), zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			}
		}

		err := op()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		log.Warn("operation failed", zap.String("op", name), zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Error(err))

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempt, err
		}
	}
	return maxRetries, fmt.Errorf("%s failed after %d attempts: %w", name, maxRetries, lastErr)
}
