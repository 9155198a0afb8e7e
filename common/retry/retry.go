package retry

import (
	"context"
	"time"
)

// Logger is the logging surface the retry helper needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// WithBackoff retries op with exponential backoff (250ms base) up to five
// attempts. The last error is returned when all attempts fail. Context
// cancellation aborts the wait between attempts.
func WithBackoff[T any](ctx context.Context, label string, log Logger, op func(context.Context) (T, error)) (T, error) {
	const maxAttempts = 5

	var zero T
	backoff := 250 * time.Millisecond

	for attempt := 1; ; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if attempt == maxAttempts {
			return zero, err
		}

		log.Warn("operation failed, retrying with backoff",
			"label", label,
			"attempt", attempt,
			"backoff_ms", backoff.Milliseconds(),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		backoff *= 2
	}
}
