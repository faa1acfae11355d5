package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/docindex-mcp/internal/embedder"
	"github.com/dshills/docindex-mcp/internal/storage"
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Upper bound for any single delay
	Multiplier  float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns 3 attempts starting at 500ms and doubling
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// retryWithBackoff runs fn until it succeeds, returns a permanent error, or
// runs out of attempts. Backoff sleeps are cut short when ctx is done.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay
	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if permanent(err) || ctx.Err() != nil {
			return zero, attempt, err
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return zero, attempt, lastErr
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if config.MaxDelay > 0 && backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, attempts, lastErr
}

// permanent errors fail the same way on every attempt
func permanent(err error) bool {
	return errors.Is(err, embedder.ErrInvalidInput) ||
		errors.Is(err, embedder.ErrUnsupportedModel) ||
		errors.Is(err, embedder.ErrNoProviderEnabled) ||
		errors.Is(err, storage.ErrVectorMismatch)
}
