// Package providers holds the concrete model backend adapters behind the
// llm.Provider port.
package providers

import (
	"context"
	"math"
	"time"

	"github.com/driftlabs/driftwood/internal/llm"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
)

// withRetries runs fn with exponential backoff: delay = base * 2^attempt.
// Only retryable provider errors are retried; the last error is returned
// once attempts are exhausted.
func withRetries(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !llm.IsRetryable(err) {
			return err
		}
		if attempt < maxRetries {
			backoff := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return err
}
