package providers

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/opsconduit/internal/retry"
)

// streamOpener opens a provider-native stream for one completion attempt.
// It returns a permanent error (via retry.Permanent) for anything that a
// retry would not fix — bad request, auth failure, unsupported model.
type streamOpener func(ctx context.Context) error

// openWithRetry runs open, retrying transient failures with exponential
// backoff. Grounded on the Anthropic adapter's own "delay = base * 2^attempt"
// loop, generalized to share this package's retry config across providers.
func openWithRetry(ctx context.Context, maxRetries int, initialDelay time.Duration, open streamOpener) error {
	cfg := retry.Exponential(maxRetries+1, initialDelay, 30*time.Second)
	cfg.Jitter = false
	result := retry.Do(ctx, cfg, func() error {
		return open(ctx)
	})
	return result.Err
}

// classifyRetryable wraps err as retry.Permanent unless isRetryable says
// otherwise, so the shared retry.Do loop stops immediately on auth/4xx
// errors instead of burning through the full backoff schedule.
func classifyRetryable(err error, isRetryable func(error) bool) error {
	if err == nil {
		return nil
	}
	if isRetryable(err) {
		return err
	}
	return retry.Permanent(err)
}

var errMaxRetriesExceeded = errors.New("provider: max retries exceeded")
