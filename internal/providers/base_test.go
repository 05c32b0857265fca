package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpenWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := openWithRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return classifyRetryable(errors.New("503 service unavailable"), isRetryableAnthropicError)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("openWithRetry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestOpenWithRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := openWithRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		attempts++
		return classifyRetryable(errors.New("401 unauthorized"), isRetryableAnthropicError)
	})
	if err == nil {
		t.Fatal("expected error for permanent failure")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on permanent error)", attempts)
	}
}

func TestIsRetryableAnthropicError(t *testing.T) {
	cases := map[string]bool{
		"rate_limit exceeded":       true,
		"429 too many requests":     true,
		"500 internal server error": true,
		"context deadline exceeded": true,
		"invalid request: bad arg":  false,
	}
	for msg, want := range cases {
		if got := isRetryableAnthropicError(errors.New(msg)); got != want {
			t.Errorf("isRetryableAnthropicError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestIsRetryableOpenAIError(t *testing.T) {
	if !isRetryableOpenAIError(errors.New("429 rate limit")) {
		t.Error("expected 429 to be retryable")
	}
	if isRetryableOpenAIError(errors.New("400 invalid request")) {
		t.Error("expected 400 to be non-retryable")
	}
}
