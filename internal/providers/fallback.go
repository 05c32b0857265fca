package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/opsconduit/internal/infra"
)

// FallbackProvider wraps a primary LLMProvider with an ordered list of
// backups, each behind its own circuit breaker (internal/infra). A
// provider that has tripped open is skipped without being called at all,
// so one backend's outage doesn't cost every turn a timeout before falling
// through to the next (spec.md §4.7, fallback_chain).
type FallbackProvider struct {
	primary  LLMProvider
	fallback []LLMProvider
	breakers *infra.CircuitBreakerRegistry
}

// NewFallbackProvider builds a FallbackProvider trying primary first, then
// each of fallback in order, on any Complete error.
func NewFallbackProvider(primary LLMProvider, fallback ...LLMProvider) *FallbackProvider {
	return &FallbackProvider{
		primary:  primary,
		fallback: fallback,
		breakers: infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
	}
}

func (f *FallbackProvider) Name() string { return f.primary.Name() }

func (f *FallbackProvider) Models() []Model { return f.primary.Models() }

func (f *FallbackProvider) SupportsTools() bool { return f.primary.SupportsTools() }

// Complete tries the primary provider, then each fallback in order, until
// one returns a channel without error. The circuit breaker for a provider
// that is currently open is not retried; its failure is recorded as if it
// had been called and rejected.
func (f *FallbackProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	candidates := append([]LLMProvider{f.primary}, f.fallback...)

	var lastErr error
	for _, p := range candidates {
		cb := f.breakers.Get(p.Name())
		ch, err := infra.ExecuteWithResult(cb, ctx, func(ctx context.Context) (<-chan *CompletionChunk, error) {
			return p.Complete(ctx, req)
		})
		if err == nil {
			return ch, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
