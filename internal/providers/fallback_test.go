package providers

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	name string
	err  error
}

func (s *stubProvider) Name() string       { return s.name }
func (s *stubProvider) Models() []Model    { return nil }
func (s *stubProvider) SupportsTools() bool { return true }

func (s *stubProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: s.name, Done: true}
	close(ch)
	return ch, nil
}

func TestFallbackProviderFallsThroughOnError(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("boom")}
	backup := &stubProvider{name: "backup"}
	fp := NewFallbackProvider(primary, backup)

	ch, err := fp.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	chunk := <-ch
	if chunk.Text != "backup" {
		t.Fatalf("chunk.Text = %q, want backup", chunk.Text)
	}
}

func TestFallbackProviderReturnsLastErrorWhenAllFail(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("boom")}
	backup := &stubProvider{name: "backup", err: errors.New("also boom")}
	fp := NewFallbackProvider(primary, backup)

	if _, err := fp.Complete(context.Background(), &CompletionRequest{}); err == nil {
		t.Fatal("expected error when all providers fail")
	}
}

func TestFallbackProviderNameReflectsPrimary(t *testing.T) {
	fp := NewFallbackProvider(&stubProvider{name: "primary"})
	if fp.Name() != "primary" {
		t.Fatalf("Name() = %q, want primary", fp.Name())
	}
}
