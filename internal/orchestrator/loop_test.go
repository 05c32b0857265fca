package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/opsconduit/internal/classifier"
	"github.com/haasonsaas/opsconduit/internal/events"
	"github.com/haasonsaas/opsconduit/internal/providers"
	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
	"github.com/haasonsaas/opsconduit/internal/terminal"
	"github.com/haasonsaas/opsconduit/pkg/protocol"
)

type fakeWriter struct{}

func (fakeWriter) Write(p []byte) (int, error) { return len(p), nil }
func (fakeWriter) Resize(cols, rows int) error  { return nil }
func (fakeWriter) Close() error                 { return nil }

func newTestSession(t *testing.T) (*sessionmgr.AgentSession, chan []byte, <-chan protocol.Event) {
	t.Helper()
	output := make(chan []byte, 16)
	term := terminal.New(fakeWriter{}, output)
	ctx := termctx.New("/home", "/bin/bash", "linux", "kevin", "box")
	cls := classifier.New()
	sink, out := events.New(16)
	return sessionmgr.NewAgentSession(term, ctx, cls, sink), output, out
}

// fakeProvider replays one canned response per Complete call, in order.
type fakeProvider struct {
	turns [][]*providers.CompletionChunk
	calls int
}

func (p *fakeProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.CompletionChunk, error) {
	idx := p.calls
	p.calls++
	ch := make(chan *providers.CompletionChunk, len(p.turns[idx]))
	for _, c := range p.turns[idx] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string             { return "fake" }
func (p *fakeProvider) Models() []providers.Model { return nil }
func (p *fakeProvider) SupportsTools() bool       { return true }

func drain(t *testing.T, out <-chan protocol.Event, n int) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	for i := 0; i < n; i++ {
		select {
		case e := <-out:
			events = append(events, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d/%d", i+1, n)
		}
	}
	return events
}

func TestRunTurnNoToolCallsFinalizesSuccess(t *testing.T) {
	session, _, out := newTestSession(t)
	provider := &fakeProvider{turns: [][]*providers.CompletionChunk{
		{{Text: "hello there"}},
	}}
	loop := New(provider, "fake-model", false)

	if err := loop.RunTurn(context.Background(), session, "q1", "hi"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	events := drain(t, out, 3)
	if events[0].Kind() != protocol.EventThinking {
		t.Errorf("event 0 = %s, want Thinking", events[0].Kind())
	}
	if events[1].Kind() != protocol.EventResponseChunk {
		t.Errorf("event 1 = %s, want ResponseChunk", events[1].Kind())
	}
	completed, ok := events[2].(protocol.QueryCompleted)
	if !ok {
		t.Fatalf("event 2 = %T, want QueryCompleted", events[2])
	}
	if completed.Status != protocol.StatusSuccess {
		t.Errorf("status = %s, want success", completed.Status)
	}

	if session.Context.ConversationTurnCount() != 1 {
		t.Errorf("conversation turn count = %d, want 1", session.Context.ConversationTurnCount())
	}
}

func TestRunTurnDispatchesExecuteShellThenFinalizes(t *testing.T) {
	session, output, out := newTestSession(t)
	toolInput, _ := json.Marshal(map[string]string{"command": "echo hi"})
	provider := &fakeProvider{turns: [][]*providers.CompletionChunk{
		{{ToolCall: &providers.ToolCall{ID: "t1", Name: "execute_shell", Input: toolInput}}},
		{{Text: "done"}},
	}}
	loop := New(provider, "fake-model", false)

	go func() { output <- []byte("hi\n") }()

	if err := loop.RunTurn(context.Background(), session, "q1", "run echo"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	var sawToolInvoked, sawToolCompleted, sawQueryCompleted bool
	for {
		select {
		case e := <-out:
			switch e.Kind() {
			case protocol.EventToolInvoked:
				sawToolInvoked = true
			case protocol.EventToolCompleted:
				sawToolCompleted = true
			case protocol.EventQueryCompleted:
				sawQueryCompleted = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out draining events")
		}
		if sawQueryCompleted {
			break
		}
	}
	if !sawToolInvoked || !sawToolCompleted {
		t.Fatalf("sawToolInvoked=%v sawToolCompleted=%v", sawToolInvoked, sawToolCompleted)
	}

	if session.Context.CommandHistoryLen() != 1 {
		t.Errorf("command history len = %d, want 1", session.Context.CommandHistoryLen())
	}
}

func TestRunTurnRejectsConcurrentTurn(t *testing.T) {
	session, _, _ := newTestSession(t)
	provider := &fakeProvider{turns: [][]*providers.CompletionChunk{{{Text: "ok"}}}}
	loop := New(provider, "fake-model", false)

	turnCtx, end, err := session.BeginTurn(context.Background())
	if err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	defer end()
	_ = turnCtx

	if err := loop.RunTurn(context.Background(), session, "q2", "hi"); err != sessionmgr.ErrSessionBusy {
		t.Fatalf("RunTurn = %v, want ErrSessionBusy", err)
	}
}

func TestRunTurnCancellationEmitsCancelledStatus(t *testing.T) {
	session, _, out := newTestSession(t)
	provider := &fakeProvider{turns: [][]*providers.CompletionChunk{{{Text: "ok"}}}}
	loop := New(provider, "fake-model", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := loop.RunTurn(ctx, session, "q3", "hi"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	events := drain(t, out, 2)
	completed, ok := events[1].(protocol.QueryCompleted)
	if !ok {
		t.Fatalf("event 1 = %T, want QueryCompleted", events[1])
	}
	if completed.Status != protocol.StatusCancelled {
		t.Errorf("status = %s, want cancelled", completed.Status)
	}
}
