package toolsurface

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/opsconduit/internal/classifier"
	"github.com/haasonsaas/opsconduit/internal/events"
	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
	"github.com/haasonsaas/opsconduit/internal/terminal"
)

// fakeWriter echoes nothing; tests drive the output channel directly to
// simulate what a shell would print.
type fakeWriter struct{}

func (fakeWriter) Write(p []byte) (int, error)   { return len(p), nil }
func (fakeWriter) Resize(cols, rows int) error   { return nil }
func (fakeWriter) Close() error                  { return nil }

func newTestSession(t *testing.T) (*sessionmgr.AgentSession, chan []byte) {
	t.Helper()
	output := make(chan []byte, 16)
	term := terminal.New(fakeWriter{}, output)
	ctx := termctx.New("/home", "/bin/bash", "linux", "kevin", "box")
	cls := classifier.New()
	sink, out := events.New(16)
	go func() {
		for range out {
		}
	}()
	return sessionmgr.NewAgentSession(term, ctx, cls, sink), output
}

func TestExecuteShellSafeCommandRunsWithoutConfirmation(t *testing.T) {
	session, output := newTestSession(t)
	tool, err := NewExecuteShell(session, "q1")
	if err != nil {
		t.Fatalf("NewExecuteShell: %v", err)
	}

	go func() {
		output <- []byte("hello\n")
	}()

	params, _ := json.Marshal(ExecuteShellParams{Command: "echo hello"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %q", result.Content)
	}
	if result.Content != "hello\n" {
		t.Fatalf("Content = %q, want %q", result.Content, "hello\n")
	}
}

func TestExecuteShellDangerousCommandRequiresConfirmationAndTimesOutAsDenied(t *testing.T) {
	session, _ := newTestSession(t)
	tool, err := NewExecuteShell(session, "q1")
	if err != nil {
		t.Fatalf("NewExecuteShell: %v", err)
	}

	// Shrink the effective wait by cancelling the context shortly after the
	// confirmation is requested, standing in for a timeout without this
	// test actually waiting 300 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	params, _ := json.Marshal(ExecuteShellParams{Command: "rm -rf /tmp/foo"})
	historyBefore := session.Context.CommandHistoryLen()
	result, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected dangerous command without confirmation to return an error result")
	}
	if !strings.HasPrefix(result.Content, "User rejected") {
		t.Fatalf("Content = %q, want prefix %q", result.Content, "User rejected")
	}
	if got := session.Context.CommandHistoryLen(); got != historyBefore {
		t.Fatalf("CommandHistoryLen = %d, want unchanged at %d (rejected commands must not be recorded)", got, historyBefore)
	}
}

func TestExecuteShellRejectsEmptyCommand(t *testing.T) {
	session, _ := newTestSession(t)
	tool, _ := NewExecuteShell(session, "q1")
	params, _ := json.Marshal(ExecuteShellParams{Command: "   "})
	result, _ := tool.Execute(context.Background(), params)
	if !result.IsError {
		t.Fatal("expected empty command to be rejected")
	}
}

func TestQueryStateReportsCwdAndShell(t *testing.T) {
	session, _ := newTestSession(t)
	tool, err := NewQueryState(session)
	if err != nil {
		t.Fatalf("NewQueryState: %v", err)
	}
	params, _ := json.Marshal(QueryStateParams{QueryType: "all"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(result.Content), &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state["cwd"] != "/home" {
		t.Errorf("cwd = %v, want /home", state["cwd"])
	}
}

func TestQueryStateCwdOnlyReturnsJustCwd(t *testing.T) {
	session, _ := newTestSession(t)
	tool, err := NewQueryState(session)
	if err != nil {
		t.Fatalf("NewQueryState: %v", err)
	}
	params, _ := json.Marshal(QueryStateParams{QueryType: "cwd"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(result.Content), &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state["cwd"] != "/home" {
		t.Errorf("cwd = %v, want /home", state["cwd"])
	}
	if _, ok := state["shell"]; ok {
		t.Errorf("query_type=cwd should not include shell, got %v", state)
	}
}

func TestQueryHistoryListReturnsMostRecentFirst(t *testing.T) {
	session, _ := newTestSession(t)
	session.Context.AddCommandResult(termctx.CommandHistoryEntry{Command: "first", Output: "1\n", TimestampMs: termctx.Now()})
	session.Context.AddCommandResult(termctx.CommandHistoryEntry{Command: "second", Output: "2\n", TimestampMs: termctx.Now()})

	tool, err := NewQueryHistory(session)
	if err != nil {
		t.Fatalf("NewQueryHistory: %v", err)
	}
	params, _ := json.Marshal(QueryHistoryParams{QueryType: "list"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var parsed struct {
		Entries []string `json:"entries"`
		Count   int      `json:"count"`
	}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Count != 2 {
		t.Fatalf("count = %d, want 2", parsed.Count)
	}
	if !strings.Contains(parsed.Entries[0], "second") {
		t.Fatalf("entries[0] = %q, want most recent (second) first", parsed.Entries[0])
	}
}

func TestQueryHistorySearchFindsMatchingCommand(t *testing.T) {
	session, _ := newTestSession(t)
	session.Context.AddCommandResult(termctx.CommandHistoryEntry{
		Command: "ls -la", Output: "file1\nfile2\n", TimestampMs: termctx.Now(),
	})

	tool, err := NewQueryHistory(session)
	if err != nil {
		t.Fatalf("NewQueryHistory: %v", err)
	}
	params, _ := json.Marshal(QueryHistoryParams{QueryType: "search", Value: "file1"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var parsed struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(parsed.Entries))
	}
}

func TestQueryHistoryGetOutputDisambiguatesMultipleMatches(t *testing.T) {
	session, _ := newTestSession(t)
	session.Context.AddCommandResult(termctx.CommandHistoryEntry{Command: "docker ps", Output: "a\n", TimestampMs: termctx.Now()})
	session.Context.AddCommandResult(termctx.CommandHistoryEntry{Command: "docker logs web", Output: "b\n", TimestampMs: termctx.Now()})

	tool, err := NewQueryHistory(session)
	if err != nil {
		t.Fatalf("NewQueryHistory: %v", err)
	}
	params, _ := json.Marshal(QueryHistoryParams{QueryType: "get_output", Value: "docker"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected ambiguous get_output to return an error result with a disambiguation list")
	}
	var parsed struct {
		Candidates []string `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(parsed.Candidates))
	}
}
