// Package orchestrator implements the Orchestrator Loop (C8, spec.md §4.8):
// the per-turn state machine that builds the preamble, drives the
// provider's streaming tool-calling loop, dispatches tool calls, and
// records the result back into the Terminal Context. Grounded on an
// AgenticLoop.Run/streamPhase/executeToolsPhase/continuePhase shape,
// generalized from a persistence-backed branch/session store to this
// domain's single in-memory AgentSession.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/opsconduit/internal/observability"
	"github.com/haasonsaas/opsconduit/internal/providers"
	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
	"github.com/haasonsaas/opsconduit/internal/toolsurface"
	"github.com/haasonsaas/opsconduit/pkg/protocol"
)

// MaxTurns bounds the STREAMING<->TOOL ping-pong within one run_turn call
// (spec.md §4.8 step 3, "max_turns=10").
const MaxTurns = 10

// summaryTimeout bounds the best-effort input-summary call made at INIT
// (spec.md §4.8 step 1) so a slow provider never stalls turn start.
const summaryTimeout = 5 * time.Second

// summaryFallbackChars is the literal-truncation length used when the
// summary call fails or memory is disabled mid-flight.
const summaryFallbackChars = 200

// Loop drives turns for sessions against one configured provider.
type Loop struct {
	Provider      providers.LLMProvider
	Model         string
	MemoryEnabled bool

	// Logger records phase transitions. Defaults to a no-op discard logger
	// so callers in tests don't need to construct one.
	Logger *observability.Logger

	// Tracer wraps the provider call and each tool dispatch in a span.
	// Defaults to a no-op tracer (no OTLP endpoint configured).
	Tracer *observability.Tracer

	// Metrics records provider latency/token counts and tool durations.
	// Nil by default: NewMetrics registers with Prometheus's default
	// registry and must only be constructed once per process, so the
	// caller wires it in from cmd/opsconduit's startup, not here.
	Metrics *observability.Metrics
}

// New returns a Loop bound to a provider and the model it should request.
func New(provider providers.LLMProvider, model string, memoryEnabled bool) *Loop {
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "opsconduit-orchestrator"})
	return &Loop{
		Provider:      provider,
		Model:         model,
		MemoryEnabled: memoryEnabled,
		Logger:        observability.NewLogger(observability.LogConfig{Output: io.Discard}),
		Tracer:        tracer,
	}
}

// RunTurn executes one user turn against session, following the
// INIT -> THINKING -> [STREAMING <-> TOOL] -> FINALIZING state machine.
// It returns ErrSessionBusy (via sessionmgr) if the session already has a
// turn in flight; all other failures are reported as events, not errors,
// except where the caller needs to know the turn could not even start.
func (l *Loop) RunTurn(ctx context.Context, session *sessionmgr.AgentSession, queryID, userText string) error {
	turnCtx, end, err := session.BeginTurn(ctx)
	if err != nil {
		return err
	}
	defer end()

	turnCtx = observability.AddSessionID(turnCtx, session.ID)
	turnCtx = observability.AddRunID(turnCtx, queryID)
	l.Logger.Info(turnCtx, "turn started", "query_id", queryID)
	defer l.Logger.Info(turnCtx, "turn ended", "query_id", queryID)

	session.Sink.Emit(turnCtx, protocol.NewThinking(session.ID, queryID))

	if l.MemoryEnabled {
		l.recordInputSummary(turnCtx, session, userText)
	}

	tools, err := l.buildTools(session, queryID)
	if err != nil {
		l.fail(turnCtx, session, queryID, err)
		return nil
	}

	preamble := buildPreamble(session)
	startHistoryLen := session.Context.CommandHistoryLen()

	messages := []providers.CompletionMessage{{Role: providers.RoleUser, Content: userText}}
	var accumulatedText strings.Builder

	for iteration := 0; iteration < MaxTurns; iteration++ {
		select {
		case <-turnCtx.Done():
			// A pending confirmation resolves to deny on its own via the
			// mailbox's ctx.Done() branch; nothing further to inject here.
			session.Sink.Emit(ctx, protocol.QueryCompleted{
				Base:   protocol.Base{Type: protocol.EventQueryCompleted, SessionID: session.ID, QueryID: queryID},
				Status: protocol.StatusCancelled,
			})
			return nil
		default:
		}

		req := &providers.CompletionRequest{
			Model:    l.Model,
			System:   preamble,
			Messages: messages,
			Tools:    toolDescriptors(tools),
		}

		text, toolCalls, err := l.streamPhase(turnCtx, req, session, queryID)
		if err != nil {
			l.fail(turnCtx, session, queryID, err)
			return nil
		}
		accumulatedText.WriteString(text)

		if len(toolCalls) == 0 {
			break
		}

		assistantMsg := providers.CompletionMessage{Role: providers.RoleAssistant, Content: text, ToolCalls: toolCalls}
		messages = append(messages, assistantMsg)

		toolResults := l.executeToolsPhase(turnCtx, session, queryID, tools, toolCalls)
		messages = append(messages, providers.CompletionMessage{Role: providers.RoleTool, ToolResults: toolResults})
	}

	l.finalize(turnCtx, session, queryID, userText, accumulatedText.String(), startHistoryLen)
	return nil
}

// streamPhase opens one completion call and forwards text/thinking chunks
// as ResponseChunk events, collecting any tool calls the model issued.
func (l *Loop) streamPhase(ctx context.Context, req *providers.CompletionRequest, session *sessionmgr.AgentSession, queryID string) (string, []providers.ToolCall, error) {
	ctx, span := l.Tracer.TraceLLMRequest(ctx, l.Provider.Name(), l.Model)
	defer span.End()
	started := time.Now()

	stream, err := l.Provider.Complete(ctx, req)
	if err != nil {
		l.Tracer.RecordError(span, err)
		if l.Metrics != nil {
			l.Metrics.RecordLLMRequest(l.Provider.Name(), l.Model, "failed", time.Since(started).Seconds(), 0, 0)
		}
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []providers.ToolCall
	var inputTokens, outputTokens int

	for chunk := range stream {
		if chunk.Error != nil {
			l.Tracer.RecordError(span, chunk.Error)
			if l.Metrics != nil {
				l.Metrics.RecordLLMRequest(l.Provider.Name(), l.Model, "failed", time.Since(started).Seconds(), inputTokens, outputTokens)
			}
			return "", nil, chunk.Error
		}
		if chunk.Thinking != "" {
			session.Sink.Emit(ctx, protocol.ResponseChunk{
				Base:      protocol.Base{Type: protocol.EventResponseChunk, SessionID: session.ID, QueryID: queryID},
				ChunkType: protocol.ChunkThinking,
				Content:   chunk.Thinking,
			})
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			session.Sink.Emit(ctx, protocol.ResponseChunk{
				Base:      protocol.Base{Type: protocol.EventResponseChunk, SessionID: session.ID, QueryID: queryID},
				ChunkType: protocol.ChunkText,
				Content:   chunk.Text,
			})
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.InputTokens > 0 {
			inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			outputTokens = chunk.OutputTokens
		}
	}

	if l.Metrics != nil {
		l.Metrics.RecordLLMRequest(l.Provider.Name(), l.Model, "success", time.Since(started).Seconds(), inputTokens, outputTokens)
	}
	return text.String(), toolCalls, nil
}

// executeToolsPhase dispatches every pending tool call sequentially —
// execute_shell mediates a shared terminal, so concurrent dispatch within
// one turn would race on the single PTY/SSH channel (spec.md §5).
func (l *Loop) executeToolsPhase(ctx context.Context, session *sessionmgr.AgentSession, queryID string, tools map[string]toolsurface.Tool, calls []providers.ToolCall) []providers.ToolResult {
	results := make([]providers.ToolResult, 0, len(calls))

	for _, call := range calls {
		session.Sink.Emit(ctx, protocol.ToolInvoked{
			Base:      protocol.Base{Type: protocol.EventToolInvoked, SessionID: session.ID, QueryID: queryID},
			ToolName:  call.Name,
			Arguments: call.Input,
		})

		l.Logger.Debug(ctx, "dispatching tool call", "tool", call.Name, "call_id", call.ID)
		toolCtx, span := l.Tracer.TraceToolExecution(ctx, call.Name)
		started := time.Now()
		tool, ok := tools[call.Name]
		var result providers.ToolResult
		if !ok {
			result = providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("unknown tool: %s", call.Name), IsError: true}
		} else {
			out, err := tool.Execute(toolCtx, call.Input)
			if err != nil {
				result = providers.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
			} else {
				result = providers.ToolResult{ToolCallID: call.ID, Content: out.Content, IsError: out.IsError}
			}
		}
		status := "success"
		if result.IsError {
			status = "failed"
			l.Tracer.RecordError(span, fmt.Errorf("%s", result.Content))
		}
		if l.Metrics != nil {
			l.Metrics.RecordToolExecution(call.Name, status, time.Since(started).Seconds())
		}
		span.End()

		session.Sink.Emit(ctx, protocol.ToolCompleted{
			Base:       protocol.Base{Type: protocol.EventToolCompleted, SessionID: session.ID, QueryID: queryID},
			ToolName:   call.Name,
			Result:     marshalResult(result.Content),
			DurationMs: time.Since(started).Milliseconds(),
		})

		results = append(results, result)
	}

	return results
}

func marshalResult(content string) json.RawMessage {
	b, err := json.Marshal(content)
	if err != nil {
		return nil
	}
	return b
}

// finalize computes the CommandHistoryEntrys appended since the turn
// started, derives TurnToolCalls, pushes a ConversationTurn, and emits the
// single terminal QueryCompleted event for this query (spec.md §4.8 step 5).
func (l *Loop) finalize(ctx context.Context, session *sessionmgr.AgentSession, queryID, userInput, aiResponse string, startHistoryLen int) {
	newEntries := session.Context.CommandHistorySince(startHistoryLen)
	var toolCalls []termctx.TurnToolCall
	for _, e := range newEntries {
		success := session.Context.ComputeSuccess(e.ExitCode, e.Output)
		summary := e.Output
		if len(summary) > 150 {
			summary = summary[:150] + "..."
		}
		toolCalls = append(toolCalls, termctx.TurnToolCall{
			ToolName:         "execute_shell",
			ArgumentsSummary: e.Command,
			ResultSummary:    summary,
			Success:          success,
		})
	}

	session.Context.AddConversationTurn(termctx.ConversationTurn{
		UserInput:   userInput,
		ToolCalls:   toolCalls,
		AIResponse:  aiResponse,
		TimestampMs: termctx.Now(),
	})

	summary := aiResponse
	if len(summary) > 200 {
		summary = summary[:200] + "..."
	}
	session.Sink.Emit(ctx, protocol.QueryCompleted{
		Base:    protocol.Base{Type: protocol.EventQueryCompleted, SessionID: session.ID, QueryID: queryID},
		Status:  protocol.StatusSuccess,
		Summary: summary,
	})
}

func (l *Loop) fail(ctx context.Context, session *sessionmgr.AgentSession, queryID string, cause error) {
	l.Logger.Error(ctx, "turn failed", "query_id", queryID, "error", cause.Error())
	session.Sink.Emit(ctx, protocol.Error{
		Base:        protocol.Base{Type: protocol.EventError, SessionID: session.ID, QueryID: queryID},
		ErrorType:   protocol.ErrProviderUnavailable,
		Message:     cause.Error(),
		Recoverable: true,
		Suggestion:  "Check provider settings",
	})
	session.Sink.Emit(ctx, protocol.QueryCompleted{
		Base:   protocol.Base{Type: protocol.EventQueryCompleted, SessionID: session.ID, QueryID: queryID},
		Status: protocol.StatusFailed,
	})
}

// recordInputSummary is the best-effort completion call at INIT (spec.md
// §4.8 step 1): single attempt, short timeout, falls back to a truncated
// literal on any failure.
func (l *Loop) recordInputSummary(ctx context.Context, session *sessionmgr.AgentSession, userText string) {
	summaryCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	req := &providers.CompletionRequest{
		Model:     l.Model,
		System:    "Summarize the following user request in one short sentence.",
		Messages:  []providers.CompletionMessage{{Role: providers.RoleUser, Content: userText}},
		MaxTokens: 64,
	}

	text := fallbackSummary(userText)
	if stream, err := l.Provider.Complete(summaryCtx, req); err == nil {
		var b strings.Builder
		ok := true
		for chunk := range stream {
			if chunk.Error != nil {
				ok = false
				continue
			}
			b.WriteString(chunk.Text)
		}
		if ok && b.Len() > 0 {
			text = strings.TrimSpace(b.String())
		}
	}

	session.Context.AddInputSummary(termctx.InputSummary{Text: text, TimestampMs: termctx.Now()})
}

func fallbackSummary(userText string) string {
	if len(userText) <= summaryFallbackChars {
		return userText
	}
	return userText[:summaryFallbackChars]
}

// buildTools constructs the fixed {execute_shell, query_state,
// query_history} tool set for one query (spec.md §4.8 step 3).
func (l *Loop) buildTools(session *sessionmgr.AgentSession, queryID string) (map[string]toolsurface.Tool, error) {
	execShell, err := toolsurface.NewExecuteShell(session, queryID)
	if err != nil {
		return nil, err
	}
	queryState, err := toolsurface.NewQueryState(session)
	if err != nil {
		return nil, err
	}
	queryHistory, err := toolsurface.NewQueryHistory(session)
	if err != nil {
		return nil, err
	}
	return map[string]toolsurface.Tool{
		execShell.Name():    execShell,
		queryState.Name():   queryState,
		queryHistory.Name(): queryHistory,
	}, nil
}

func toolDescriptors(tools map[string]toolsurface.Tool) []providers.Tool {
	out := make([]providers.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolsurface.ToProviderTool(t))
	}
	return out
}
