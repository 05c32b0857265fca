// Package termctx implements the Terminal Context: the bounded
// conversation/command memory that feeds the preamble of every
// orchestrator turn (spec.md §3, §4.2).
package termctx

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Bounds on the ring buffers, fixed by spec.md §3.
const (
	RecentOutputCap     = 100
	CommandHistoryCap   = 50
	InputSummariesCap   = 20
	ConversationTurnCap = 10
)

// DefaultErrorPhrases seeds the configurable phrase list used by the
// success heuristic (spec.md §9, "Open question — success heuristic").
var DefaultErrorPhrases = []string{
	"error:",
	"failed",
	"no such file",
	"permission denied",
	"command not found",
}

// CommandHistoryEntry is one completed command capture.
type CommandHistoryEntry struct {
	ID          string
	Command     string
	Output      string
	ExitCode    *int
	TimestampMs int64
	DurationMs  int64
}

// TurnToolCall summarizes one tool invocation made during a conversation turn.
type TurnToolCall struct {
	ToolName         string
	ArgumentsSummary string
	ResultSummary    string
	Success          bool
}

// ConversationTurn records one user prompt and everything the model did in response.
type ConversationTurn struct {
	UserInput   string
	ToolCalls   []TurnToolCall
	AIResponse  string
	TimestampMs int64
}

// InputSummary is a short, best-effort gloss of a user prompt, produced at
// turn start when memory is enabled (spec.md §4.8 step 1).
type InputSummary struct {
	Text        string
	TimestampMs int64
}

// hostSnapshot captures the fields enter_container replaces, so
// exit_container can restore them exactly (spec.md §4.2 invariant).
type hostSnapshot struct {
	os, shell, cwd, username, hostname string
}

// Context is the mutable, single-writer-per-turn terminal context owned by
// one AgentSession.
type Context struct {
	mu sync.Mutex

	Cwd, Shell, OS, Username, Hostname string
	GitBranch                          *string
	LastExitCode                       *int

	recentOutput      []string
	commandHistory    []CommandHistoryEntry
	inputSummaries    []InputSummary
	conversationTurns []ConversationTurn

	host            *hostSnapshot
	containerID     string
	containerRT     string
	errorPhrases    []string
}

// New returns a Context seeded with the host/session identity fields.
func New(cwd, shell, os, username, hostname string) *Context {
	return &Context{
		Cwd: cwd, Shell: shell, OS: os, Username: username, Hostname: hostname,
		errorPhrases: append([]string(nil), DefaultErrorPhrases...),
	}
}

// SetErrorPhrases overrides the substrings used by ComputeSuccess to detect
// benign-looking but failed output (spec.md §9 open question).
func (c *Context) SetErrorPhrases(phrases []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorPhrases = append([]string(nil), phrases...)
}

func evict[T any](buf []T, cap int) []T {
	if len(buf) <= cap {
		return buf
	}
	return buf[len(buf)-cap:]
}

// AppendOutput appends one line to the bounded recent_output ring buffer.
func (c *Context) AppendOutput(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentOutput = evict(append(c.recentOutput, line), RecentOutputCap)
}

// RecentOutput returns a snapshot of the recent output buffer.
func (c *Context) RecentOutput() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.recentOutput...)
}

// AddCommandResult pushes a completed command into command_history and
// updates last_exit_code.
func (c *Context) AddCommandResult(entry CommandHistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastExitCode = entry.ExitCode
	c.commandHistory = evict(append(c.commandHistory, entry), CommandHistoryCap)
}

// CommandHistoryLen reports the current number of retained entries, used
// by the orchestrator to diff start-of-turn vs. end-of-turn length
// (spec.md §4.8 step 5).
func (c *Context) CommandHistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commandHistory)
}

// CommandHistorySince returns the entries appended after the first `since`
// entries of the current buffer — i.e. the entries new to this turn.
func (c *Context) CommandHistorySince(since int) []CommandHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if since >= len(c.commandHistory) {
		return nil
	}
	return append([]CommandHistoryEntry(nil), c.commandHistory[since:]...)
}

// AddInputSummary pushes a new entry into the bounded input_summaries buffer.
func (c *Context) AddInputSummary(s InputSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputSummaries = evict(append(c.inputSummaries, s), InputSummariesCap)
}

// AddConversationTurn pushes a new entry into the bounded conversation_turns buffer.
func (c *Context) AddConversationTurn(t ConversationTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationTurns = evict(append(c.conversationTurns, t), ConversationTurnCap)
}

// ConversationTurnCount reports how many turns are currently retained.
func (c *Context) ConversationTurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conversationTurns)
}

// FindCommandOutput returns the most recent history entry whose command
// matches exactly.
func (c *Context) FindCommandOutput(cmd string) (CommandHistoryEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.commandHistory) - 1; i >= 0; i-- {
		if c.commandHistory[i].Command == cmd {
			return c.commandHistory[i], true
		}
	}
	return CommandHistoryEntry{}, false
}

// SearchCommandHistory returns entries whose command or output contains term.
func (c *Context) SearchCommandHistory(term string) []CommandHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []CommandHistoryEntry
	for i := len(c.commandHistory) - 1; i >= 0; i-- {
		e := c.commandHistory[i]
		if strings.Contains(e.Command, term) || strings.Contains(e.Output, term) {
			out = append(out, e)
		}
	}
	return out
}

// InContainer reports whether a container-nesting level is currently active.
func (c *Context) InContainer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host != nil
}

// ContainerID returns the current container id, if any.
func (c *Context) ContainerID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.host == nil {
		return "", false
	}
	return c.containerID, true
}

// EnterContainer snapshots the host identity fields and switches the
// context to container defaults. Username is left untouched: a container
// exec inherits the caller's notion of "who is running commands", only the
// OS/shell/cwd/hostname change (spec.md §4.2; confirmed against the
// reference session.rs test fixtures).
func (c *Context) EnterContainer(id, runtime, shell string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = &hostSnapshot{os: c.OS, shell: c.Shell, cwd: c.Cwd, username: c.Username, hostname: c.Hostname}
	c.containerID = id
	c.containerRT = runtime
	c.OS = "linux"
	c.Shell = shell
	c.Cwd = "/"
	c.Hostname = id
}

// ExitContainer restores the pre-enter snapshot. A no-op on a non-nested
// context, per spec.md §4.2.
func (c *Context) ExitContainer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.host == nil {
		return
	}
	c.OS = c.host.os
	c.Shell = c.host.shell
	c.Cwd = c.host.cwd
	c.Username = c.host.username
	c.Hostname = c.host.hostname
	c.host = nil
	c.containerID = ""
	c.containerRT = ""
}

// ComputeSuccess derives TurnToolCall.Success from the exit code and the
// configured error-phrase list (spec.md §9 open question, resolved as a
// configurable heuristic rather than a hard-coded one).
func (c *Context) ComputeSuccess(exitCode *int, output string) bool {
	if exitCode != nil && *exitCode != 0 {
		return false
	}
	c.mu.Lock()
	phrases := c.errorPhrases
	c.mu.Unlock()
	lower := strings.ToLower(output)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

func ageString(nowMs, thenMs int64) string {
	mins := (nowMs - thenMs) / 60000
	switch {
	case mins < 1:
		return "just now"
	case mins < 60:
		return fmt.Sprintf("%d min ago", mins)
	default:
		return fmt.Sprintf("%d hr ago", mins/60)
	}
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FormatSummariesForPreamble renders the last 10 input summaries as a
// plain-text block with a stable header, for use when no conversation
// turns exist yet.
func (c *Context) FormatSummariesForPreamble(nowMs int64) string {
	c.mu.Lock()
	summaries := append([]InputSummary(nil), c.inputSummaries...)
	c.mu.Unlock()

	if len(summaries) == 0 {
		return ""
	}

	start := 0
	if len(summaries) > 10 {
		start = len(summaries) - 10
	}
	recent := summaries[start:]

	var lines []string
	for i := len(recent) - 1; i >= 0; i-- {
		s := recent[i]
		idx := len(recent) - i
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", idx, ageString(nowMs, s.TimestampMs), s.Text))
	}

	return fmt.Sprintf(
		"\n## Conversation History\nPrevious user requests (use query_history to recall command outputs):\n%s\n\nWhen the user refers to something from earlier, use query_history to find the relevant command output.\n",
		strings.Join(lines, "\n"),
	)
}

// FormatConversationForPreamble renders the last 5 conversation turns,
// prefixing each tool call with [OK]/[FAILED] and truncating per
// spec.md §4.2 (user input to 100 bytes, error summaries to 150 bytes).
func (c *Context) FormatConversationForPreamble(nowMs int64) string {
	c.mu.Lock()
	turns := append([]ConversationTurn(nil), c.conversationTurns...)
	c.mu.Unlock()

	if len(turns) == 0 {
		return ""
	}

	start := 0
	if len(turns) > 5 {
		start = len(turns) - 5
	}
	recent := turns[start:]

	var lines []string
	idx := 0
	for i := len(recent) - 1; i >= 0; i-- {
		t := recent[i]
		idx++
		lines = append(lines, fmt.Sprintf("%d. [%s] User: %s", idx, ageString(nowMs, t.TimestampMs), truncateBytes(t.UserInput, 100)))
		for _, tc := range t.ToolCalls {
			status := "[FAILED]"
			if tc.Success {
				status = "[OK]"
			}
			lines = append(lines, fmt.Sprintf("   %s %s %s", status, tc.ToolName, tc.ArgumentsSummary))
			if !tc.Success && tc.ResultSummary != "" {
				lines = append(lines, fmt.Sprintf("      Error: %s", truncateBytes(tc.ResultSummary, 150)))
			}
		}
		if t.AIResponse != "" {
			lines = append(lines, fmt.Sprintf("   AI: %s", truncateBytes(t.AIResponse, 80)))
		}
	}

	return fmt.Sprintf(
		"\n## Recent Conversation (with tool results)\nCRITICAL: Review this section BEFORE taking any action!\nIf a command failed here, DO NOT repeat it - try a different approach.\n\n%s\n\nIMPORTANT: If you see a [FAILED] command above, you already tried that and it didn't work.\nAnalyze the error and try something different.\n",
		strings.Join(lines, "\n"),
	)
}

// Now returns the current time in epoch milliseconds. Extracted to a
// method so callers that need a stable clock for tests can wrap a Context.
func Now() int64 {
	return time.Now().UnixMilli()
}
