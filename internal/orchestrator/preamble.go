package orchestrator

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
)

// agentInstructions are the fixed opening lines of every preamble (spec.md
// §4.8 step 2a). Kept short and imperative, matching the register of the
// tool descriptions in internal/toolsurface.
const agentInstructions = `You are a terminal agent. You can run shell commands with execute_shell,
inspect the current terminal state with query_state, and recall earlier
command output with query_history instead of re-running a command.
Dangerous or destructive commands require the user to confirm before they
run; expect some execute_shell calls to be rejected if the user declines.`

// recentOutputTailLines bounds how much of the recent output ring buffer
// is echoed into the preamble, distinct from the full 100-line cap the
// ring buffer itself retains.
const recentOutputTailLines = 20

// buildPreamble assembles the system prompt for one turn out of the
// session's Terminal Context, following spec.md §4.8 step 2 (a)-(g).
func buildPreamble(session *sessionmgr.AgentSession) string {
	c := session.Context
	now := termctx.Now()

	var b strings.Builder
	b.WriteString(agentInstructions)
	b.WriteString("\n\n")

	turnCount := c.ConversationTurnCount()
	if turnCount == 0 {
		b.WriteString("This is a new session with no prior turns.\n")
	} else {
		fmt.Fprintf(&b, "This session is continuing; %d prior turn(s) are retained below.\n", turnCount)
	}

	if conv := c.FormatConversationForPreamble(now); conv != "" {
		b.WriteString(conv)
	} else if summaries := c.FormatSummariesForPreamble(now); summaries != "" {
		b.WriteString(summaries)
	}

	if id, ok := c.ContainerID(); ok {
		fmt.Fprintf(&b, "\n## Container Context\nCommands currently run inside container %q.\nWARNING: this is a Linux container shell — use Linux-style commands only, not the host's.\n", id)
	}

	b.WriteString("\n## Current Environment\n")
	fmt.Fprintf(&b, "cwd=%s shell=%s os=%s user=%s host=%s\n", c.Cwd, c.Shell, c.OS, c.Username, c.Hostname)
	if c.GitBranch != nil {
		fmt.Fprintf(&b, "git branch: %s\n", *c.GitBranch)
	}
	if c.LastExitCode != nil {
		fmt.Fprintf(&b, "last exit code: %d\n", *c.LastExitCode)
	}

	if tail := recentOutputTail(c); tail != "" {
		b.WriteString("\n## Recent Output\n")
		b.WriteString(tail)
		b.WriteString("\n")
	}

	b.WriteString("\nUse query_history to recall the output of a command you already ran in this session rather than re-running it.\n")

	return b.String()
}

func recentOutputTail(c *termctx.Context) string {
	lines := c.RecentOutput()
	if len(lines) == 0 {
		return ""
	}
	start := 0
	if len(lines) > recentOutputTailLines {
		start = len(lines) - recentOutputTailLines
	}
	return strings.Join(lines[start:], "\n")
}
