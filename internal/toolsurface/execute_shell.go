package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/opsconduit/internal/exec"
	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
	"github.com/haasonsaas/opsconduit/pkg/protocol"
)

// ExecuteShellParams is the execute_shell argument shape, reflected into a
// JSON Schema via invopop/jsonschema and validated on every call via
// santhosh-tekuri/jsonschema/v5.
type ExecuteShellParams struct {
	Command string `json:"command" jsonschema:"required,description=The shell command to run."`
}

// ExecuteShell runs one command on the session's shared PTY/SSH channel,
// mediating every invocation through the danger classifier and, when
// required, a human confirmation round-trip (spec.md §4.4, §4.6).
type ExecuteShell struct {
	session   *sessionmgr.AgentSession
	queryID   string
	validator *validator
}

// NewExecuteShell binds the tool to one session and the query it is being
// invoked within (queryID threads through every event this tool emits).
func NewExecuteShell(session *sessionmgr.AgentSession, queryID string) (*ExecuteShell, error) {
	schema := generateSchema(ExecuteShellParams{})
	v, err := newValidator(schema)
	if err != nil {
		return nil, err
	}
	return &ExecuteShell{session: session, queryID: queryID, validator: v}, nil
}

func (t *ExecuteShell) Name() string { return "execute_shell" }

func (t *ExecuteShell) Description() string {
	return "Execute a shell command on the user's terminal. Dangerous commands require explicit human confirmation before they run."
}

func (t *ExecuteShell) Schema() json.RawMessage { return generateSchema(ExecuteShellParams{}) }

func (t *ExecuteShell) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if err := t.validator.validate(params); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	var args ExecuteShellParams
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return errorResult("command is required"), nil
	}
	// A command embedding a control character (e.g. a smuggled newline) could
	// classify on one visible line while executing a second, unclassified one
	// on the shared PTY. Reject it before it ever reaches the classifier.
	if strings.ContainsRune(command, 0) || exec.ControlChars.MatchString(command) {
		return errorResult("command contains a null byte or control character"), nil
	}

	classification := t.session.Classifier.Classify(command)

	t.session.Sink.Emit(ctx, protocol.CommandProposed{
		Base:                 protocol.Base{Type: protocol.EventCommandProposed, SessionID: t.session.ID, QueryID: t.queryID},
		Command:              command,
		DangerLevel:          classification.Level.String(),
		RequiresConfirmation: classification.RequiresConfirmation(),
		AffectedResources:    classification.AffectedResources,
	})

	if classification.RequiresConfirmation() {
		approved, err := t.confirm(ctx, command)
		if err != nil {
			return errorResult(fmt.Sprintf("confirmation error: %v", err)), nil
		}
		if !approved {
			return errorResult("User rejected the command, or it timed out waiting for confirmation"), nil
		}
	}

	blockID := sessionmgr.NextBlockID()
	t.session.Sink.Emit(ctx, protocol.CommandStarted{
		Base:    protocol.Base{Type: protocol.EventCommandStarted, SessionID: t.session.ID, QueryID: t.queryID},
		BlockID: blockID,
		Command: command,
	})

	result, err := t.session.Terminal.RunCaptured(ctx, command, t.session.Context.Cwd)
	if err != nil {
		return errorResult(fmt.Sprintf("execution error: %v", err)), nil
	}

	// CommandOutput carries the display copy (echo/prompt trimmed, vt100
	// replayed); the raw copy is what reaches the LLM and command_history
	// (spec.md §4.3 step 6: "the raw copy is authoritative for
	// command_history").
	t.session.Sink.Emit(ctx, protocol.CommandOutput{
		Base:    protocol.Base{Type: protocol.EventCommandOutput, SessionID: t.session.ID, QueryID: t.queryID},
		BlockID: blockID,
		Payload: result.Display,
	})

	// A raw PTY capture never surfaces the remote process's exit code
	// directly, so success there is inferred from output content alone
	// (spec.md §9 open question); the direct-subprocess fallback (§4.3) does
	// observe a real exit status, and ComputeSuccess treats a non-zero one
	// as failure outright regardless of output content.
	success := t.session.Context.ComputeSuccess(result.ExitCode, result.Raw)
	t.session.Context.AddCommandResult(termctx.CommandHistoryEntry{
		ID:          uuid.NewString(),
		Command:     command,
		Output:      result.Raw,
		ExitCode:    result.ExitCode,
		TimestampMs: termctx.Now(),
		DurationMs:  result.DurationMs,
	})

	// A successful container exec or exit shifts the context's notion of
	// cwd/os/shell for every subsequent turn (spec.md §4.4 step 7); this is
	// evaluated after the command actually ran, not before, so a rejected
	// or failed exec never flips the container state.
	if id, runtime, shell, ok := exec.ContainerEntry(command); ok {
		t.session.Context.EnterContainer(id, runtime, shell)
	} else if t.session.Context.InContainer() && exec.IsContainerExit(command) {
		t.session.Context.ExitContainer()
	}

	t.session.Sink.Emit(ctx, protocol.CommandCompleted{
		Base:       protocol.Base{Type: protocol.EventCommandCompleted, SessionID: t.session.ID, QueryID: t.queryID},
		BlockID:    blockID,
		DurationMs: result.DurationMs,
	})

	if !success {
		return &ToolResult{Content: result.Raw, IsError: true}, nil
	}
	return &ToolResult{Content: result.Raw}, nil
}

func (t *ExecuteShell) confirm(ctx context.Context, command string) (bool, error) {
	confirmationID := uuid.NewString()
	t.session.Sink.Emit(ctx, protocol.ConfirmationRequired{
		Base:           protocol.Base{Type: protocol.EventConfirmationRequired, SessionID: t.session.ID, QueryID: t.queryID},
		ConfirmationID: confirmationID,
		Command:        command,
		RiskLevel:      "see danger_level on the preceding CommandProposed event",
	})

	decision, err := t.session.RequestConfirmation(ctx, confirmationID)
	if err != nil {
		return false, err
	}
	return decision == sessionmgr.DecisionApprove, nil
}
