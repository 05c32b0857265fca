package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
)

// QueryStateParams is the query_state argument shape (spec.md §4.4): a pure
// lookup against the Terminal Context, never executing a command.
type QueryStateParams struct {
	QueryType string `json:"query_type" jsonschema:"required,enum=cwd,enum=env,enum=git_branch,enum=git_status,enum=recent_output,enum=all,description=Which slice of terminal state to report."`
}

// QueryState reports the session's current terminal identity (cwd, shell,
// os, username, hostname, git branch, container nesting, last exit code) or
// a narrower slice of it, per query_type.
type QueryState struct {
	session   *sessionmgr.AgentSession
	validator *validator
}

func NewQueryState(session *sessionmgr.AgentSession) (*QueryState, error) {
	v, err := newValidator(generateSchema(QueryStateParams{}))
	if err != nil {
		return nil, err
	}
	return &QueryState{session: session, validator: v}, nil
}

func (t *QueryState) Name() string { return "query_state" }
func (t *QueryState) Description() string {
	return "Report the current terminal state: cwd, env, git_branch, git_status, recent_output, or all of the above."
}
func (t *QueryState) Schema() json.RawMessage { return generateSchema(QueryStateParams{}) }

func (t *QueryState) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if err := t.validator.validate(params); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	var args QueryStateParams
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	c := t.session.Context
	queryType := strings.ToLower(strings.TrimSpace(args.QueryType))
	if queryType == "" {
		queryType = "all"
	}

	result := map[string]any{}
	success := true

	switch queryType {
	case "cwd":
		result["cwd"] = c.Cwd
	case "env":
		result["shell"] = c.Shell
		result["os"] = c.OS
		result["username"] = c.Username
		result["hostname"] = c.Hostname
	case "git_branch":
		if c.GitBranch != nil {
			result["git_branch"] = *c.GitBranch
		} else {
			result["git_branch"] = nil
			success = false
		}
	case "git_status":
		if entry, ok := c.FindCommandOutput("git status"); ok {
			result["git_status"] = entry.Output
		} else {
			result["git_status"] = nil
			success = false
			result["note"] = "no 'git status' run recorded in this session; run it via execute_shell first"
		}
	case "recent_output":
		result["recent_output"] = c.RecentOutput()
	case "all":
		result = fullState(c)
	default:
		return errorResult(fmt.Sprintf("unknown query_type %q", args.QueryType)), nil
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode state: %v", err)), nil
	}
	return &ToolResult{Content: string(payload), IsError: !success}, nil
}

// fullState renders the same full snapshot query_state always returned
// before query_type was added, kept as the "all" case.
func fullState(c *termctx.Context) map[string]any {
	state := map[string]any{
		"cwd":      c.Cwd,
		"shell":    c.Shell,
		"os":       c.OS,
		"username": c.Username,
		"hostname": c.Hostname,
	}
	if c.GitBranch != nil {
		state["git_branch"] = *c.GitBranch
	}
	if c.LastExitCode != nil {
		state["last_exit_code"] = *c.LastExitCode
	}
	if id, ok := c.ContainerID(); ok {
		state["container_id"] = id
	}
	return state
}
