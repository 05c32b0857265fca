package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
)

const defaultHistoryLimit = 10

// QueryHistoryParams is the query_history argument shape (spec.md §4.4):
// query_type selects one of three distinct lookup algorithms; value is
// required by search and get_output, ignored by list.
type QueryHistoryParams struct {
	QueryType string `json:"query_type" jsonschema:"required,enum=list,enum=search,enum=get_output,description=list: recent commands. search: substring match. get_output: recall one command's output."`
	Value     string `json:"value,omitempty" jsonschema:"description=Search term (search) or exact/substring command (get_output)."`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Maximum number of entries to return (default 10)."`
}

// QueryHistory lets the model recall earlier command output without
// re-running the command, directly addressing the "use query_history to
// recall command outputs" guidance baked into the conversation preamble.
type QueryHistory struct {
	session   *sessionmgr.AgentSession
	validator *validator
}

func NewQueryHistory(session *sessionmgr.AgentSession) (*QueryHistory, error) {
	v, err := newValidator(generateSchema(QueryHistoryParams{}))
	if err != nil {
		return nil, err
	}
	return &QueryHistory{session: session, validator: v}, nil
}

func (t *QueryHistory) Name() string { return "query_history" }

func (t *QueryHistory) Description() string {
	return "Recall this session's command history: list recent commands, search by substring, or get one command's captured output."
}

func (t *QueryHistory) Schema() json.RawMessage { return generateSchema(QueryHistoryParams{}) }

func (t *QueryHistory) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if err := t.validator.validate(params); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	var args QueryHistoryParams
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	switch strings.ToLower(strings.TrimSpace(args.QueryType)) {
	case "list":
		return t.list(limit), nil
	case "search":
		if strings.TrimSpace(args.Value) == "" {
			return errorCountResult("search requires a non-empty value"), nil
		}
		return t.search(args.Value, limit), nil
	case "get_output":
		if strings.TrimSpace(args.Value) == "" {
			return errorCountResult("get_output requires a non-empty value"), nil
		}
		return t.getOutput(args.Value), nil
	default:
		return errorCountResult(fmt.Sprintf("unknown query_type %q", args.QueryType)), nil
	}
}

// list renders the most recent `limit` entries as one-line summaries, most
// recent first (spec.md §4.4: "[status] command (exit, duration) →
// first_line_preview(50)").
func (t *QueryHistory) list(limit int) *ToolResult {
	c := t.session.Context
	entries := c.SearchCommandHistory("") // all entries, reverse-chronological
	if len(entries) > limit {
		entries = entries[:limit]
	}

	summaries := make([]string, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, summaryLine(c, e))
	}

	return countedResult(summaries, len(summaries), true, "")
}

// search returns entries whose command or output contains value (plain
// substring, case-sensitive), up to limit, each with a 200-byte output
// preview (spec.md §4.4).
func (t *QueryHistory) search(value string, limit int) *ToolResult {
	matches := t.session.Context.SearchCommandHistory(value)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]map[string]any, 0, len(matches))
	for _, e := range matches {
		results = append(results, map[string]any{
			"command":         e.Command,
			"output_preview":  truncatePreview(e.Output, 200),
			"timestamp_ms":    e.TimestampMs,
			"duration_ms":     e.DurationMs,
		})
	}

	payload, err := json.MarshalIndent(map[string]any{"entries": results, "count": len(results)}, "", "  ")
	if err != nil {
		return errorCountResult(fmt.Sprintf("encode history: %v", err))
	}
	return &ToolResult{Content: string(payload)}
}

// getOutput finds the most recent exact match for value; failing that, a
// unique substring match; failing that, returns a disambiguation list of up
// to 5 candidates (spec.md §4.4).
func (t *QueryHistory) getOutput(value string) *ToolResult {
	c := t.session.Context
	if entry, ok := c.FindCommandOutput(value); ok {
		return oneEntryResult(entry)
	}

	candidates := c.SearchCommandHistory(value)
	switch len(candidates) {
	case 0:
		return countedResult(nil, 0, false, fmt.Sprintf("no command matching %q found in history", value))
	case 1:
		return oneEntryResult(candidates[0])
	default:
		if len(candidates) > 5 {
			candidates = candidates[:5]
		}
		var options []string
		for _, e := range candidates {
			options = append(options, e.Command)
		}
		payload, err := json.MarshalIndent(map[string]any{
			"ambiguous": true,
			"candidates": options,
			"count":      len(options),
		}, "", "  ")
		if err != nil {
			return errorCountResult(fmt.Sprintf("encode history: %v", err))
		}
		return &ToolResult{Content: string(payload), IsError: true}
	}
}

func oneEntryResult(e termctx.CommandHistoryEntry) *ToolResult {
	payload, err := json.MarshalIndent(map[string]any{
		"command":      e.Command,
		"output":       e.Output,
		"timestamp_ms": e.TimestampMs,
		"duration_ms":  e.DurationMs,
	}, "", "  ")
	if err != nil {
		return errorCountResult(fmt.Sprintf("encode history: %v", err))
	}
	return &ToolResult{Content: string(payload)}
}

func summaryLine(c *termctx.Context, e termctx.CommandHistoryEntry) string {
	status := "[OK]"
	if !c.ComputeSuccess(e.ExitCode, e.Output) {
		status = "[FAILED]"
	}
	exit := 0
	if e.ExitCode != nil {
		exit = *e.ExitCode
	}
	return fmt.Sprintf("%s %s (exit=%d, %dms) -> %s", status, e.Command, exit, e.DurationMs, truncatePreview(firstLine(e.Output), 50))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncatePreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func countedResult(summaries []string, count int, success bool, errMsg string) *ToolResult {
	body := map[string]any{"entries": summaries, "count": count, "success": success}
	if errMsg != "" {
		body["error"] = errMsg
	}
	payload, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return errorCountResult(fmt.Sprintf("encode history: %v", err))
	}
	return &ToolResult{Content: string(payload), IsError: !success}
}

func errorCountResult(msg string) *ToolResult {
	return countedResult(nil, 0, false, msg)
}
