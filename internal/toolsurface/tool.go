// Package toolsurface implements the Tool Surface (C4, spec.md §4.4):
// execute_shell, query_state, and query_history, the three tools every
// provider adapter advertises to the model. Grounded on an
// exec.ExecTool shape (params struct, Name/Description/Schema/Execute)
// and generalized to route through the danger classifier, confirmation
// mailbox, and terminal multiplexer this module builds.
package toolsurface

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/opsconduit/internal/providers"
)

// Tool is the executable contract every tool in this package implements.
// It is distinct from providers.Tool (which is just the wire descriptor a
// provider adapter sends to the model); ToProviderTool bridges the two.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Content string
	IsError bool
}

// ToProviderTool converts a Tool into the descriptor shape a
// providers.CompletionRequest carries.
func ToProviderTool(t Tool) providers.Tool {
	return providers.Tool{Name: t.Name(), Description: t.Description(), Schema: t.Schema()}
}

func errorResult(msg string) *ToolResult {
	return &ToolResult{Content: msg, IsError: true}
}
