// Package providers implements the Provider Adapter (C7, spec.md §4.7): a
// single LLMProvider contract behind which Anthropic, OpenAI-compatible, and
// Gemini backends are interchangeable from the orchestrator's point of view.
package providers

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker of a CompletionMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued request to invoke one of the tools advertised
// in a CompletionRequest.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult carries the outcome of executing a ToolCall back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Attachment is an inline, base64-or-URL image/document passed alongside a
// user message (vision-capable models only).
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// CompletionMessage is one turn of conversation history sent to the model.
type CompletionMessage struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Attachments []Attachment
}

// Tool describes one callable tool in provider-agnostic form; each provider
// adapter converts this into its own native tool-definition wire shape.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionRequest is one turn's worth of input to a provider.
type CompletionRequest struct {
	Model                string
	System               string
	Messages             []CompletionMessage
	Tools                []Tool
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// CompletionChunk is one unit of a streamed response. Exactly one of Text,
// Thinking, ToolCall, Error, or a Done/ThinkingStart/ThinkingEnd flag is set
// non-zero on any given chunk.
type CompletionChunk struct {
	Text          string
	ToolCall      *ToolCall
	Done          bool
	Error         error
	Thinking      string
	ThinkingStart bool
	ThinkingEnd   bool
	InputTokens   int
	OutputTokens  int
}

// Model describes one model a provider can serve.
type Model struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}

// LLMProvider is the contract every backend (Anthropic, OpenAI-compatible,
// Gemini) implements. Complete streams chunks on the returned channel until
// a Done or Error chunk is sent, at which point the channel is closed.
type LLMProvider interface {
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
	Name() string
	Models() []Model
	SupportsTools() bool
}
