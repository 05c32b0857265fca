package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig configures a GeminiProvider. Auth to the Gemini API is via
// API key rather than OAuth, matching the REST surface this adapter targets.
type GeminiConfig struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// GeminiProvider adapts Google's Gemini API to LLMProvider.
type GeminiProvider struct {
	client       *genai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewGeminiProvider builds a provider from config.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Models mirrors the curated catalog, including the 1M/2M context windows
// Gemini 2.0/1.5 advertise.
func (p *GeminiProvider) Models() []Model {
	return []Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1048576, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1048576, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2097152, SupportsVision: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1048576, SupportsVision: true},
	}
}

func (p *GeminiProvider) SupportsTools() bool { return true }

func (p *GeminiProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// Complete streams a completion via GenerateContentStream, retrying
// stream-open failures with exponential backoff like the other adapters.
func (p *GeminiProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to convert messages: %w", err)
	}

	genConfig := &genai.GenerateContentConfig{}
	if req.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		tools, convErr := p.convertTools(req.Tools)
		if convErr != nil {
			return nil, fmt.Errorf("gemini: failed to convert tools: %w", convErr)
		}
		genConfig.Tools = tools
	}

	model := p.getModel(req.Model)

	var iter func(func(*genai.GenerateContentResponse, error) bool)
	err = openWithRetry(ctx, p.maxRetries, p.retryDelay, func(ctx context.Context) error {
		iter = p.client.Models.GenerateContentStream(ctx, model, contents, genConfig)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w: %w", errMaxRetriesExceeded, err)
	}

	chunks := make(chan *CompletionChunk)
	go p.processStream(iter, chunks)
	return chunks, nil
}

func (p *GeminiProvider) processStream(iter func(func(*genai.GenerateContentResponse, error) bool), chunks chan<- *CompletionChunk) {
	defer close(chunks)

	var inputTokens, outputTokens int
	iter(func(resp *genai.GenerateContentResponse, err error) bool {
		if err != nil {
			chunks <- &CompletionChunk{Error: fmt.Errorf("gemini: stream error: %w", err)}
			return false
		}
		if resp.UsageMetadata != nil {
			inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					chunks <- &CompletionChunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					input, marshalErr := json.Marshal(part.FunctionCall.Args)
					if marshalErr != nil {
						continue
					}
					chunks <- &CompletionChunk{ToolCall: &ToolCall{
						ID:    part.FunctionCall.Name,
						Name:  part.FunctionCall.Name,
						Input: input,
					}}
				}
			}
		}
		return true
	})

	chunks <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func (p *GeminiProvider) convertMessages(messages []CompletionMessage) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
		}
		for _, tr := range msg.ToolResults {
			parts = append(parts, genai.NewPartFromFunctionResponse(tr.ToolCallID, map[string]any{"content": tr.Content}))
		}

		if len(parts) == 0 {
			continue
		}
		result = append(result, &genai.Content{Role: role, Parts: parts})
	}
	return result, nil
}

func (p *GeminiProvider) convertTools(tools []Tool) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema genai.Schema
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}
