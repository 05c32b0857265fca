package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAICompatProvider pointed at the real
// OpenAI API.
type OpenAIConfig struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// OllamaConfig configures an OpenAICompatProvider pointed at a local Ollama
// daemon, which speaks the same chat-completions wire format under
// /v1 and accepts any non-empty bearer token.
type OllamaConfig struct {
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// OpenAICompatProvider adapts any OpenAI chat-completions-compatible
// backend (OpenAI itself, or a local Ollama daemon) to LLMProvider.
type OpenAICompatProvider struct {
	client       *openai.Client
	name         string
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	models       []Model
}

// NewOpenAIProvider builds a provider backed by api.openai.com.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAICompatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	return &OpenAICompatProvider{
		client:       openai.NewClient(cfg.APIKey),
		name:         "openai",
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
		models: []Model{
			{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
			{ID: "gpt-4", Name: "GPT-4", ContextSize: 8192, SupportsVision: false},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
		},
	}, nil
}

// NewOllamaProvider builds a provider backed by a local Ollama daemon's
// OpenAI-compatible endpoint (ollama serve exposes /v1/chat/completions).
func NewOllamaProvider(cfg OllamaConfig) (*OpenAICompatProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "llama3.1"
	}

	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = baseURL

	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		name:         "ollama",
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
		models: []Model{
			{ID: "llama3.1", Name: "Llama 3.1", ContextSize: 128000},
			{ID: "qwen2.5-coder", Name: "Qwen2.5 Coder", ContextSize: 32768},
		},
	}, nil
}

func (p *OpenAICompatProvider) Name() string       { return p.name }
func (p *OpenAICompatProvider) Models() []Model     { return p.models }
func (p *OpenAICompatProvider) SupportsTools() bool { return true }

func (p *OpenAICompatProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// Complete streams a chat completion, retrying stream-open failures with
// linear backoff (delay * attempt), as the rest of this module's adapters do.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to convert messages: %w", p.name, err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.getModel(req.Model),
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			break
		}
		if !isRetryableOpenAIError(err) {
			return nil, fmt.Errorf("%s: non-retryable error: %w", p.name, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", p.name, errMaxRetriesExceeded, err)
	}

	chunks := make(chan *CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAICompatProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*ToolCall)
	flush := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &CompletionChunk{Done: true}
				return
			}
			chunks <- &CompletionChunk{Error: err, Done: true}
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			chunks <- &CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func (p *OpenAICompatProvider) convertMessages(messages []CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
				})
			}
			result = append(result, oaiMsg)

		default: // user, system
			result = append(result, p.convertUserMessage(msg))
		}
	}
	return result, nil
}

func (p *OpenAICompatProvider) convertUserMessage(msg CompletionMessage) openai.ChatCompletionMessage {
	oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(msg.Attachments) == 0 {
		oaiMsg.Content = msg.Content
		return oaiMsg
	}

	var parts []openai.ChatMessagePart
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Content})
	}
	for _, att := range msg.Attachments {
		url := att.URL
		if url == "" && att.Data != "" {
			url = fmt.Sprintf("data:%s;base64,%s", att.MediaType, att.Data)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
		})
	}
	oaiMsg.MultiContent = parts
	return oaiMsg
}

func (p *OpenAICompatProvider) convertTools(tools []Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
