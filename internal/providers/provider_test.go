package providers

import "testing"

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewAnthropicProviderDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
	if !p.SupportsTools() {
		t.Error("SupportsTools() = false, want true")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() returned no models")
	}
	if p.defaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("defaultModel = %q, want claude-sonnet-4-20250514", p.defaultModel)
	}
}

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewOllamaProviderDefaultsBaseURL(t *testing.T) {
	p, err := NewOllamaProvider(OllamaConfig{})
	if err != nil {
		t.Fatalf("NewOllamaProvider: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name() = %q, want ollama", p.Name())
	}
	if p.defaultModel != "llama3.1" {
		t.Errorf("defaultModel = %q, want llama3.1", p.defaultModel)
	}
}

func TestOpenAICompatConvertTools(t *testing.T) {
	p, _ := NewOllamaProvider(OllamaConfig{})
	tools := []Tool{{Name: "execute_shell", Description: "run a command", Schema: []byte(`{"type":"object","properties":{"command":{"type":"string"}}}`)}}
	converted := p.convertTools(tools)
	if len(converted) != 1 {
		t.Fatalf("convertTools returned %d tools, want 1", len(converted))
	}
	if converted[0].Function.Name != "execute_shell" {
		t.Errorf("Function.Name = %q, want execute_shell", converted[0].Function.Name)
	}
}
