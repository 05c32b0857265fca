package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "opsconduit.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
session:
  default_shell: /bin/zsh
  memory_enabled: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Session.DefaultShell != "/bin/zsh" {
		t.Errorf("DefaultShell = %q, want /bin/zsh", cfg.Session.DefaultShell)
	}
	if cfg.Session.ConfirmationTimeout == 0 {
		t.Error("expected ConfirmationTimeout default to be applied")
	}
	if len(cfg.Session.ErrorPhrases) == 0 {
		t.Error("expected ErrorPhrases default to be applied")
	}
}

func TestLoadValidatesClassifierCustomPatternLevel(t *testing.T) {
	path := writeConfig(t, `
classifier:
  custom_patterns:
    - pattern: "terraform destroy"
      description: "Infra teardown"
      level: "catastrophic"
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "custom_patterns[0].level") {
		t.Fatalf("expected custom_patterns[0].level error, got %v", err)
	}
}

func TestLoadValidatesLoggingLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: verbose
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected logging.level error, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("OPSCONDUIT_HOST", "127.0.0.1")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	path := writeConfig(t, `
server:
  host: 0.0.0.0
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host override, got %q", cfg.Server.Host)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-test-key" {
		t.Fatalf("expected anthropic api key override, got %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}
