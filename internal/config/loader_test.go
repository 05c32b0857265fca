package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opsconduit.json5")
	contents := `{
  // trailing commas and comments are fine in json5
  llm: {
    default_provider: "anthropic",
    providers: { anthropic: {} },
  },
}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("DefaultProvider = %q, want anthropic", cfg.LLM.DefaultProvider)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "credentials.yaml")
	if err := os.WriteFile(credsPath, []byte(`
llm:
  providers:
    anthropic:
      api_key: sk-test
`), 0o644); err != nil {
		t.Fatalf("WriteFile(credentials) error = %v", err)
	}

	mainPath := filepath.Join(dir, "opsconduit.yaml")
	if err := os.WriteFile(mainPath, []byte(`
$include: credentials.yaml
llm:
  default_provider: anthropic
`), 0o644); err != nil {
		t.Fatalf("WriteFile(main) error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.LLM.Providers["anthropic"].APIKey; got != "sk-test" {
		t.Fatalf("Providers[anthropic].APIKey = %q, want sk-test", got)
	}
}
