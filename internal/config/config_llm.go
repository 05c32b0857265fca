package config

// LLMConfig configures the Provider Adapter (C7): which backend is the
// default, per-provider credentials/endpoints, and the order to fall back
// through when the default provider's stream fails.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain lists provider IDs to try, in order, if the default
	// provider's Complete call fails outright (not: if the model declines
	// to use a tool). Example: ["openai", "gemini"].
	FallbackChain []string `yaml:"fallback_chain"`

	// AutoDiscover configures local provider discovery.
	AutoDiscover LLMAutoDiscoverConfig `yaml:"auto_discover"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// LLMAutoDiscoverConfig configures local provider discovery.
type LLMAutoDiscoverConfig struct {
	Ollama OllamaDiscoverConfig `yaml:"ollama"`
}

// OllamaDiscoverConfig lets a session pick up a locally running Ollama
// daemon without an explicit base_url entry under llm.providers.ollama.
type OllamaDiscoverConfig struct {
	Enabled        bool     `yaml:"enabled"`
	ProbeLocations []string `yaml:"probe_locations"`
}
