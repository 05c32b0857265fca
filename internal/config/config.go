// Package config loads and validates the orchestrator's configuration:
// which provider/model to talk to, the terminal session defaults, the
// classifier's custom patterns, and logging. Follows a
// Config/Load/applyDefaults/validateConfig shape, trimmed from a much
// larger product surface (gateway, channels, marketplace, RAG, cron,
// etc. — none of which this core has a component for) down to the Agent
// Orchestrator's own concerns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure for the orchestrator.
type Config struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	LLM        LLMConfig        `yaml:"llm"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the process's own listeners (health/metrics);
// the Agent Orchestrator itself speaks to its UI over stdio/a local
// socket, not HTTP, so only the observability ports live here.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// SessionConfig configures defaults applied to every AgentSession created
// by the Session Manager.
type SessionConfig struct {
	// DefaultShell is the shell a new local PTY session launches.
	DefaultShell string `yaml:"default_shell"`

	// MemoryEnabled toggles the INIT-step input-summary call (spec.md §4.8
	// step 1, §9 open question (a)).
	MemoryEnabled bool `yaml:"memory_enabled"`

	// ErrorPhrases overrides the default substring list ComputeSuccess uses
	// to flag a command as failed despite a zero/unknown exit code.
	ErrorPhrases []string `yaml:"error_phrases"`

	// ConfirmationTimeout overrides how long a ConfirmationRequired event
	// waits for a human decision before resolving to deny.
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
}

// ClassifierPatternConfig is one custom danger pattern layered on top of
// the classifier's built-in sets (spec.md §4.1).
type ClassifierPatternConfig struct {
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
	Level       string `yaml:"level"`
}

type ClassifierConfig struct {
	CustomPatterns []ClassifierPatternConfig `yaml:"custom_patterns"`
}

// LoggingConfig configures the structured logger (internal/observability).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, env-expands, decodes, defaults, and validates a config file.
// Unknown fields are rejected so a typo in the config surfaces immediately
// rather than silently loading defaults. YAML and JSON5 are both accepted
// (by file extension, see parseRawBytes); $include directives are resolved
// before decoding, so a deployment can split provider credentials into a
// separate included file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Session.DefaultShell == "" {
		cfg.Session.DefaultShell = "/bin/bash"
	}
	if cfg.Session.ConfirmationTimeout == 0 {
		cfg.Session.ConfirmationTimeout = 300 * time.Second
	}
	if len(cfg.Session.ErrorPhrases) == 0 {
		cfg.Session.ErrorPhrases = []string{
			"error:", "failed", "no such file", "permission denied", "command not found",
		}
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("OPSCONDUIT_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("OPSCONDUIT_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("OPSCONDUIT_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		setProviderAPIKey(cfg, "anthropic", value)
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		setProviderAPIKey(cfg, "openai", value)
	}
	if value := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); value != "" {
		setProviderAPIKey(cfg, "gemini", value)
	}
}

func setProviderAPIKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.LLM.Providers[provider]
	if entry.APIKey == "" {
		entry.APIKey = key
	}
	cfg.LLM.Providers[provider] = entry
}

// ConfigValidationError reports every validation issue found at once,
// rather than stopping at the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Session.ConfirmationTimeout < 0 {
		issues = append(issues, "session.confirmation_timeout must be >= 0")
	}

	for i, p := range cfg.Classifier.CustomPatterns {
		if strings.TrimSpace(p.Pattern) == "" {
			issues = append(issues, fmt.Sprintf("classifier.custom_patterns[%d].pattern is required", i))
		}
		if !validDangerLevel(p.Level) {
			issues = append(issues, fmt.Sprintf("classifier.custom_patterns[%d].level must be \"safe\", \"moderate\", \"dangerous\", or \"critical\"", i))
		}
	}

	if level := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
		default:
			issues = append(issues, "logging.level must be \"debug\", \"info\", \"warn\", or \"error\"")
		}
	}
	if format := strings.ToLower(strings.TrimSpace(cfg.Logging.Format)); format != "" {
		switch format {
		case "json", "text":
		default:
			issues = append(issues, "logging.format must be \"json\" or \"text\"")
		}
	}

	if pluginIssues := pluginValidationIssues(cfg); len(pluginIssues) > 0 {
		issues = append(issues, pluginIssues...)
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validDangerLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "safe", "moderate", "dangerous", "critical":
		return true
	default:
		return false
	}
}
