// Command opsconduit drives one terminal session through the Agent
// Orchestrator: a local shell under a PTY, a single LLM provider (with
// fallback), and a line-oriented read/print loop over stdio.
//
// # Basic Usage
//
// Start a session against the default config:
//
//	opsconduit run
//
// Point at a specific config file:
//
//	opsconduit run --config ./opsconduit.yaml
//
// # Environment Variables
//
//   - OPSCONDUIT_HOST, OPSCONDUIT_HTTP_PORT, OPSCONDUIT_METRICS_PORT
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	xterm "golang.org/x/term"

	"github.com/haasonsaas/opsconduit/internal/classifier"
	"github.com/haasonsaas/opsconduit/internal/config"
	"github.com/haasonsaas/opsconduit/internal/events"
	"github.com/haasonsaas/opsconduit/internal/observability"
	"github.com/haasonsaas/opsconduit/internal/orchestrator"
	"github.com/haasonsaas/opsconduit/internal/providers"
	"github.com/haasonsaas/opsconduit/internal/sessionmgr"
	"github.com/haasonsaas/opsconduit/internal/termctx"
	"github.com/haasonsaas/opsconduit/internal/terminal"
	"github.com/haasonsaas/opsconduit/pkg/protocol"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "opsconduit:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "opsconduit",
		Short:        "opsconduit - a terminal agent orchestrator",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive agent session against a local shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "opsconduit.yaml", "Path to YAML/JSON5 configuration file")
	return cmd
}

func runSession(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()

	provider, model, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	cls := classifier.New()
	for _, p := range cfg.Classifier.CustomPatterns {
		if err := cls.AddPattern(p.Pattern, p.Description, parseLevel(p.Level)); err != nil {
			return fmt.Errorf("classifier.custom_patterns: %w", err)
		}
	}

	term, err := terminal.NewLocal(ctx, cfg.Session.DefaultShell, "", nil)
	if err != nil {
		return fmt.Errorf("start local terminal: %w", err)
	}
	defer term.Close()

	cwd, _ := os.Getwd()
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	tctx := termctx.New(cwd, cfg.Session.DefaultShell, runtime.GOOS, username, hostname)
	if len(cfg.Session.ErrorPhrases) > 0 {
		tctx.SetErrorPhrases(cfg.Session.ErrorPhrases)
	}

	sink, eventCh := events.New(256)
	session := sessionmgr.NewAgentSession(term, tctx, cls, sink)

	manager := sessionmgr.NewManager()
	terminalID := uuid.NewString()
	manager.AddWithTerminal(session, terminalID)
	defer manager.Remove(session.ID)

	loop := orchestrator.New(provider, model, cfg.Session.MemoryEnabled)
	loop.Logger = logger
	loop.Metrics = metrics

	pending := newPendingConfirmation()
	go printEvents(eventCh, pending)

	fmt.Fprintf(os.Stdout, "opsconduit session %s ready (%s via %s). Type a request, or Ctrl-D to exit.\n", session.ID, model, provider.Name())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "!" {
			if err := runPassthrough(session.Terminal, os.Stdin, os.Stdout); err != nil {
				fmt.Fprintln(os.Stderr, "opsconduit: passthrough:", err)
			}
			continue
		}

		if confirmationID, ok := pending.take(); ok {
			decision := sessionmgr.DecisionDeny
			if isAffirmative(line) {
				decision = sessionmgr.DecisionApprove
			}
			if err := session.ResolveConfirmation(confirmationID, decision); err != nil {
				fmt.Fprintln(os.Stderr, "opsconduit: confirmation already resolved:", err)
			}
			continue
		}

		queryID := uuid.NewString()
		if err := loop.RunTurn(ctx, session, queryID, line); err != nil {
			if err == sessionmgr.ErrSessionBusy {
				fmt.Fprintln(os.Stderr, "opsconduit: a turn is already running, please wait")
				continue
			}
			return err
		}
	}
	return scanner.Err()
}

// runPassthrough puts stdin into raw mode and forwards every typed byte
// straight to sess's shared PTY/SSH channel (spec.md §5's "shared channel
// between interactive user typing and agent-driven execution"), restoring
// the terminal on exit. Ctrl-] (0x1d) ends passthrough and returns control
// to the line-oriented request loop.
func runPassthrough(sess *terminal.Session, stdin *os.File, stdout io.Writer) error {
	fd := int(stdin.Fd())
	if !xterm.IsTerminal(fd) {
		fmt.Fprintln(stdout, "opsconduit: stdin is not a terminal, cannot enter raw passthrough mode")
		return nil
	}
	oldState, err := xterm.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer xterm.Restore(fd, oldState)

	fmt.Fprint(stdout, "\r\nentering raw passthrough: keystrokes go straight to the shared terminal, Ctrl-] to exit\r\n")
	buf := make([]byte, 256)
	for {
		n, err := stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if idx := bytes.IndexByte(chunk, 0x1d); idx >= 0 {
				if idx > 0 {
					if werr := sess.Write(chunk[:idx]); werr != nil {
						return werr
					}
				}
				return nil
			}
			if werr := sess.Write(chunk); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// pendingConfirmation tracks the single outstanding ConfirmationRequired id,
// if any, so the stdin loop knows whether the next line is a new request or
// an answer to a dangerous-command prompt.
type pendingConfirmation struct {
	ch chan string
}

func newPendingConfirmation() *pendingConfirmation {
	return &pendingConfirmation{ch: make(chan string, 1)}
}

func (p *pendingConfirmation) set(id string) {
	select {
	case p.ch <- id:
	default:
	}
}

func (p *pendingConfirmation) take() (string, bool) {
	select {
	case id := <-p.ch:
		return id, true
	default:
		return "", false
	}
}

func isAffirmative(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "approve", "allow":
		return true
	default:
		return false
	}
}

// printEvents renders the orchestrator's event stream to stdout and records
// any ConfirmationRequired id so the stdin loop can collect the answer.
func printEvents(eventCh <-chan protocol.Event, pending *pendingConfirmation) {
	for event := range eventCh {
		switch e := event.(type) {
		case protocol.Thinking:
			fmt.Println("... thinking")
		case protocol.ResponseChunk:
			fmt.Print(e.Content)
		case protocol.CommandProposed:
			fmt.Printf("\n[%s] %s\n", strings.ToUpper(e.DangerLevel), e.Command)
		case protocol.ConfirmationRequired:
			fmt.Printf("Run %q? [y/N] ", e.Command)
			pending.set(e.ConfirmationID)
		case protocol.CommandStarted:
			fmt.Printf("$ %s\n", e.Command)
		case protocol.CommandOutput:
			fmt.Print(e.Payload)
		case protocol.CommandCompleted:
			fmt.Println()
		case protocol.ToolInvoked:
			// query_state/query_history calls are silent; execute_shell
			// already narrates itself via CommandProposed/Started/Output.
		case protocol.ToolCompleted:
		case protocol.QueryCompleted:
			fmt.Printf("\n[%s]\n", e.Status)
		case protocol.Error:
			fmt.Fprintf(os.Stderr, "error: %s (%s)\n", e.Message, e.ErrorType)
		}
	}
}

func parseLevel(level string) classifier.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "moderate":
		return classifier.Moderate
	case "dangerous":
		return classifier.Dangerous
	case "critical":
		return classifier.Critical
	default:
		return classifier.Safe
	}
}

// buildProvider constructs the default provider from cfg.LLM, wrapping it in
// a FallbackProvider over cfg.LLM.FallbackChain when one is configured.
func buildProvider(cfg *config.Config) (providers.LLMProvider, string, error) {
	primary, err := newNamedProvider(cfg, cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, "", err
	}

	var fallbacks []providers.LLMProvider
	for _, name := range cfg.LLM.FallbackChain {
		p, err := newNamedProvider(cfg, name)
		if err != nil {
			return nil, "", fmt.Errorf("fallback_chain %q: %w", name, err)
		}
		fallbacks = append(fallbacks, p)
	}

	model := cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel
	if len(fallbacks) == 0 {
		return primary, model, nil
	}
	return providers.NewFallbackProvider(primary, fallbacks...), model, nil
}

func newNamedProvider(cfg *config.Config, name string) (providers.LLMProvider, error) {
	entry := cfg.LLM.Providers[name]
	switch strings.ToLower(name) {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       entry.APIKey,
			DefaultModel: entry.DefaultModel,
		})
	case "gemini":
		return providers.NewGeminiProvider(context.Background(), providers.GeminiConfig{
			APIKey:       entry.APIKey,
			DefaultModel: entry.DefaultModel,
		})
	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" && cfg.LLM.AutoDiscover.Ollama.Enabled {
			for _, probe := range cfg.LLM.AutoDiscover.Ollama.ProbeLocations {
				baseURL = probe
				break
			}
		}
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      baseURL,
			DefaultModel: entry.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
