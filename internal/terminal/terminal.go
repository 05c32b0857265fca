// Package terminal implements the PTY/SSH Multiplexer (C3, spec.md §4.3):
// one shared read/write channel per session, multiplexed between a human
// typing interactively and the orchestrator driving commands, with output
// capture for the latter. Grounded on a WebSocket PTY bridge pattern
// (github.com/creack/pty + a single reader/single writer goroutine
// pair), generalized to a local/remote-agnostic Session and extended with
// the agent-driven capture protocol SPEC_FULL.md §4.3 describes.
package terminal

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/opsconduit/internal/vtscreen"
)

// ErrClosed is returned by Write/Resize after Close.
var ErrClosed = errors.New("terminal: session closed")

// ErrCaptureInProgress is returned when RunCaptured is called while another
// capture is already in flight on the same session.
var ErrCaptureInProgress = errors.New("terminal: capture already in progress")

// idleWindow and ceiling bound the output-capture heuristic: a command is
// considered finished once idleWindow has elapsed with no new output, and
// is force-terminated at ceiling regardless (spec.md §4.3 edge case).
const (
	idleWindow = 2 * time.Second
	ceiling    = 30 * time.Second
)

// Writer is the minimal transport contract a Session drives: a PTY master
// (local) or an SSH session's stdin/stdout pipe pair (remote).
type Writer interface {
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
}

// Session multiplexes one underlying Writer between interactive typing and
// agent-issued commands. At most one output listener may be registered at a
// time; notifyOutput is try-send, never blocking the reader goroutine.
type Session struct {
	mu sync.Mutex

	writer Writer
	reader <-chan []byte // delivered by the transport-specific reader goroutine

	listener chan<- []byte

	// broadcast is notify_output's "publish to the UI event stream" half
	// (spec.md §4.3): every chunk the reader goroutine produces is handed to
	// it, whether or not a transient capture listener is also registered.
	// Set once via SetBroadcast before the session sees any traffic.
	broadcast func(chunk []byte)

	closed bool

	captureMu sync.Mutex
	capturing bool
}

// New wraps a transport's Writer and output channel into a Session. The
// output channel is expected to be closed by the transport when the
// underlying process/connection ends.
func New(w Writer, output <-chan []byte) *Session {
	s := &Session{writer: w, reader: output}
	go s.pump()
	return s
}

// SetBroadcast installs the callback pump uses to publish every chunk of
// transport output to the UI event stream and the Terminal Context's
// recent-output buffer (spec.md §4.3 "notify_output ... publishes each
// chunk both to the UI event stream and (if present) to the transient
// listener"). Not safe to call concurrently with traffic already flowing;
// callers install it once, immediately after constructing the Session.
func (s *Session) SetBroadcast(fn func(chunk []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = fn
}

// pump is the single fan-out point for raw transport output: every chunk
// read from the transport is offered (non-blocking) to whichever transient
// capture listener is currently registered, and unconditionally published
// to the broadcast callback, if one is installed.
func (s *Session) pump() {
	for chunk := range s.reader {
		s.mu.Lock()
		l := s.listener
		bc := s.broadcast
		s.mu.Unlock()
		if l != nil {
			select {
			case l <- chunk:
			default:
				// Drop: the registered listener is not keeping up, or is
				// the idle capture loop, which polls for total silence
				// rather than needing every chunk individually.
			}
		}
		if bc != nil {
			bc(chunk)
		}
	}
}

// Write sends interactively-typed bytes straight to the transport. Safe to
// call concurrently with a capture in progress; output from the two sources
// interleaves in the underlying terminal exactly as it would on a real tty
// shared by two writers.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.writer.Write(p)
	return err
}

// Resize propagates a terminal size change to the transport.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writer.Resize(cols, rows)
}

// Close tears down the transport. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

// registerListener installs ch as the sole output listener, atomically
// replacing and dropping whatever listener was previously registered
// (spec.md §4.3: "If called while one exists, the prior one is dropped and
// replaced"; spec.md §5: "installing a new one atomically replaces the
// previous and drops it"). The returned teardown func only clears the slot
// if ch is still the registered listener by the time it runs, so a stale
// unregister from a listener that has already been replaced is a no-op.
func (s *Session) registerListener(ch chan<- []byte) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = ch
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener == ch {
			s.listener = nil
		}
	}
}

// CaptureResult is the outcome of one RunCaptured call. Raw is the
// unmodified byte stream the transport produced, and is authoritative for
// command_history and for what the LLM sees; Display is a vt100-replayed,
// echo/prompt-trimmed copy meant only for human-facing rendering (spec.md
// §4.3 step 6).
type CaptureResult struct {
	Raw        string
	Display    string
	TimedOut   bool
	DurationMs int64

	// ExitCode is set only when the direct-subprocess fallback ran (the
	// PTY/SSH transport was absent); a real PTY capture never observes the
	// remote process's exit status directly, so this stays nil for the
	// normal path (spec.md §9 open question).
	ExitCode *int
	// Fallback reports whether this result came from the direct-subprocess
	// fallback rather than the shared PTY/SSH channel (spec.md §4.3).
	Fallback bool
}

// RunCaptured writes command to the session, then collects everything the
// transport emits until idleWindow passes with no new output or ceiling is
// reached, whichever comes first. Only one capture may run at a time per
// session (the orchestrator serializes tool calls per session already, but
// this guards against a second concurrent execute_shell on the same
// session — spec.md §6 SessionBusy).
//
// If the PTY/SSH channel is absent (Write fails with ErrClosed), RunCaptured
// falls back to a direct subprocess rooted at cwd, opaque to the LLM: it
// returns one merged stdout+stderr string and an exit code rather than a
// live terminal capture (spec.md §4.3, "falls back to direct subprocess
// execution").
func (s *Session) RunCaptured(ctx context.Context, command, cwd string) (*CaptureResult, error) {
	s.captureMu.Lock()
	if s.capturing {
		s.captureMu.Unlock()
		return nil, ErrCaptureInProgress
	}
	s.capturing = true
	s.captureMu.Unlock()
	defer func() {
		s.captureMu.Lock()
		s.capturing = false
		s.captureMu.Unlock()
	}()

	ch := make(chan []byte, 64)
	unregister := s.registerListener(ch)
	defer unregister()

	start := time.Now()
	if err := s.Write([]byte(command + "\n")); err != nil {
		if errors.Is(err, ErrClosed) {
			unregister()
			return runSubprocessFallback(ctx, command, cwd, start)
		}
		return nil, err
	}

	var raw []byte
	idle := time.NewTimer(idleWindow)
	defer idle.Stop()
	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()

	timedOut := false
loop:
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				break loop
			}
			raw = append(raw, chunk...)
			// A reappearing shell prompt is the primary termination signal
			// (spec.md §4.3 step 4); check it before resetting the idle
			// timer so a prompt that arrives right at the idle boundary
			// still short-circuits the wait.
			if vtscreen.LooksLikePrompt(vtscreen.LastLine(vtscreen.Clean(raw))) {
				break loop
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleWindow)
		case <-idle.C:
			break loop
		case <-deadline.C:
			timedOut = true
			break loop
		case <-ctx.Done():
			timedOut = true
			break loop
		}
	}

	return &CaptureResult{
		Raw:        string(raw),
		Display:    trimEchoAndPrompt(vtscreen.Clean(raw), command),
		TimedOut:   timedOut,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// runSubprocessFallback executes command directly (/bin/sh -c on Unix,
// cmd.exe /C on Windows) with stdout and stderr merged, stdout preferred
// when both are present (spec.md §4.3). The result carries a real exit
// code, distinguishing it from a normal PTY capture's unknown exit status.
func runSubprocessFallback(ctx context.Context, command, cwd string, start time.Time) (*CaptureResult, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	}
	cmd.Dir = cwd

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := stdout.String()
	if output == "" {
		output = stderr.String()
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, runErr
		}
	}

	return &CaptureResult{
		Raw:        output,
		Display:    vtscreen.Clean([]byte(output)),
		DurationMs: time.Since(start).Milliseconds(),
		ExitCode:   &exitCode,
		Fallback:   true,
	}, nil
}

// trimEchoAndPrompt drops the echoed command line and a trailing prompt
// line from a cleaned capture, so the display copy shows only what the
// command itself printed (spec.md §4.3 step 6).
func trimEchoAndPrompt(display, command string) string {
	lines := strings.Split(display, "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == strings.TrimSpace(command) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && vtscreen.LooksLikePrompt(strings.TrimSpace(lines[n-1])) {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}
