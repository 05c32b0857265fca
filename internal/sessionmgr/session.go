// Package sessionmgr implements the Session Manager (C6, spec.md §4.6):
// one AgentSession per active terminal, holding its Terminal Context,
// danger classifier, event sink, and confirmation mailbox, with a
// ref-counted per-session lock that keeps at most one turn running at a
// time. Grounded on a ref-counted-mutex session-lock pattern and a
// timeout/resolve confirmation protocol.
package sessionmgr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/haasonsaas/opsconduit/internal/classifier"
	"github.com/haasonsaas/opsconduit/internal/events"
	"github.com/haasonsaas/opsconduit/internal/termctx"
	"github.com/haasonsaas/opsconduit/internal/terminal"
	"github.com/haasonsaas/opsconduit/internal/vtscreen"
	"github.com/haasonsaas/opsconduit/pkg/protocol"
)

// ErrSessionBusy is returned when a turn is requested on a session that
// already has one in flight (spec.md §4.6 SessionBusy).
var ErrSessionBusy = errors.New("sessionmgr: session is busy with another turn")

// nextBlockID is the process-wide monotonic counter backing every command
// block created across every session (spec.md §4.8), seeded away from zero
// so block ids are visually distinct from small test/demo values.
var nextBlockID int64 = 1_000_000 - 1

// NextBlockID returns the next globally unique command-block id.
func NextBlockID() int64 {
	return atomic.AddInt64(&nextBlockID, 1)
}

// AgentSession is one user's live terminal plus everything the
// orchestrator needs to drive a turn against it.
type AgentSession struct {
	ID string

	// TerminalID is the id of the terminal session this agent session
	// shadows (spec.md §3: "Bound 1:1 to a terminal_session_id"). Empty
	// until the session is registered with a Manager via AddWithTerminal.
	TerminalID string

	Terminal   *terminal.Session
	Context    *termctx.Context
	Classifier *classifier.Classifier
	Sink       *events.Sink

	confirm confirmationMailbox

	turnMu   sync.Mutex
	inTurn   bool
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewAgentSession wires a fresh session around an already-established
// terminal transport. It installs the terminal's broadcast callback so
// every chunk of raw output, whether typed by a human or produced by an
// agent-driven command, feeds the Terminal Context's recent-output buffer
// and the UI event stream (spec.md §4.3 notify_output, §4 append_output).
func NewAgentSession(term *terminal.Session, tctx *termctx.Context, cls *classifier.Classifier, sink *events.Sink) *AgentSession {
	s := &AgentSession{
		ID:         uuid.NewString(),
		Terminal:   term,
		Context:    tctx,
		Classifier: cls,
		Sink:       sink,
	}
	term.SetBroadcast(func(chunk []byte) {
		for _, line := range strings.Split(vtscreen.Clean(chunk), "\n") {
			if line != "" {
				tctx.AppendOutput(line)
			}
		}
		sink.Emit(context.Background(), protocol.CommandOutput{
			Base:    protocol.Base{Type: protocol.EventCommandOutput, SessionID: s.ID},
			Payload: string(chunk),
		})
	})
	return s
}

// BeginTurn marks the session busy for the duration of one orchestrator
// turn, returning a context.CancelFunc the caller uses both to end the turn
// and, via Cancel, to request early cancellation. ErrSessionBusy is
// returned if a turn is already in flight.
func (s *AgentSession) BeginTurn(ctx context.Context) (context.Context, func(), error) {
	s.turnMu.Lock()
	if s.inTurn {
		s.turnMu.Unlock()
		return nil, nil, ErrSessionBusy
	}
	s.inTurn = true
	s.turnMu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()

	end := func() {
		cancel()
		s.cancelMu.Lock()
		s.cancel = nil
		s.cancelMu.Unlock()
		s.turnMu.Lock()
		s.inTurn = false
		s.turnMu.Unlock()
	}
	return turnCtx, end, nil
}

// Cancel requests cancellation of whatever turn is currently in flight, if
// any. A no-op if no turn is running.
func (s *AgentSession) Cancel() {
	s.cancelMu.Lock()
	cancel := s.cancel
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RequestConfirmation blocks until the human resolves confirmationID or the
// 300s timeout elapses, at which point it resolves to DecisionDeny.
func (s *AgentSession) RequestConfirmation(ctx context.Context, confirmationID string) (Decision, error) {
	return s.confirm.request(ctx, confirmationID)
}

// ResolveConfirmation delivers a human decision for a pending confirmation.
func (s *AgentSession) ResolveConfirmation(confirmationID string, decision Decision) error {
	return s.confirm.resolve(confirmationID, decision)
}

// Manager is the process-wide registry of active sessions, indexed both by
// session id and by the underlying terminal session id (spec.md §4.6's
// secondary "TerminalSessionId -> AgentSessionId" index) so an inbound PTY
// event can be routed back to its owning agent session.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*AgentSession
	byTerminal map[string]string
}

// NewManager returns an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*AgentSession), byTerminal: make(map[string]string)}
}

// Add registers a session with no terminal-session mapping. Prefer
// AddWithTerminal when the caller knows the terminal_session_id the session
// is bound to.
func (m *Manager) Add(s *AgentSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// AddWithTerminal registers a session and records its 1:1 binding to
// terminalID, so GetByTerminal can later resolve it.
func (m *Manager) AddWithTerminal(s *AgentSession, terminalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.TerminalID = terminalID
	m.sessions[s.ID] = s
	m.byTerminal[terminalID] = s.ID
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*AgentSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetByTerminal looks up the agent session bound to a given
// terminal_session_id (spec.md §4.6 get_session_by_terminal).
func (m *Manager) GetByTerminal(terminalID string) (*AgentSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTerminal[terminalID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops a session from the registry and closes its terminal.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if s.TerminalID != "" {
			delete(m.byTerminal, s.TerminalID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.Cancel()
	return s.Terminal.Close()
}

// Len reports the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
