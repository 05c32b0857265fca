package orchestrator

import "github.com/haasonsaas/opsconduit/pkg/protocol"

// Error wraps a session/transport-level failure with the wire ErrorKind it
// should be reported as, following the sentinel-error + Unwrap idiom used
// across this codebase's error types (spec.md §7).
type Error struct {
	Kind        protocol.ErrorKind
	Recoverable bool
	Suggestion  string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }
