package protocol

// CommandType tags the variant of a UICommand on the wire.
type CommandType string

const (
	CommandUserPrompt    CommandType = "userPrompt"
	CommandConfirm       CommandType = "confirmCommand"
	CommandCancel        CommandType = "cancel"
	CommandInjectCommand CommandType = "injectCommand"
)

// UICommand is the tagged union of commands accepted from the frontend.
// Unlike Event, the wrapper fields use the camelCase override spec.md
// calls out for request types (sessionId, queryId); inner fields stay
// snake_case where they exist.
type UICommand struct {
	Type           CommandType `json:"type"`
	SessionID      string      `json:"sessionId"`
	Text           string      `json:"text,omitempty"`
	AttachedBlocks []int64     `json:"attachedBlocks,omitempty"`
	ConfirmationID string      `json:"confirmationId,omitempty"`
	Confirmed      bool        `json:"confirmed,omitempty"`
	UseAlternative string      `json:"useAlternative,omitempty"`
	Command        string      `json:"command,omitempty"`
}
