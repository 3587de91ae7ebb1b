package providers

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn in the order a transport expects:
// oldest first.
type Message struct {
	Role    string
	Content string
}

// Transport is a live connection to one configured LLM backend.
//
// StreamChat opens a completion stream over msgs and invokes onDelta for
// each text fragment as it arrives. A non-nil error from onDelta stops the
// stream and is returned unchanged, so callers can distinguish their own
// stop conditions from transport failures.
type Transport interface {
	StreamChat(ctx context.Context, msgs []Message, onDelta func(text string) error) error
}
