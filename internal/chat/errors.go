package chat

import "errors"

var (
	// ErrNotFound: the referenced chat does not exist.
	ErrNotFound = errors.New("chat not found")

	// ErrInvalidState: the chat has no message to respond to.
	ErrInvalidState = errors.New("invalid chat state")

	// ErrProviderNotConfigured: no default provider, or a vendor-required
	// field is empty.
	ErrProviderNotConfigured = errors.New("no default AI provider configured")

	// ErrUnsupportedProvider: the stored vendor tag has no transport.
	ErrUnsupportedProvider = errors.New("unsupported AI provider")

	// ErrInvalidVideo: the URL does not resolve to a known video.
	ErrInvalidVideo = errors.New("invalid video")

	// ErrNoTranscript: the video exists but has no usable transcript.
	ErrNoTranscript = errors.New("no transcript found")
)

// TransportError reports a provider stream that failed mid-flight. The
// finalize write has already run by the time this reaches the caller.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "provider stream failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError reports a failed finalize write. It takes precedence over
// any transport error from the same call: losing the durable record is the
// more severe failure.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist assistant message: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }
