package chat

import (
	"github.com/pkg/errors"
)

var (
	// ErrMessageNotFound is returned when an operation addresses a message id that is not in the history.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotUserMessage is returned when SendMessage tries to replace a message whose role is not user.
	ErrNotUserMessage = errors.New("not a user message")
	// ErrNoTransport is returned when a turn is requested without a transport.
	ErrNoTransport = errors.New("no transport configured")
	// ErrTooManyRecursionAttempts is returned when auto-continuation would exceed its limit.
	ErrTooManyRecursionAttempts = errors.New("too many recursion attempts")
	// ErrToolCallNotFound is returned by AddToolResult for an unknown tool call id.
	ErrToolCallNotFound = errors.New("tool call not found")
)

// ProtocolError is an error chunk received in the middle of a stream.
type ProtocolError struct {
	Text string
}

func (e *ProtocolError) Error() string {
	return "stream error: " + e.Text
}
