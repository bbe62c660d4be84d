package hass

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout is returned by SendCommand when no response arrives
	// within the deadline.
	ErrTimeout = errors.New("command timed out")

	// ErrClosed is returned for commands issued on, or abandoned by, a
	// connection whose receive loop has exited.
	ErrClosed = errors.New("connection closed")
)

// AuthError reports a failed authentication handshake. It is fatal to
// Connect; the caller must construct a fresh connection to retry.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Message
}

// CommandError reports a command that the server rejected. The connection
// remains usable.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed: %s: %s", e.Code, e.Message)
}
