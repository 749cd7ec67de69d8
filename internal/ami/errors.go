package ami

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("ami: not connected")
	// ErrTimeout is returned when an action response does not arrive in time.
	ErrTimeout = errors.New("ami: timed out waiting for response")
	// ErrReconnectExhausted is returned once the reconnect budget is spent.
	ErrReconnectExhausted = errors.New("ami: reconnect attempts exhausted")
)

// ConnectionError is a transient network failure.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ami: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError is a rejected login. It is not transient.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ami: login rejected for %q", e.Username)
	}
	return fmt.Sprintf("ami: login rejected for %q: %s", e.Username, e.Message)
}

// FramingError is a malformed line. The reader has already skipped to the
// next blank line when it is returned.
type FramingError struct {
	Line   string
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("ami: framing: %s: %q", e.Reason, e.Line)
}

// IsRetryable reports whether err may clear up by reconnecting.
func IsRetryable(err error) bool {
	var auth *AuthError
	return err != nil && !errors.As(err, &auth)
}
