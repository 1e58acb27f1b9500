package session

import (
	"errors"
	"fmt"
)

// StartFailedMessage is shown when an attempt cannot be started.
const StartFailedMessage = "Failed to start the conversation. Please try again."

// Sentinel errors for the session package.
var (
	// ErrInvalidTransition indicates the command is not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrNoActiveSession indicates End was called with nothing to end.
	ErrNoActiveSession = errors.New("session: no active session")

	// ErrClosed indicates the controller has been torn down.
	ErrClosed = errors.New("session: controller closed")
)

// InvalidTransitionError reports a command rejected in the current state.
type InvalidTransitionError struct {
	Op   string
	From State
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s", e.Op, e.From)
}

// Is matches ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PermissionError reports that the microphone could not be acquired.
type PermissionError struct {
	Cause error
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("session: microphone unavailable: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *PermissionError) Unwrap() error {
	return e.Cause
}

// StartError reports a failed token fetch or session open.
type StartError struct {
	// Stage is "token" or "open".
	Stage string
	Cause error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("session: start failed at %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StartError) Unwrap() error {
	return e.Cause
}

// SessionError reports a fault on an established session.
type SessionError struct {
	SessionID string
	Cause     error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// PolicyViolationError reports a session ended before the minimum duration.
type PolicyViolationError struct {
	ElapsedSeconds int
	MinimumSeconds int
	Message        string
}

// Error implements the error interface.
func (e *PolicyViolationError) Error() string {
	return "session: " + e.Message
}
