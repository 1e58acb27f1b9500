package session

import "fmt"

// State is the connection state of the participant's session.
type State int

const (
	// StateDisconnected is the initial and resting state.
	StateDisconnected State = iota

	// StateConnecting covers microphone acquisition, token fetch and
	// session open.
	StateConnecting

	// StateConnected means the vendor session is established and the
	// duration timer is running.
	StateConnected
)

// String returns the lowercase state name used in logs and JSON.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a session attempt is in progress.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}
