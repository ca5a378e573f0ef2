// Package state provides the finite state machine for the gateway connection lifecycle.
package state

// State represents a connection state of the gateway session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsConnected returns true if the session holds an open transport link.
func (s State) IsConnected() bool {
	return s == StateConnected
}
