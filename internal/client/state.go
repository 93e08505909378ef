package client

// State is the transport connection lifecycle state. Exactly one value is
// active per client instance at any time.
type State string

const (
	StateDisconnected  State = "DISCONNECTED"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateAuthenticated State = "AUTHENTICATED"
	StateReconnecting  State = "RECONNECTING"
	StateError         State = "ERROR"
)

// String returns string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid checks if the state is a known value.
func (s State) IsValid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected,
		StateAuthenticated, StateReconnecting, StateError:
		return true
	}
	return false
}

// transitions is the allowed transition table of the connection state machine.
var transitions = map[State][]State{
	StateDisconnected:  {StateConnecting},
	StateConnecting:    {StateConnected, StateReconnecting, StateError, StateDisconnected},
	StateConnected:     {StateAuthenticated, StateReconnecting, StateError, StateDisconnected},
	StateAuthenticated: {StateReconnecting, StateDisconnected, StateError},
	StateReconnecting:  {StateConnecting, StateError, StateDisconnected},
	StateError:         {StateDisconnected, StateConnecting},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends automatic activity: no timers run
// and no socket attempts happen until an explicit Connect or Disconnect.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}
