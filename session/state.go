package session

// ConnState is the lifecycle state of the device connection
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// validTransitions lists every allowed state change. Closing is terminal.
var validTransitions = map[ConnState][]ConnState{
	StateConnecting:   {StateOpen, StateReconnecting, StateClosing},
	StateOpen:         {StateReconnecting, StateClosing},
	StateReconnecting: {StateConnecting, StateClosing},
}

// CanTransition reports whether from -> to is a legal state change
func CanTransition(from, to ConnState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
