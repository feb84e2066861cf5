package wirenet

// State is the lifecycle state of a Connection.
type State int

const (
	// StateDisconnected is the state before Init and after Dispose.
	StateDisconnected State = iota
	// StateConnecting means the transport is being opened.
	StateConnecting
	// StateOpen means the transport is usable for credential exchange.
	StateOpen
	// StateAuthenticated means MarkAuthenticated was called; traffic is queued.
	StateAuthenticated
	// StateReady means the handshake completed; traffic flows freely.
	StateReady
	// StateClosed means the transport closed normally.
	StateClosed
	// StateErrored means the transport failed.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Closed or Errored.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// StatusEvent is emitted when the transport opens, closes or fails.
type StatusEvent struct {
	ConnectionID string
	State        State
	// Err is set for StateErrored.
	Err error
}

// StatusFunc receives status notifications. It is called synchronously from
// the transport goroutine and must not block.
type StatusFunc func(ev StatusEvent)
