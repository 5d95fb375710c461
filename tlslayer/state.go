package tlslayer

// State is the session state of a Layer.
type State uint32

const (
	// StateBeforeInit is the state of a Layer that was not initialized yet.
	StateBeforeInit State = iota
	// StateNotConnected indicates that no session is established.
	StateNotConnected
	// StateConnected indicates that the underlying connection is established. The
	// handshake may still be running inside the engine.
	StateConnected
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case StateBeforeInit:
		return "before-init"
	case StateNotConnected:
		return "not-connected"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
