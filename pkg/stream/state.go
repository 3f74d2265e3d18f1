package stream

// State is the orchestrator's position in the per-turn state machine
type State string

const (
	// StateIdle indicates no turn is in flight
	StateIdle State = "idle"

	// StateRequesting indicates the request is sent and no bytes arrived yet
	StateRequesting State = "requesting"

	// StateStreaming indicates response chunks are being applied
	StateStreaming State = "streaming"

	// StateCompleting indicates the stream ended and the turn is closing
	StateCompleting State = "completing"

	// StateErrored indicates the turn failed
	StateErrored State = "errored"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Busy reports whether the state blocks a new submission
func (s State) Busy() bool {
	return s != StateIdle
}

// GetIcon returns the status indicator glyph for a state
func (s State) GetIcon() string {
	switch s {
	case StateRequesting:
		return "↑"
	case StateStreaming:
		return "↓"
	case StateErrored:
		return "✗"
	default:
		return ""
	}
}

// GetDisplayName returns a human-readable name for the state
func (s State) GetDisplayName() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRequesting:
		return "Sending"
	case StateStreaming:
		return "Receiving"
	case StateCompleting:
		return "Finishing"
	case StateErrored:
		return "Failed"
	default:
		return ""
	}
}
