package checker

// State is the checker's run state.
type State uint8

const (
	StateIdle State = iota
	StateRefreshing
	StateChecking
	StateReporting
	// StateCancelled is terminal for a run; the checker is Idle again once
	// Run returns.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateChecking:
		return "checking"
	case StateReporting:
		return "reporting"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// canTransition lists the legal moves of the run state machine.
func canTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateRefreshing
	case StateRefreshing:
		return to == StateChecking || to == StateCancelled || to == StateIdle
	case StateChecking:
		return to == StateReporting || to == StateCancelled || to == StateIdle
	case StateReporting:
		return to == StateIdle
	case StateCancelled:
		return to == StateIdle
	}
	return false
}
