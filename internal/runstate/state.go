// Package runstate defines the lifecycle of a single script run.
package runstate

// State represents a run's current state in its lifecycle.
type State string

const (
	// Parsing indicates the script header is being read.
	Parsing State = "parsing"

	// Rejected indicates the header failed to parse. Nothing was executed.
	Rejected State = "rejected"

	// Running indicates the nix process has been started.
	Running State = "running"

	// Completed indicates the script exited with status 0.
	Completed State = "completed"

	// Failed indicates the script or nix exited non-zero, or could not start.
	Failed State = "failed"

	// Cancelled indicates the run was interrupted by a signal.
	Cancelled State = "cancelled"

	// TimedOut indicates the configured timeout elapsed.
	TimedOut State = "timed_out"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state is a final state (no further transitions).
func (s State) IsTerminal() bool {
	switch s {
	case Rejected, Completed, Failed, Cancelled, TimedOut:
		return true
	}
	return false
}

// ValidTransitions defines the allowed state transitions.
var ValidTransitions = map[State][]State{
	Parsing:   {Rejected, Running, Failed},
	Running:   {Completed, Failed, Cancelled, TimedOut},
	Rejected:  {},
	Completed: {},
	Failed:    {},
	Cancelled: {},
	TimedOut:  {},
}

// CanTransition returns true if transitioning from 'from' to 'to' is valid.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllStates returns all defined states.
func AllStates() []State {
	return []State{Parsing, Rejected, Running, Completed, Failed, Cancelled, TimedOut}
}

// Parse converts a string to a State, returning the state and whether it was valid.
func Parse(s string) (State, bool) {
	state := State(s)
	for _, valid := range AllStates() {
		if state == valid {
			return state, true
		}
	}
	return "", false
}
