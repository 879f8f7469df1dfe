package plugin

// State represents the lifecycle state of a plugin runtime.
type State int32

// Runtime states.
const (
	// StateCreated - Runtime exists, worker not started.
	StateCreated State = iota

	// StateRunning - Worker is executing the entry script.
	StateRunning

	// StateFinishing - Script returned, raised or was interrupted; the
	// context is being torn down.
	StateFinishing

	// StateStopped - Worker has fully exited.
	StateStopped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFinishing:
		return "finishing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
