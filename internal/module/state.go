package module

// State represents the lifecycle state of a module.
type State int

// Module states.
const (
	// StateDisabled - Module is registered but not running.
	StateDisabled State = iota

	// StateEnabling - Module enable hooks are running.
	StateEnabling

	// StateEnabled - Module is enabled and may launch tasks.
	StateEnabled

	// StateDisabling - Module tasks are being cancelled.
	StateDisabling
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabling:
		return "enabling"
	case StateEnabled:
		return "enabled"
	case StateDisabling:
		return "disabling"
	default:
		return "unknown"
	}
}

// IsEnabled returns true only for StateEnabled.
func (s State) IsEnabled() bool {
	return s == StateEnabled
}
