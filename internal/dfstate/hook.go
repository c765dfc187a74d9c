package dfstate

import (
	"github.com/dshills/recode/internal/event"
	"github.com/dshills/recode/internal/hook"
)

// ActionResult is a host listener verdict. The first listener returning
// anything other than Pass decides the outcome.
type ActionResult int

const (
	Pass ActionResult = iota
	Success
	Fail
)

// String implements fmt.Stringer.
func (r ActionResult) String() string {
	switch r {
	case Pass:
		return "pass"
	case Success:
		return "success"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// ChangeStateListener is the host listener shape for state changes.
// Returning Fail rejects the change.
type ChangeStateListener func(newState, oldState *State) ActionResult

// StateChange is the context value of a state change notification.
type StateChange struct {
	New *State
	Old *State
}

// ChangeStateHook adapts the state change host chain to the event framework.
type ChangeStateHook = event.Wrapped[StateChange, ActionResult, ChangeStateListener]

// CombineChangeState runs listeners in order until one returns a verdict.
func CombineChangeState(listeners []ChangeStateListener) ChangeStateListener {
	return func(newState, oldState *State) ActionResult {
		for _, l := range listeners {
			if r := l(newState, oldState); r != Pass {
				return r
			}
		}
		return Pass
	}
}

// NewChangeStateHost creates the host chain state changes are fired on.
func NewChangeStateHost(phases ...string) *hook.Chain[ChangeStateListener] {
	return hook.New(CombineChangeState, phases...)
}

// NewChangeStateHook wraps host. Framework listeners receive Pass as the
// incoming result. Reactions run on the mutation thread reached through d.
func NewChangeStateHook(d event.Dispatcher, host event.HostEvent[ChangeStateListener], opts ...event.Option) (*ChangeStateHook, error) {
	opts = append([]event.Option{event.WithName("change_state")}, opts...)
	return event.Wrap(d, host, func(l event.HookListener[StateChange, ActionResult]) ChangeStateListener {
		return func(newState, oldState *State) ActionResult {
			return l(StateChange{New: newState, Old: oldState}, Pass)
		}
	}, opts...)
}
