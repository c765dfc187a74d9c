package dfstate

import (
	"sync"

	"github.com/dshills/recode/internal/future"
	"github.com/dshills/recode/internal/logging"
)

// Tracker owns the current player state and fires the change state hook
// whenever it changes. Listeners run under the tracker's lock and must not
// call back into it.
type Tracker struct {
	mu       sync.Mutex
	current  *State
	hook     *ChangeStateHook
	world    World
	username string
	log      *logging.Logger
}

// NewTracker creates a tracker for the local player username.
func NewTracker(h *ChangeStateHook, world World, username string, log *logging.Logger) *Tracker {
	if log == nil {
		log = logging.Nop()
	}
	return &Tracker{
		hook:     h,
		world:    world,
		username: username,
		log:      log.WithComponent("dfstate"),
	}
}

// Current returns the current state, or nil when not connected.
func (t *Tracker) Current() *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Join sets a spawn state on node. perms resolves once permissions are known.
func (t *Tracker) Join(node Node, perms *future.Future[PermissionGroup]) ActionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.change(NewState(node, perms))
}

// Leave clears the state.
func (t *Tracker) Leave() ActionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.change(nil)
}

// Apply derives a new state from a locate result. Identical states do not
// fire the hook.
func (t *Tracker) Apply(l LocateState) (ActionResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	base := t.current
	if base == nil {
		base = NewState(l.Node, nil)
	}
	next, err := base.WithState(l, t.world)
	if err != nil {
		return Pass, err
	}
	if next.Equal(t.current) {
		return Pass, nil
	}
	return t.change(next), nil
}

// HandleChat updates the state from a chat message. It reports whether the
// message was recognized.
func (t *Tracker) HandleChat(msg string) bool {
	msg = trimMessage(msg)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return false
	}

	if session, ok := MatchSession(msg, t.username); ok {
		t.change(t.current.WithSession(session))
		return true
	}

	if mode, ok := MatchMode(msg); ok && t.current.OnPlot() {
		next := *t.current
		pm := &PlotMode{ID: mode}
		if mode == ModeDev {
			area, err := locateDevArea(t.world)
			if err != nil {
				t.log.Warn("dev area not found", "error", err)
			} else {
				pm.Dev = area
			}
		}
		next.Mode = pm
		t.change(&next)
		return true
	}
	return false
}

// change fires the hook and commits next unless a listener fails it.
// Callers must hold t.mu.
func (t *Tracker) change(next *State) ActionResult {
	old := t.current
	result := Pass
	if t.hook != nil {
		result = t.hook.Invoker()(next, old)
	}
	if result == Fail {
		t.log.Debug("state change rejected by listener")
		return result
	}
	t.current = next
	return result
}
