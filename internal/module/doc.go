// Package module provides toggleable units of feature code.
//
// A Module has an enabled flag, a set of dependency edges to other modules,
// and a task launcher whose tasks live only as long as the module stays
// enabled. Disabling a module cancels every task it launched.
//
// The event framework only consumes three operations from a module:
// IsEnabled, Depend and Launch. Everything else here (Unit lifecycle and the
// dependency-ordered Manager) exists so those three have a concrete owner.
//
// # Lifecycle
//
//	chat := module.New("chat")
//	state := module.New("state")
//	chat.Depend(state)
//
//	m := module.NewManager()
//	m.Register(chat)
//	m.Register(state)
//
//	// Enables "state" first, then "chat".
//	if err := m.Enable(ctx, "chat"); err != nil {
//	    return err
//	}
//
//	// Disables "chat" (a dependent) before "state".
//	m.Disable(ctx, "state")
//
// # Tasks
//
// Launch runs a task on its own goroutine with a context derived from the
// module's lifetime:
//
//	h := chat.Launch(func(ctx context.Context) error {
//	    <-ctx.Done()
//	    return ctx.Err()
//	})
//
// Panics inside tasks are recovered and reported through Handle.Err.
//
// The Manager never validates cycles at Depend time; cycles are reported when
// an ordering is requested (Enable, Disable, Order).
package module
