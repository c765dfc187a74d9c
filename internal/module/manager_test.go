package module

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recordEvents subscribes to m and returns a function reporting the
// module names seen for the given event type, in order.
func recordEvents(m *Manager, typ ManagerEventType) func() []string {
	var (
		mu    sync.Mutex
		names []string
	)
	m.Subscribe(func(e ManagerEvent) {
		if e.Type != typ {
			return
		}
		mu.Lock()
		names = append(names, e.Module)
		mu.Unlock()
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), names...)
	}
}

func newGraph(t *testing.T) (*Manager, map[string]*Unit) {
	t.Helper()

	// chat -> state -> core, render -> core
	units := map[string]*Unit{
		"core":   New("core"),
		"state":  New("state"),
		"chat":   New("chat"),
		"render": New("render"),
	}
	units["state"].Depend(units["core"])
	units["chat"].Depend(units["state"])
	units["render"].Depend(units["core"])

	m := NewManager()
	for _, name := range []string{"chat", "state", "core", "render"} {
		if err := m.Register(units[name]); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	return m, units
}

func TestManagerRegisterDuplicate(t *testing.T) {
	m := NewManager()
	if err := m.Register(New("a")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(New("a")); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Register() duplicate error = %v, want ErrAlreadyRegistered", err)
	}
	if err := m.Register(nil); !errors.Is(err, ErrNilModule) {
		t.Errorf("Register(nil) error = %v, want ErrNilModule", err)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestManagerEnableDependenciesFirst(t *testing.T) {
	m, units := newGraph(t)
	enabled := recordEvents(m, EventModuleEnabled)

	if err := m.Enable(context.Background(), "chat"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	got := enabled()
	want := []string{"core", "state", "chat"}
	if len(got) != len(want) {
		t.Fatalf("enabled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("enabled[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if units["render"].IsEnabled() {
		t.Error("render should not be enabled")
	}
}

func TestManagerDisableDependentsFirst(t *testing.T) {
	m, units := newGraph(t)
	ctx := context.Background()
	if err := m.EnableAll(ctx); err != nil {
		t.Fatalf("EnableAll() error = %v", err)
	}
	disabled := recordEvents(m, EventModuleDisabled)

	if err := m.Disable(ctx, "state"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	got := disabled()
	if len(got) != 2 || got[0] != "chat" || got[1] != "state" {
		t.Errorf("disabled = %v, want [chat state]", got)
	}
	if !units["core"].IsEnabled() || !units["render"].IsEnabled() {
		t.Error("core and render should stay enabled")
	}
}

func TestManagerCycle(t *testing.T) {
	a := New("a")
	b := New("b")
	a.Depend(b)
	b.Depend(a)

	m := NewManager()
	_ = m.Register(a)
	_ = m.Register(b)

	if err := m.Enable(context.Background(), "a"); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("Enable() error = %v, want ErrCyclicDependency", err)
	}
	if _, err := m.Order(); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("Order() error = %v, want ErrCyclicDependency", err)
	}
	if a.IsEnabled() || b.IsEnabled() {
		t.Error("no module in a cycle should be enabled")
	}
}

func TestManagerMissingDependency(t *testing.T) {
	a := New("a")
	a.Depend(New("ghost"))

	m := NewManager()
	_ = m.Register(a)

	if err := m.Enable(context.Background(), "a"); !errors.Is(err, ErrDependencyNotFound) {
		t.Errorf("Enable() error = %v, want ErrDependencyNotFound", err)
	}
	if err := m.Enable(context.Background(), "nope"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Enable(unknown) error = %v, want ErrModuleNotFound", err)
	}
}

func TestManagerOrder(t *testing.T) {
	m, _ := newGraph(t)

	order, err := m.Order()
	if err != nil {
		t.Fatalf("Order() error = %v", err)
	}

	pos := make(map[string]int)
	for i, u := range order {
		pos[u.Name()] = i
	}
	for _, edge := range [][2]string{{"state", "core"}, {"chat", "state"}, {"render", "core"}} {
		if pos[edge[0]] < pos[edge[1]] {
			t.Errorf("%s ordered before its dependency %s", edge[0], edge[1])
		}
	}
}

func TestManagerDisableAllAndSetEnabled(t *testing.T) {
	m, _ := newGraph(t)
	ctx := context.Background()

	if err := m.SetEnabled(ctx, "render", true); err != nil {
		t.Fatalf("SetEnabled(true) error = %v", err)
	}
	if len(m.ListEnabled()) != 2 {
		t.Errorf("ListEnabled() = %d, want 2", len(m.ListEnabled()))
	}

	if err := m.DisableAll(ctx); err != nil {
		t.Fatalf("DisableAll() error = %v", err)
	}
	if len(m.ListEnabled()) != 0 {
		t.Errorf("ListEnabled() after DisableAll = %d, want 0", len(m.ListEnabled()))
	}
}

func TestManagerUnsubscribe(t *testing.T) {
	m := NewManager()
	calls := 0
	unsubscribe := m.Subscribe(func(ManagerEvent) { calls++ })

	_ = m.Register(New("a"))
	unsubscribe()
	_ = m.Register(New("b"))

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}
