package hook_test

import (
	"errors"
	"testing"

	"github.com/dshills/recode/internal/hook"
)

type addFunc func(n int) int

func sum(ls []addFunc) addFunc {
	return func(n int) int {
		for _, l := range ls {
			n = l(n)
		}
		return n
	}
}

// appendTo records the phase name and passes n through.
func appendTo(log *[]string, name string) addFunc {
	return func(n int) int {
		*log = append(*log, name)
		return n
	}
}

func TestChainEmptyInvoker(t *testing.T) {
	c := hook.New(sum)
	if got := c.Invoker()(7); got != 7 {
		t.Errorf("empty chain Invoker()(7) = %d, want 7", got)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestChainThreadsResult(t *testing.T) {
	c := hook.New(sum)
	c.Register(func(n int) int { return n + 1 })
	c.Register(func(n int) int { return n * 10 })

	if got := c.Invoker()(1); got != 20 {
		t.Errorf("Invoker()(1) = %d, want 20", got)
	}
}

func TestChainPhaseOrder(t *testing.T) {
	c := hook.New(sum, "early", hook.DefaultPhase, "late")

	var order []string
	if err := c.RegisterPhase("late", appendTo(&order, "late")); err != nil {
		t.Fatalf("RegisterPhase(late) error = %v", err)
	}
	c.Register(appendTo(&order, "default"))
	if err := c.RegisterPhase("early", appendTo(&order, "early")); err != nil {
		t.Fatalf("RegisterPhase(early) error = %v", err)
	}

	c.Invoker()(0)

	want := []string{"early", "default", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestChainDefaultPhaseFirstWhenUnnamed(t *testing.T) {
	c := hook.New(sum, "a", "b", "a")

	phases := c.Phases()
	want := []string{hook.DefaultPhase, "a", "b"}
	if len(phases) != len(want) {
		t.Fatalf("Phases() = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("Phases()[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestChainUnknownPhase(t *testing.T) {
	c := hook.New(sum)

	err := c.RegisterPhase("nope", func(n int) int { return n })
	if !errors.Is(err, hook.ErrUnknownPhase) {
		t.Errorf("RegisterPhase() error = %v, want ErrUnknownPhase", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestChainInvokerSnapshot(t *testing.T) {
	c := hook.New(sum)
	c.Register(func(n int) int { return n + 1 })

	before := c.Invoker()
	c.Register(func(n int) int { return n + 100 })

	if got := before(0); got != 1 {
		t.Errorf("old invoker = %d, want 1", got)
	}
	if got := c.Invoker()(0); got != 101 {
		t.Errorf("new invoker = %d, want 101", got)
	}
}
