package script

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/recode/internal/logging"
)

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 50 * time.Millisecond

// unsafeGlobals are removed from every state. Scripts are loaded from Go
// only.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// State is a sandboxed Lua state. gopher-lua states are not goroutine-safe,
// so every entry point takes the state's lock.
type State struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	log     *logging.Logger
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithTimeout bounds each call into Lua. Zero disables the bound.
func WithTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// WithLogger sets the logger scripts print to.
func WithLogger(l *logging.Logger) StateOption {
	return func(s *State) {
		if l != nil {
			s.log = l
		}
	}
}

// NewState creates a sandboxed state.
func NewState(opts ...StateOption) *State {
	s := &State{
		timeout: DefaultTimeout,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("script")

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetTop(0)

	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(s.print))

	s.L = L
	return s
}

func (s *State) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.log.Info(strings.Join(parts, "\t"))
	return 0
}

// DoString executes code.
func (s *State) DoString(code string) error {
	return s.exec(context.Background(), func(L *lua.LState) error {
		return L.DoString(code)
	})
}

// DoFile executes the file at path.
func (s *State) DoFile(path string) error {
	return s.exec(context.Background(), func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

// Call calls fn with args converted to Lua and returns its first result
// converted back to Go. A missing or nil result is returned as nil.
func (s *State) Call(ctx context.Context, fn *lua.LFunction, args ...any) (any, error) {
	var out any
	err := s.exec(ctx, func(L *lua.LState) error {
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = ToLua(L, a)
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)
		out = ToGo(ret)
		return nil
	})
	return out, err
}

// Global returns the global name, or nil after Close.
func (s *State) Global(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// Register installs fn as the global name.
func (s *State) Register(name string, fn lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.NewFunction(fn))
}

// Close releases the state. Further calls return ErrStateClosed.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}

func (s *State) exec(ctx context.Context, fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(s.L)
}
