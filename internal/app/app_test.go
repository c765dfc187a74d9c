package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/recode/internal/config"
	"github.com/dshills/recode/internal/dfstate"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Client.Node = ""
	cfg.Client.TickIntervalMs = 60_000
	return cfg
}

// startApp enables modules and drives the mutation thread without the
// ticker so tests control every tick.
func startApp(t *testing.T, cfg *config.Config, opts Options) *Application {
	t.Helper()
	if opts.LogOutput == nil {
		opts.LogOutput = io.Discard
	}
	a, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		a.Close()
	})

	if err := a.applyModules(ctx, cfg); err != nil {
		t.Fatalf("applyModules() failed: %v", err)
	}
	return a
}

func writeScript(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.lua")
	if err := os.WriteFile(path, []byte(code), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewApplication(t *testing.T) {
	a, err := New(nil, Options{LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer a.Close()

	if a.Config().Client.Username != "Player" {
		t.Errorf("expected default username, got %q", a.Config().Client.Username)
	}
	if a.Loop() == nil || a.Modules() == nil || a.Scripts() == nil {
		t.Fatal("expected core components to be initialized")
	}
	if a.ClientTick() == nil || a.ReceiveChatEvent() == nil || a.ChangeState() == nil || a.Locate() == nil {
		t.Fatal("expected client events to be initialized")
	}
	if a.State() != nil {
		t.Error("expected no state before joining")
	}
	if got := a.Scripts().Hooks(); len(got) != 2 || got[0] != HookChangeState || got[1] != HookSendChat {
		t.Errorf("expected bound hooks [change_state send_chat], got %v", got)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Client.TickIntervalMs = 0

	_, err := New(cfg, Options{LogOutput: io.Discard})
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitError, got %v", err)
	}
	if initErr.Component != "config" {
		t.Errorf("expected config component, got %q", initErr.Component)
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig in chain, got %v", err)
	}
}

func TestRunTwice(t *testing.T) {
	a, err := New(testConfig(), Options{LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "state module", func() bool {
		u, _ := a.Modules().Get(ModuleState)
		return u.IsEnabled()
	})
	if err := a.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	u, _ := a.Modules().Get(ModuleState)
	if u.IsEnabled() {
		t.Error("expected modules disabled after Run returns")
	}
}

func TestRunJoinsConfiguredNode(t *testing.T) {
	cfg := testConfig()
	cfg.Client.Node = "node4"
	cfg.Client.TickIntervalMs = 5

	a, err := New(cfg, Options{LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "join", func() bool {
		s := a.State()
		return s != nil && s.Node == "node4"
	})
	waitFor(t, "ticks", func() bool { return a.Metrics().Snapshot().Ticks >= 3 })
}

func TestTickAppliesLocation(t *testing.T) {
	a := startApp(t, testConfig(), Options{})
	ctx := context.Background()

	if err := a.Tick(ctx); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if a.State() != nil {
		t.Error("expected tick without a node to leave state empty")
	}

	if err := a.Join(ctx, "node2"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	perms, err := a.State().Permissions(ctx)
	if err != nil {
		t.Fatalf("Permissions() failed: %v", err)
	}
	if perms != (dfstate.PermissionGroup{}) {
		t.Errorf("expected empty permission group, got %+v", perms)
	}

	plot := &dfstate.Plot{Name: "Arena", Owner: "Steve", ID: 42}
	a.SetLocation(dfstate.LocateState{Node: "node2", Plot: plot, Mode: dfstate.ModeBuild})
	if err := a.Tick(ctx); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}

	s := a.State()
	if !s.IsOnPlot(*plot) || !s.IsInMode(dfstate.ModeBuild) {
		t.Errorf("expected building on plot 42, got %+v", s)
	}
	if got := a.Metrics().Snapshot().Ticks; got != 2 {
		t.Errorf("expected 2 ticks, got %d", got)
	}
	if stats := a.Locate().Stats(); stats.Misses < 1 {
		t.Errorf("expected a locate miss, got %+v", stats)
	}
	waitFor(t, "state change metric", func() bool {
		return a.Metrics().Snapshot().StateChanges >= 1
	})

	if err := a.Leave(ctx); err != nil {
		t.Fatalf("Leave() failed: %v", err)
	}
	if err := a.Leave(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestJoinPermissionsFailure(t *testing.T) {
	want := errors.New("rank lookup failed")
	a := startApp(t, testConfig(), Options{
		Permissions: func(context.Context) (dfstate.PermissionGroup, error) {
			return dfstate.PermissionGroup{}, want
		},
	})
	ctx := context.Background()

	if err := a.Join(ctx, "node1"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	if _, err := a.State().Permissions(ctx); !errors.Is(err, want) {
		t.Errorf("expected permission error, got %v", err)
	}
}

func TestTickUsesLocator(t *testing.T) {
	calls := 0
	a := startApp(t, testConfig(), Options{
		Locator: func(node dfstate.Node) (dfstate.LocateState, error) {
			calls++
			return dfstate.LocateState{Node: node, Plot: &dfstate.Plot{ID: 9}, Mode: dfstate.ModePlay}, nil
		},
	})
	ctx := context.Background()

	if err := a.Join(ctx, "beta"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	if err := a.Tick(ctx); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if calls == 0 {
		t.Fatal("expected locator to be called")
	}
	if !a.State().IsInMode(dfstate.ModePlay) {
		t.Errorf("expected play mode, got %+v", a.State())
	}
}

func TestReceiveChat(t *testing.T) {
	a := startApp(t, testConfig(), Options{})
	ctx := context.Background()

	handled, err := a.ReceiveChat(ctx, "hello")
	if err != nil {
		t.Fatalf("ReceiveChat() failed: %v", err)
	}
	if handled {
		t.Error("expected plain chat to be unhandled")
	}

	if err := a.Join(ctx, "node1"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	handled, err = a.ReceiveChat(ctx, "You have requested code support.\nIf you wish to leave the queue, use /support cancel.")
	if err != nil {
		t.Fatalf("ReceiveChat() failed: %v", err)
	}
	if !handled {
		t.Error("expected support request to be handled")
	}
	if a.State().Session != dfstate.SessionRequested {
		t.Errorf("expected requested session, got %v", a.State().Session)
	}

	lines := a.ChatLog()
	if len(lines) != 2 || lines[0] != "hello" {
		t.Errorf("expected chat log with 2 lines, got %q", lines)
	}
	snap := a.Metrics().Snapshot()
	if snap.Chats != 2 || snap.ChatsHandled != 1 {
		t.Errorf("expected 2 chats with 1 handled, got %d/%d", snap.Chats, snap.ChatsHandled)
	}
}

func TestChatLogNeedsChatModule(t *testing.T) {
	cfg := testConfig()
	cfg.Modules[ModuleChat] = config.ModuleConfig{Enabled: false}
	a := startApp(t, cfg, Options{})

	if _, err := a.ReceiveChat(context.Background(), "hello"); err != nil {
		t.Fatalf("ReceiveChat() failed: %v", err)
	}
	if lines := a.ChatLog(); len(lines) != 0 {
		t.Errorf("expected no chat log with chat module off, got %q", lines)
	}
}

func TestSendChatScript(t *testing.T) {
	cfg := testConfig()
	cfg.Scripts.Paths = []string{writeScript(t, `
hook("send_chat", function(msg, result)
  return string.upper(result)
end)
hook("send_chat", "late", function(msg, result)
  return result .. "!"
end)
`)}
	a := startApp(t, cfg, Options{})

	if got := a.SendChat("hi"); got != "HI!" {
		t.Errorf("expected HI!, got %q", got)
	}
	if loaded := a.Scripts().Loaded(); len(loaded) != 1 {
		t.Errorf("expected 1 loaded script, got %v", loaded)
	}

	if err := a.Modules().Disable(context.Background(), ModuleScripts); err != nil {
		t.Fatalf("Disable() failed: %v", err)
	}
	if got := a.SendChat("hi"); got != "hi" {
		t.Errorf("expected unchanged message with scripts off, got %q", got)
	}
}

func TestChangeStateScriptRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Scripts.Paths = []string{writeScript(t, `
hook("change_state", function(change, result)
  if change.New ~= nil and change.New.Plot ~= nil and change.New.Plot.ID == 13 then
    return 2
  end
end)
`)}
	a := startApp(t, cfg, Options{})
	ctx := context.Background()

	if err := a.Join(ctx, "node1"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	a.SetLocation(dfstate.LocateState{Node: "node1", Plot: &dfstate.Plot{ID: 13}, Mode: dfstate.ModePlay})
	if err := a.Tick(ctx); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if a.State().OnPlot() {
		t.Errorf("expected plot 13 to be rejected, got %+v", a.State())
	}

	a.SetLocation(dfstate.LocateState{Node: "node1", Plot: &dfstate.Plot{ID: 14}, Mode: dfstate.ModePlay})
	if err := a.Tick(ctx); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if !a.State().IsOnPlot(dfstate.Plot{ID: 14}) {
		t.Errorf("expected plot 14, got %+v", a.State())
	}
}

func TestBrokenScriptIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Scripts.Paths = []string{writeScript(t, `hook("no_such_hook", function() end)`)}

	a := startApp(t, cfg, Options{})
	if loaded := a.Scripts().Loaded(); len(loaded) != 0 {
		t.Errorf("expected no loaded scripts, got %v", loaded)
	}
}

func TestStatus(t *testing.T) {
	a := startApp(t, testConfig(), Options{})
	if err := a.Join(context.Background(), "node1"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}

	st, err := a.Status()
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if st.State == nil || st.State.Node != "node1" {
		t.Errorf("expected state on node1, got %+v", st.State)
	}
	if len(st.Modules) != 3 || st.Modules[0].Name != ModuleState {
		t.Errorf("expected state module first, got %+v", st.Modules)
	}
	if len(st.Hooks) != 2 {
		t.Errorf("expected 2 hooks, got %v", st.Hooks)
	}
}
