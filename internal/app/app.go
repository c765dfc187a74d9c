// Package app wires recode together: config, logging, the mutation thread,
// the module graph, the client events and the script host. It also drives a
// simulated client tick so the event framework can run without a game.
package app

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dshills/recode/internal/config"
	"github.com/dshills/recode/internal/dfstate"
	"github.com/dshills/recode/internal/event"
	"github.com/dshills/recode/internal/hook"
	"github.com/dshills/recode/internal/logging"
	"github.com/dshills/recode/internal/mainthread"
	"github.com/dshills/recode/internal/module"
	"github.com/dshills/recode/internal/script"
)

// Built-in module names. config.BuiltinModules lists the same names.
const (
	ModuleState   = "state"
	ModuleChat    = "chat"
	ModuleScripts = "scripts"
)

// Hook names scripts can bind to.
const (
	HookChangeState = "change_state"
	HookSendChat    = "send_chat"
)

// chatLogSize is how many received chat lines are kept.
const chatLogSize = 200

// Options configures the application.
type Options struct {
	// ConfigPath is watched for changes while running. Empty disables
	// hot reload.
	ConfigPath string

	// LogOutput receives log output. Defaults to os.Stderr.
	LogOutput io.Writer

	// World answers block queries. Defaults to DefaultWorld.
	World dfstate.World

	// Locator answers locate queries. Defaults to the location set with
	// SetLocation.
	Locator Locator

	// Permissions resolves the player's permissions after joining.
	// Defaults to an empty group.
	Permissions func(ctx context.Context) (dfstate.PermissionGroup, error)
}

// Application is the central coordinator for all recode components.
type Application struct {
	mu   sync.RWMutex
	cfg  *config.Config
	opts Options
	log  *logging.Logger

	loop    *mainthread.Loop
	modules *module.Manager
	state   *module.Unit
	chat    *module.Unit
	scripts *module.Unit

	tick        *event.Flow[uint64, struct{}]
	receiveChat *event.Flow[string, bool]
	locate      *event.Buffered[dfstate.Node, dfstate.LocateState, dfstate.Node, dfstate.Node]
	changeState *dfstate.ChangeStateHook
	sendChat    *event.PhasedHook[string, string]

	tracker *dfstate.Tracker
	host    *script.Host
	chatLog *ChatLog
	metrics *Metrics

	location    atomic.Pointer[dfstate.LocateState]
	ticks       atomic.Uint64
	tickPending atomic.Bool
	started     atomic.Bool
}

// New creates an Application from cfg. A nil cfg uses the defaults.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = opts.LogOutput
	if opts.World == nil {
		opts.World = DefaultWorld()
	}

	a := &Application{
		cfg:     cfg,
		opts:    opts,
		log:     logging.New(logCfg),
		chatLog: NewChatLog(chatLogSize),
		metrics: NewMetrics(),
	}
	a.loop = mainthread.New(
		mainthread.WithLogger(a.log),
		mainthread.WithWarnDepth(cfg.Loop.QueueWarnDepth),
	)

	if err := a.bootstrap(); err != nil {
		return nil, err
	}
	return a, nil
}

// bootstrap initializes all components in dependency order.
func (a *Application) bootstrap() error {
	cfg := a.cfg
	var err error

	// 1. Module graph
	if err := a.buildModules(cfg); err != nil {
		return err
	}

	// 2. Client events
	a.tick, err = event.NewSignal[uint64](a.loop, event.WithName("client_tick"), event.WithLogger(a.log))
	if err != nil {
		return &InitError{Component: "client_tick", Err: err}
	}

	a.receiveChat, err = event.New(a.loop, a.handleChat, event.WithName("receive_chat"), event.WithLogger(a.log))
	if err != nil {
		return &InitError{Component: "receive_chat", Err: err}
	}

	identity := func(n dfstate.Node) dfstate.Node { return n }
	a.locate, err = event.NewBuffered(a.loop, a.locateNode, event.BufferedConfig[dfstate.Node, dfstate.Node, dfstate.Node]{
		StableInterval:   cfg.Buffered.StableInterval(),
		CacheDuration:    cfg.Buffered.CacheDuration(),
		KeySelector:      identity,
		ContextGenerator: identity,
		Owner:            a.state,
	}, event.WithName("locate"), event.WithLogger(a.log))
	if err != nil {
		return &InitError{Component: "locate", Err: err}
	}

	// 3. Host chains
	a.changeState, err = dfstate.NewChangeStateHook(a.loop, dfstate.NewChangeStateHost(), event.WithLogger(a.log))
	if err != nil {
		return &InitError{Component: HookChangeState, Err: err}
	}

	sendHost := hook.New(event.FoldListeners[string, string], "early", hook.DefaultPhase, "late")
	a.sendChat, err = event.NewPhasedHook[string, string](a.loop, sendHost, event.WithName(HookSendChat), event.WithLogger(a.log))
	if err != nil {
		return &InitError{Component: HookSendChat, Err: err}
	}

	a.tracker = dfstate.NewTracker(a.changeState, a.opts.World, cfg.Client.Username, a.log)

	// 4. Built-in reactions
	a.receiveChat.React(a.chat, func(_ context.Context, msg string) {
		a.chatLog.Add(msg)
	})
	a.modules.Subscribe(func(ev module.ManagerEvent) {
		if ev.Type == module.EventModuleEnabled && ev.Module == ModuleState {
			a.watchStateChanges()
		}
	})

	// 5. Scripts
	return a.loadScripts(cfg)
}

func (a *Application) loadScripts(cfg *config.Config) error {
	a.host = script.NewHost(script.NewState(
		script.WithTimeout(cfg.Scripts.Timeout()),
		script.WithLogger(a.log),
	))
	if err := script.BindHook(a.host, HookChangeState, a.changeState, a.scripts); err != nil {
		return &InitError{Component: "scripts", Err: err}
	}
	if err := script.BindHook(a.host, HookSendChat, a.sendChat.Wrapped, a.scripts); err != nil {
		return &InitError{Component: "scripts", Err: err}
	}

	// Script errors are non-fatal.
	for _, path := range cfg.Scripts.Paths {
		if err := a.host.LoadFile(path); err != nil {
			a.log.Error("script not loaded", "path", path, "error", err)
		}
	}
	return nil
}

// watchStateChanges logs every fired state change while the state module
// is enabled.
func (a *Application) watchStateChanges() {
	event.ListenEach[dfstate.StateChange](a.changeState, a.state, func(_ context.Context, c dfstate.StateChange) {
		a.metrics.RecordStateChange()
		if c.New == nil {
			a.log.Info("left node")
			return
		}
		args := []any{"node", c.New.Node.DisplayName()}
		if c.New.OnPlot() {
			args = append(args, "plot", c.New.Plot.ID, "mode", c.New.Mode.ID.String())
		}
		a.log.Info("state changed", args...)
	})
}

// locateNode derives a locate result. It runs on the mutation thread.
func (a *Application) locateNode(node dfstate.Node) (dfstate.LocateState, error) {
	if a.opts.Locator != nil {
		return a.opts.Locator(node)
	}
	if l := a.location.Load(); l != nil && l.Node == node {
		return *l, nil
	}
	return dfstate.LocateState{Node: node}, nil
}

// handleChat derives whether a chat message changed the player state.
func (a *Application) handleChat(msg string) (bool, error) {
	return a.tracker.HandleChat(msg), nil
}

// Config returns the active configuration.
func (a *Application) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Logger returns the application logger.
func (a *Application) Logger() *logging.Logger {
	return a.log
}

// Loop returns the mutation thread.
func (a *Application) Loop() *mainthread.Loop {
	return a.loop
}

// Modules returns the module manager.
func (a *Application) Modules() *module.Manager {
	return a.modules
}

// Scripts returns the script host.
func (a *Application) Scripts() *script.Host {
	return a.host
}

// ClientTick returns the tick signal. Reactions registered on it run at the
// start of every tick.
func (a *Application) ClientTick() *event.Flow[uint64, struct{}] {
	return a.tick
}

// ReceiveChatEvent returns the incoming chat event.
func (a *Application) ReceiveChatEvent() *event.Flow[string, bool] {
	return a.receiveChat
}

// ChangeState returns the state change hook.
func (a *Application) ChangeState() *dfstate.ChangeStateHook {
	return a.changeState
}

// Locate returns the buffered locate event.
func (a *Application) Locate() *event.Buffered[dfstate.Node, dfstate.LocateState, dfstate.Node, dfstate.Node] {
	return a.locate
}

// State returns the current player state, or nil when not connected.
func (a *Application) State() *dfstate.State {
	return a.tracker.Current()
}

// Metrics returns the application's metrics.
func (a *Application) Metrics() *Metrics {
	return a.metrics
}

// ChatLog returns the received chat lines kept by the chat module.
func (a *Application) ChatLog() []string {
	return a.chatLog.Lines()
}
