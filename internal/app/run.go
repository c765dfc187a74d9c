package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/recode/internal/config/watcher"
	"github.com/dshills/recode/internal/dfstate"
	"github.com/dshills/recode/internal/event"
	"github.com/dshills/recode/internal/future"
	"github.com/dshills/recode/internal/mainthread"
	"github.com/dshills/recode/internal/telemetry"
)

// sweepEvery is how many ticks pass between cache sweeps.
const sweepEvery = 100

// shutdownTimeout bounds telemetry flushing on exit.
const shutdownTimeout = 5 * time.Second

// Run drives the application until ctx is done: the mutation thread, the
// client ticker and, when a config path was given, the config watcher. It
// joins the configured node once running. Run may be called once.
func (a *Application) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	cfg := a.Config()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return &InitError{Component: "telemetry", Err: err}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			a.log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	var w *watcher.Watcher
	if a.opts.ConfigPath != "" {
		w, err = watcher.New(a.opts.ConfigPath, a.ApplyConfig, watcher.WithLogger(a.log))
		if err != nil {
			return &InitError{Component: "config watcher", Err: err}
		}
	}

	if err := a.applyModules(ctx, cfg); err != nil {
		a.log.Warn("modules not fully enabled", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return quiet(gctx, a.loop.Run(gctx))
	})
	g.Go(func() error {
		return a.runTicker(gctx, cfg.Client.TickInterval())
	})
	if w != nil {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if cfg.Client.Node != "" {
		g.Go(func() error {
			return quiet(gctx, a.Join(gctx, dfstate.Node(cfg.Client.Node)))
		})
	}

	a.log.Info("recode running", "tick", cfg.Client.TickInterval(), "node", cfg.Client.Node)
	err = g.Wait()
	a.Close()
	return err
}

// quiet drops errors caused by ctx ending.
func quiet(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// runTicker posts a client tick to the mutation thread every interval. A
// tick is skipped while the previous one is still queued.
func (a *Application) runTicker(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if !a.tickPending.CompareAndSwap(false, true) {
				continue
			}
			if err := a.loop.Post(ctx, a.tickOnce); err != nil {
				a.tickPending.Store(false)
				return nil
			}
		}
	}
}

// Tick runs one client tick on the mutation thread and waits for it.
func (a *Application) Tick(ctx context.Context) error {
	return a.loop.Call(ctx, func(ctx context.Context) error {
		a.tickOnce(ctx)
		return nil
	})
}

// tickOnce runs on the mutation thread.
func (a *Application) tickOnce(ctx context.Context) {
	a.tickPending.Store(false)
	start := time.Now()
	n := a.ticks.Add(1)

	if _, err := a.tick.Run(ctx, n); err != nil {
		a.metrics.RecordTickError()
		a.log.Warn("tick signal failed", "error", err)
	}
	if err := a.updateLocation(ctx); err != nil {
		a.metrics.RecordTickError()
		a.log.Warn("locate failed", "error", err)
	}
	if n%sweepEvery == 0 {
		a.locate.Sweep()
	}

	a.metrics.RecordTick(time.Since(start))
}

// updateLocation feeds the buffered locate result into the tracker.
func (a *Application) updateLocation(ctx context.Context) error {
	a.locate.Calibrate()

	cur := a.tracker.Current()
	if cur == nil || !a.state.IsEnabled() {
		return nil
	}
	l, err := a.locate.Run(ctx, cur.Node)
	if err != nil {
		return err
	}
	_, err = a.tracker.Apply(l)
	return err
}

// Join connects to node. Permissions resolve in the background on the
// state module.
func (a *Application) Join(ctx context.Context, node dfstate.Node) error {
	perms := future.New[dfstate.PermissionGroup]()
	err := a.loop.Call(ctx, func(context.Context) error {
		a.tracker.Join(node, perms)
		return nil
	})
	if err != nil {
		return err
	}

	fetch := a.opts.Permissions
	if fetch == nil {
		fetch = func(context.Context) (dfstate.PermissionGroup, error) {
			return dfstate.PermissionGroup{}, nil
		}
	}
	h := a.state.Launch(func(ctx context.Context) error {
		g, err := fetch(ctx)
		if err != nil {
			_ = perms.Fail(err)
			return err
		}
		return perms.Complete(g)
	})
	// A disabled state module never starts the task.
	if err := h.Err(); err != nil {
		_ = perms.Fail(err)
	}
	return nil
}

// Leave disconnects from the current node.
func (a *Application) Leave(ctx context.Context) error {
	return a.loop.Call(ctx, func(context.Context) error {
		if a.tracker.Current() == nil {
			return ErrNotConnected
		}
		a.tracker.Leave()
		return nil
	})
}

// SetLocation sets what the default locator reports and drops the cached
// result so the next tick sees it.
func (a *Application) SetLocation(l dfstate.LocateState) {
	a.location.Store(&l)
	a.locate.Invalidate(l.Node)
}

// ReceiveChat runs the incoming chat event. It reports whether the message
// changed the player state.
func (a *Application) ReceiveChat(ctx context.Context, msg string) (bool, error) {
	handled, err := a.receiveChat.Run(ctx, msg)
	if err != nil {
		return false, err
	}
	a.metrics.RecordChat(handled)
	return handled, nil
}

// SendChat runs an outgoing message through the send chat chain and
// returns the message to send. An empty result means the message was
// dropped.
func (a *Application) SendChat(msg string) string {
	return a.sendChat.Run(msg, msg)
}

// Status is a point-in-time view of the application.
type Status struct {
	State   *dfstate.State
	Modules []ModuleStatus
	Locate  event.BufferedStats
	Loop    mainthread.Stats
	Metrics MetricsSnapshot
	Scripts []string
	Hooks   []string
}

// Status returns the current status.
func (a *Application) Status() (Status, error) {
	mods, err := a.ModuleStatuses()
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:   a.tracker.Current(),
		Modules: mods,
		Locate:  a.locate.Stats(),
		Loop:    a.loop.Stats(),
		Metrics: a.metrics.Snapshot(),
		Scripts: a.host.Loaded(),
		Hooks:   a.host.Hooks(),
	}, nil
}

// Close disables every module and releases the mutation thread and the
// script state. Run calls it before returning; an application that never
// ran should call it directly.
func (a *Application) Close() {
	if err := a.modules.DisableAll(context.Background()); err != nil {
		a.log.Warn("modules not disabled", "error", err)
	}
	a.state.Wait()
	a.loop.Close()
	a.host.State().Close()
	a.log.Info("recode stopped")
}
