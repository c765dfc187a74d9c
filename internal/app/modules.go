package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/recode/internal/config"
	"github.com/dshills/recode/internal/module"
)

// ModuleStatus reports one module's state.
type ModuleStatus struct {
	Name    string
	Enabled bool
	Depends []string
}

// buildModules registers the built-in modules plus every module named in
// cfg and records configured dependency edges.
func (a *Application) buildModules(cfg *config.Config) error {
	a.modules = module.NewManager(module.WithManagerLogger(a.log))

	a.state = module.New(ModuleState, module.WithLogger(a.log))
	a.chat = module.New(ModuleChat, module.WithLogger(a.log))
	a.scripts = module.New(ModuleScripts, module.WithLogger(a.log))

	// Chat handling and scripts both act on the tracked state.
	a.chat.Depend(a.state)
	a.scripts.Depend(a.state)

	for _, u := range []*module.Unit{a.state, a.chat, a.scripts} {
		if err := a.modules.Register(u); err != nil {
			return &InitError{Component: "modules", Err: err}
		}
	}

	for _, name := range cfg.ModuleNames() {
		if _, ok := a.modules.Get(name); ok {
			continue
		}
		if err := a.modules.Register(module.New(name, module.WithLogger(a.log))); err != nil {
			return &InitError{Component: "modules", Err: err}
		}
	}

	for _, name := range cfg.ModuleNames() {
		u, _ := a.modules.Get(name)
		for _, dep := range cfg.Modules[name].Depends {
			if d, ok := a.modules.Get(dep); ok {
				u.Depend(d)
			}
		}
	}

	if _, err := a.modules.Order(); err != nil {
		return &InitError{Component: "modules", Err: err}
	}
	return nil
}

// WantEnabled reports whether cfg wants name enabled. Built-in modules are
// on unless configured off; other modules are off unless configured on.
func WantEnabled(cfg *config.Config, name string) bool {
	if mc, ok := cfg.Modules[name]; ok {
		return mc.Enabled
	}
	switch name {
	case ModuleState, ModuleChat, ModuleScripts:
		return true
	default:
		return false
	}
}

// applyModules enables and disables modules to match cfg. Disables run
// first; enabling a module then enables its dependencies too.
func (a *Application) applyModules(ctx context.Context, cfg *config.Config) error {
	units := a.modules.List()
	var errs []error

	for _, u := range units {
		if !WantEnabled(cfg, u.Name()) && u.IsEnabled() {
			if err := a.modules.Disable(ctx, u.Name()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, u := range units {
		if WantEnabled(cfg, u.Name()) && !u.IsEnabled() {
			if err := a.modules.Enable(ctx, u.Name()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, name := range cfg.ModuleNames() {
		if _, ok := a.modules.Get(name); !ok {
			a.log.Warn("module added by reload is ignored until restart", "module", name)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("apply modules: %w", errors.Join(errs...))
	}
	return nil
}

// ApplyConfig adopts a reloaded config. Only module enablement takes
// effect immediately; other settings apply on restart.
func (a *Application) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	if err := a.applyModules(context.Background(), cfg); err != nil {
		a.log.Error("config not fully applied", "error", err)
		return
	}
	a.log.Info("config applied")
}

// ModuleStatuses returns every module in dependency order.
func (a *Application) ModuleStatuses() ([]ModuleStatus, error) {
	order, err := a.modules.Order()
	if err != nil {
		return nil, err
	}
	out := make([]ModuleStatus, 0, len(order))
	for _, u := range order {
		st := ModuleStatus{Name: u.Name(), Enabled: u.IsEnabled()}
		for _, d := range u.Dependencies() {
			st.Depends = append(st.Depends, d.Name())
		}
		out = append(out, st)
	}
	return out, nil
}
