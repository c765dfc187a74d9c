// Package watcher reloads the config file when it changes on disk.
//
// The watcher observes the file's directory rather than the file itself so
// editors that save by renaming a temporary file are still seen. Bursts of
// events are debounced into one reload.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/recode/internal/config"
	"github.com/dshills/recode/internal/logging"
)

// DefaultDebounce is the quiet period before a reload.
const DefaultDebounce = 100 * time.Millisecond

// Handler receives a freshly loaded and validated config.
type Handler func(cfg *config.Config)

// Watcher reloads one config file.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	log      *logging.Logger

	reloads  atomic.Int64
	failures atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration for rapid changes.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New starts watching path. Changes are delivered to handler once Run is
// called.
func New(path string, handler Handler, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		fs:       fsw,
		handler:  handler,
		debounce: DefaultDebounce,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("config.watcher").With("path", abs)
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Run processes file events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)

		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Reload loads the file now and delivers it. Invalid configs are logged
// and dropped; the previous config stays in effect.
func (w *Watcher) Reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.failures.Add(1)
		w.log.Error("config reload failed", "error", err)
		return
	}
	w.reloads.Add(1)
	w.log.Info("config reloaded")
	if w.handler != nil {
		w.handler(cfg)
	}
}

// Stats returns successful and failed reload counts.
func (w *Watcher) Stats() (reloads, failures int64) {
	return w.reloads.Load(), w.failures.Load()
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}
