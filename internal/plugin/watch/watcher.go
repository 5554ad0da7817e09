// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package watch reloads agents when their files change on disk.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/pkg/errutil"
)

// DefaultDebounce collapses bursts of writes, such as an editor saving or
// a build replacing a binary, into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Reloader is the part of plugins.Manager the watcher drives.
type Reloader interface {
	WatchTargets() []plugins.WatchTarget
	ReloadFromDisk(ctx context.Context, id string) (*plugins.Instance, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher watches the directories of manifest-loaded agents. A change to
// an agent's entry file or manifest triggers ReloadFromDisk once the
// debounce period passes without further changes. Failed reloads are
// logged; the running instance keeps serving.
type Watcher struct {
	reloader Reloader
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	targets map[string]plugins.WatchTarget // keyed by directory
	timers  map[string]*time.Timer         // keyed by agent id
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// New creates a watcher for reloader's agents.
func New(reloader Reloader, opts ...Option) *Watcher {
	w := &Watcher{
		reloader: reloader,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		targets:  make(map[string]plugins.WatchTarget),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It returns once the current targets are watched;
// events are processed in the background until Close or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("watch").Hint("create file watcher").Wrap(err)
	}

	w.mu.Lock()
	if w.fsw != nil || w.closed {
		w.mu.Unlock()
		_ = fsw.Close()
		return oops.In("watch").Errorf("watcher already started")
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	if err := w.Refresh(); err != nil {
		w.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop(fsw)
	w.logger.Info("hot reload enabled", "debounce", w.debounce)
	return nil
}

// Refresh re-reads the watch targets, watching new agent directories and
// dropping directories whose agents are gone.
func (w *Watcher) Refresh() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil || w.closed {
		return nil
	}

	next := make(map[string]plugins.WatchTarget)
	for _, t := range w.reloader.WatchTargets() {
		dir := filepath.Clean(t.Dir)
		next[dir] = t
		if _, watched := w.targets[dir]; watched {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			return oops.In("watch").With("agent", t.AgentID).With("dir", dir).Wrap(err)
		}
	}
	for dir := range w.targets {
		if _, keep := next[dir]; !keep {
			_ = w.fsw.Remove(dir)
		}
	}
	w.targets = next
	return nil
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handle schedules a reload when event touches a watched agent's files.
func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	target, ok := w.targets[filepath.Dir(event.Name)]
	if !ok {
		return
	}
	base := filepath.Base(event.Name)
	if base != plugins.ManifestFile && base != filepath.Base(target.Entry) {
		return
	}

	id := target.AgentID
	if timer, exists := w.timers[id]; exists {
		timer.Stop()
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() { w.fire(id) })
}

func (w *Watcher) fire(id string) {
	w.mu.Lock()
	delete(w.timers, id)
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	ctx := w.ctx
	w.mu.Unlock()
	defer w.wg.Done()

	w.logger.Info("agent changed, reloading", "agent", id)
	if _, err := w.reloader.ReloadFromDisk(ctx, id); err != nil {
		errutil.LogError(ctx, w.logger, "failed to reload agent", err, "agent", id)
		return
	}
	w.logger.Info("agent reloaded", "agent", id)

	if err := w.Refresh(); err != nil {
		w.logger.Warn("failed to refresh watch targets", "error", err)
	}
}

// Close stops watching and waits for in-flight reloads.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	if w.cancel != nil {
		w.cancel()
	}
	fsw := w.fsw
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
}
