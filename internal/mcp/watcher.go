// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	flintlog "github.com/tombee/flint/internal/log"
)

// DefaultDebounceDelay coalesces the bursts of events editors produce when
// saving a file.
const DefaultDebounceDelay = 500 * time.Millisecond

// Watcher monitors the descriptor file and calls OnChange once the file has
// settled after a change.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onChange  func(ctx context.Context)
	logger    *slog.Logger
	debounce  time.Duration

	mu      sync.Mutex
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures the descriptor file watcher.
type WatcherConfig struct {
	// Path is the descriptor file to watch.
	Path string

	// OnChange runs after each debounced change. It is never called
	// concurrently with itself.
	OnChange func(ctx context.Context)

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay defaults to DefaultDebounceDelay.
	DebounceDelay time.Duration
}

// NewWatcher starts watching cfg.Path. The containing directory is watched
// rather than the file itself, so atomic rename-on-save is picked up.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceDelay
	if debounce <= 0 {
		debounce = DefaultDebounceDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher: fsWatcher,
		path:      abs,
		onChange:  cfg.OnChange,
		logger:    flintlog.WithComponent(logger, "watcher"),
		debounce:  debounce,
		ctx:       ctx,
		cancel:    cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	w.logger.Debug("watching descriptor file", "path", abs)
	return w, nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", flintlog.Error(err))

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.pending = nil
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	w.logger.Info("descriptor file changed", "path", w.path)
	w.onChange(w.ctx)
}

// Close stops the watcher and waits for a running callback to return.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.cancel()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}

// ReloadFromFile returns a change callback that loads path and applies the
// result to pool. A file that fails to load leaves the current set running.
func ReloadFromFile(pool *Pool, path string, lookup EnvLookup, logger *slog.Logger) func(ctx context.Context) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) {
		descs, err := LoadDescriptorFile(path, lookup)
		if err != nil {
			logger.Error("descriptor reload rejected; keeping current servers", flintlog.Error(err))
			return
		}
		diff, err := pool.Reload(ctx, descs)
		if err != nil {
			logger.Error("descriptor reload failed", flintlog.Error(err))
			return
		}
		if diff.Empty() {
			logger.Debug("descriptor file changed without affecting servers")
			return
		}
		logger.Info("servers reloaded",
			"added", diff.Added,
			"removed", diff.Removed,
			"changed", diff.Changed,
		)
	}
}
