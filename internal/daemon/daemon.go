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

// Package daemon assembles and runs the long-lived flint process: the MCP
// server pool, the scheduler with its jobs, descriptor hot reload and the
// local HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/flint/internal/api"
	"github.com/tombee/flint/internal/config"
	"github.com/tombee/flint/internal/lifecycle"
	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/scheduler"
	"github.com/tombee/flint/internal/sink"
)

// historySize bounds the in-memory history used when the database cannot
// be opened.
const historySize = 200

// Options configures a Daemon.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Dialer and Completer replace the stdio dialer and the Anthropic
	// completer.
	Dialer    mcp.Dialer
	Completer mcp.Completer

	// Chat replaces the sink built from the Matrix settings.
	Chat sink.Chat
}

// Daemon is the flint daemon.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	pidFile *lifecycle.PIDFile
	stack   *Stack
	engine  *scheduler.Engine
	history scheduler.HistoryStore
	watcher *mcp.Watcher
	server  *http.Server
	ln      net.Listener
	serveCh chan error

	mu      sync.Mutex
	started bool
}

// New creates a daemon. Nothing is started until Start.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: flintlog.WithComponent(logger, "daemon"),
	}
}

// Start brings up the servers, the scheduler, the watcher and the API, and
// returns once the API is listening.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("daemon already started")
	}

	loc, err := d.cfg.Location()
	if err != nil {
		return err
	}

	if path := d.pidPath(); path != "" {
		pf := lifecycle.NewPIDFile(path)
		if err := pf.Acquire(); err != nil {
			return err
		}
		d.pidFile = pf
	}

	ln, err := net.Listen("tcp", d.cfg.Server.Listen)
	if err != nil {
		d.closeLocked(ctx)
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Server.Listen, err)
	}
	d.ln = ln

	stack, err := OpenStack(ctx, d.cfg, d.logger, StackOptions{
		Dialer:    d.opts.Dialer,
		Completer: d.opts.Completer,
	})
	if err != nil {
		d.closeLocked(ctx)
		return err
	}
	d.stack = stack

	d.history = d.openHistory(ctx)
	d.engine = scheduler.New(scheduler.Config{
		Location:        loc,
		Servers:         stack.Registry,
		History:         d.history,
		Logger:          d.logger,
		DeliveryTimeout: d.cfg.Jobs.DeliveryTimeout,
	})

	chat, err := d.chat()
	if err != nil {
		d.closeLocked(ctx)
		return err
	}
	jobs, err := BuildJobs(d.cfg, loc, stack.Dispatcher, chat, d.logger)
	if err != nil {
		d.closeLocked(ctx)
		return err
	}
	for _, j := range jobs {
		if err := d.engine.Register(j.Job, j.Trigger); err != nil {
			d.closeLocked(ctx)
			return err
		}
	}
	if err := d.engine.Start(ctx); err != nil {
		d.closeLocked(ctx)
		return err
	}

	if !d.cfg.MCP.DisableWatch {
		w, err := mcp.NewWatcher(mcp.WatcherConfig{
			Path:     d.cfg.MCP.ConfigPath,
			OnChange: mcp.ReloadFromFile(stack.Pool, d.cfg.MCP.ConfigPath, os.LookupEnv, d.logger),
			Logger:   d.logger,
		})
		if err != nil {
			d.logger.Warn("descriptor hot reload disabled", flintlog.Error(err))
		} else {
			d.watcher = w
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	}, api.Deps{
		Commands:   stack.Registry,
		Dispatcher: stack.Dispatcher,
		Servers:    stack.Pool,
		Jobs:       d.engine,
	}, d.logger)
	d.server = api.NewHTTPServer(ln.Addr().String(), router)
	d.serveCh = make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.serveCh <- err
		}
		close(d.serveCh)
	}()

	d.started = true
	d.logger.Info("flint ready",
		slog.String("listen", ln.Addr().String()),
		slog.Int("jobs", len(jobs)),
		slog.String("timezone", loc.String()),
	)
	return nil
}

// Addr is the address the API listens on, once started.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Done reports API server failures. It is closed when the server stops.
func (d *Daemon) Done() <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serveCh
}

// Shutdown stops accepting requests, stops the scheduler (letting composed
// artifacts finish delivery) and then the servers.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false

	d.logger.Info("graceful shutdown initiated")
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", flintlog.Error(err))
		}
	}
	d.closeLocked(ctx)
	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) closeLocked(ctx context.Context) {
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Error("watcher shutdown error", flintlog.Error(err))
		}
		d.watcher = nil
	}
	if d.engine != nil {
		d.engine.Stop()
	}
	if d.stack != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := d.stack.Close(stopCtx); err != nil {
			d.logger.Error("mcp pool shutdown error", flintlog.Error(err))
		}
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Error("failed to close run history", flintlog.Error(err))
		}
		d.history = nil
	}
	if d.server == nil && d.ln != nil {
		d.ln.Close()
	}
	d.ln = nil
	if d.pidFile != nil {
		if err := d.pidFile.Release(); err != nil {
			d.logger.Error("failed to release PID file", flintlog.Error(err))
		}
		d.pidFile = nil
	}
}

// pidPath places the PID file next to the state database. An in-memory
// database means no PID file.
func (d *Daemon) pidPath() string {
	db := d.cfg.StateDB
	if db == ":memory:" {
		return ""
	}
	if db == "" {
		var err error
		if db, err = scheduler.DefaultHistoryPath(); err != nil {
			return ""
		}
	}
	return filepath.Join(filepath.Dir(db), "flint.pid")
}

func (d *Daemon) openHistory(ctx context.Context) scheduler.HistoryStore {
	h, err := scheduler.OpenSQLiteHistory(ctx, d.cfg.StateDB)
	if err != nil {
		d.logger.Warn("run history database unavailable; keeping history in memory",
			flintlog.Error(err),
			slog.String("path", d.cfg.StateDB),
		)
		return scheduler.NewMemoryHistory(historySize)
	}
	return h
}

func (d *Daemon) chat() (sink.Chat, error) {
	if d.opts.Chat != nil {
		return d.opts.Chat, nil
	}
	if !d.cfg.MatrixEnabled() {
		d.logger.Info("no chat transport configured; messages go to the log")
		return sink.NewLogChat(d.logger), nil
	}
	m, err := sink.NewMatrixChat(d.cfg.MatrixSink(), d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix sink: %w", err)
	}
	return m, nil
}

// Wait blocks until ctx is done or the API server fails, then shuts the
// daemon down within the configured shutdown timeout.
func (d *Daemon) Wait(ctx context.Context) error {
	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-d.Done():
		if ok {
			serveErr = fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return serveErr
}
