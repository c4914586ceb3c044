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

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/flint/internal/config"
	"github.com/tombee/flint/internal/llm"
	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// Stack is the MCP plugin runtime assembled from configuration: the loaded
// descriptors and the pool, registry, dispatcher and command handler built
// on them.
type Stack struct {
	Descriptors []mcp.ServerDescriptor
	Pool        *mcp.Pool
	Registry    *mcp.Registry
	Dispatcher  *mcp.Dispatcher
	Handler     *mcp.Handler
}

// StackOptions tunes OpenStack.
type StackOptions struct {
	// Only restricts the started servers to these names. Empty starts
	// every enabled server.
	Only []string

	// ProbeInterval overrides the health probe period; negative disables
	// probing, as one-shot CLI commands do.
	ProbeInterval time.Duration

	// Dialer replaces the stdio dialer.
	Dialer mcp.Dialer

	// Completer replaces the completer built from the LLM settings.
	Completer mcp.Completer
}

// OpenStack loads the descriptor file and brings its servers up. Servers
// that fail to start are left out of the registry; only an unreadable or
// invalid descriptor file is an error.
func OpenStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts StackOptions) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	descs, err := mcp.LoadDescriptorFile(cfg.MCP.ConfigPath, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if len(opts.Only) > 0 {
		descs = selectDescriptors(descs, opts.Only)
	}

	completer := opts.Completer
	if completer == nil {
		completer = newCompleter(cfg, logger)
	}

	pool := mcp.NewPool(mcp.PoolConfig{
		Dialer:        opts.Dialer,
		Logger:        logger,
		Events:        mcp.NewEventEmitter(flintlog.WithComponent(logger, "mcp")),
		ProbeInterval: opts.ProbeInterval,
	})
	if err := pool.Start(ctx, descs); err != nil {
		return nil, fmt.Errorf("failed to start mcp servers: %w", err)
	}

	registry := mcp.NewRegistry(pool)
	dispatcher := mcp.NewDispatcher(pool, completer, logger)

	s := &Stack{
		Descriptors: descs,
		Pool:        pool,
		Registry:    registry,
		Dispatcher:  dispatcher,
		Handler:     mcp.NewHandler(registry, dispatcher, logger),
	}
	logger.Info("mcp servers started",
		slog.Int("configured", len(descs)),
		slog.Any("ready", registry.Commands()),
	)
	return s, nil
}

// Close stops every server.
func (s *Stack) Close(ctx context.Context) error {
	return s.Pool.Stop(ctx)
}

func selectDescriptors(descs []mcp.ServerDescriptor, names []string) []mcp.ServerDescriptor {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if n != "" {
			want[mcp.NormalizeName(n)] = true
		}
	}
	var out []mcp.ServerDescriptor
	for _, d := range descs {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// newCompleter builds the Anthropic completer, falling back to one that
// fails every dispatch when no key is configured.
func newCompleter(cfg *config.Config, logger *slog.Logger) mcp.Completer {
	c, err := llm.NewCompleter(cfg.Completion(logger))
	if err != nil {
		var cfgErr *pkgerrors.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Warn("completion provider not configured; commands will fail", flintlog.Error(err))
		} else {
			logger.Error("failed to create completion provider", flintlog.Error(err))
		}
		return llm.Unconfigured{}
	}
	return c
}
