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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/flint/internal/config"
	flintlog "github.com/tombee/flint/internal/log"
)

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := New(cfg, logger, opts)
	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start daemon", flintlog.Error(err))
		return err
	}
	return d.Wait(ctx)
}
