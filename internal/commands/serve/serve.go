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

package serve

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/daemon"
)

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the flint daemon",
		Long: `Start the MCP servers from the descriptor file, schedule the enabled
jobs and serve the local HTTP API until interrupted.

Jobs are enabled by their settings: SCHEDULED_AGENDA_TIME with the calendar
and weather servers for the agenda, DAILY_NOTE_FOLDER for the diary, and
TODOIST_NOTES_FOLDER with TODOIST_API_TOKEN for the task sync.`,
		Example: `  # Start with settings from the environment
  flint serve

  # Use a settings file and a different API port
  flint serve --config ./flint.yaml --listen 127.0.0.1:9900`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "API listen address (default: FLINT_LISTEN or 127.0.0.1:9876)")

	return cmd
}

func runServe(ctx context.Context, listen string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := shared.NewLogger(cfg)
	slog.SetDefault(logger)

	v, c, b := shared.GetVersion()
	logger.Info("flint starting",
		slog.String("version", v),
		slog.String("descriptors", cfg.MCP.ConfigPath),
	)

	if err := daemon.Run(ctx, cfg, logger, daemon.Options{Version: v, Commit: c, BuildDate: b}); err != nil {
		return shared.NewFailedError("daemon failed", err)
	}
	logger.Info("shutdown complete")
	return nil
}
