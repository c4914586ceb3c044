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


// Package todoist implements 'flint export-todoist-tasks', a one-off run of
// the task sync.
package todoist

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/daemon"
	"github.com/tombee/flint/internal/todoist"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

type options struct {
	overrides daemon.ExportOverrides
	completed bool
	dryRun    bool
}

// NewCommand creates the export-todoist-tasks command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "export-todoist-tasks",
		Short: "Export Todoist tasks to markdown notes",
		Long: `Export Todoist tasks to one markdown note per task in TODOIST_NOTES_FOLDER.

Flags replace the configured project, filter and completed-task settings for
this run only.`,
		Example: `  # Export all tasks
  flint export-todoist-tasks

  # Export tasks from one project
  flint export-todoist-tasks --project-name "My Project"

  # Export tasks due today, including completed ones
  flint export-todoist-tasks --filter-expr today --include-completed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOptions(opts); err != nil {
				return err
			}
			if cmd.Flags().Changed("include-completed") {
				opts.overrides.IncludeCompleted = &opts.completed
			}
			return runExport(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.overrides.ProjectID, "project-id", "", "Only export tasks from this project ID")
	cmd.Flags().StringVar(&opts.overrides.ProjectName, "project-name", "", "Only export tasks from this project name")
	cmd.Flags().StringVar(&opts.overrides.Filter, "filter-expr", "", "Todoist filter expression, e.g. 'today' or 'p1'")
	cmd.Flags().BoolVar(&opts.completed, "include-completed", false, "Include recently completed tasks")
	cmd.Flags().StringVar(&opts.overrides.OutputDir, "output-dir", "", "Folder to write notes into (default TODOIST_NOTES_FOLDER)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report what would change without writing")

	return cmd
}

// validateOptions rejects flag combinations the export cannot honour.
func validateOptions(opts options) error {
	if opts.overrides.ProjectID != "" && opts.overrides.ProjectName != "" {
		return &pkgerrors.ValidationError{
			Field:      "--project-id",
			Message:    "cannot be combined with --project-name",
			Suggestion: "select the project by ID or by name, not both",
		}
	}
	return nil
}

func runExport(ctx context.Context, out io.Writer, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return shared.NewConfigError("invalid timezone", err)
	}
	logger := shared.NewCLILogger(cfg)

	exporter, err := daemon.NewExporter(cfg, loc, opts.overrides, logger, opts.dryRun)
	if err != nil {
		return shared.NewConfigError("cannot export tasks", err)
	}

	res, err := exporter.Export(ctx)
	if err != nil {
		return shared.NewFailedError("export failed", err)
	}
	if err := printResult(out, res, opts.dryRun); err != nil {
		return err
	}
	if res.Failed > 0 {
		return shared.NewFailedError(fmt.Sprintf("%d tasks failed to export", res.Failed), nil)
	}
	return nil
}

func printResult(out io.Writer, res todoist.ExportResult, dryRun bool) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{
			"exported": res.Exported,
			"skipped":  res.Skipped,
			"failed":   res.Failed,
			"dry_run":  dryRun,
		})
	}
	verb := "Exported"
	if dryRun {
		verb = "Would export"
	}
	_, err := fmt.Fprintf(out, "%s %d tasks (%d skipped, %d failed)\n", verb, res.Exported, res.Skipped, res.Failed)
	return err
}
