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


// Package diary implements 'flint diary', which writes the diary section of
// a daily note on demand.
package diary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/config"
	"github.com/tombee/flint/internal/daemon"
	"github.com/tombee/flint/internal/scheduler"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

const dateLayout = "2006-01-02"

type options struct {
	date       string
	yesterday  bool
	today      bool
	force      bool
	dryRun     bool
	noCalendar bool
	noTasks    bool
}

// NewCommand creates the diary command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "diary",
		Short: "Write the diary section of a daily note",
		Long: `Ask the calendar and task servers about a day and write the result
into the "## Diary" section of that day's note in DAILY_NOTE_FOLDER.

An existing diary section is kept unless --force is given.`,
		Example: `  # Today's diary
  flint diary

  # Preview yesterday's diary without writing it
  flint diary --yesterday --dry-run

  # Rewrite a specific day using only the calendar
  flint diary --date 2024-01-15 --force --no-tasks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiary(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.date, "date", "", "Day to write, as YYYY-MM-DD")
	cmd.Flags().BoolVar(&opts.yesterday, "yesterday", false, "Write yesterday's diary")
	cmd.Flags().BoolVar(&opts.today, "today", false, "Write today's diary (default)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace an existing diary section")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the diary section without saving it")
	cmd.Flags().BoolVar(&opts.noCalendar, "no-calendar", false, "Skip calendar events")
	cmd.Flags().BoolVar(&opts.noTasks, "no-tasks", false, "Skip completed tasks")
	cmd.MarkFlagsMutuallyExclusive("date", "yesterday", "today")

	return cmd
}

// targetDay resolves the date flags to midnight of the chosen day in loc.
func targetDay(opts options, now time.Time, loc *time.Location) (time.Time, error) {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch {
	case opts.date != "":
		day, err := time.ParseInLocation(dateLayout, opts.date, loc)
		if err != nil {
			return time.Time{}, &pkgerrors.ValidationError{
				Field:      "--date",
				Message:    fmt.Sprintf("%q is not a date", opts.date),
				Suggestion: "use YYYY-MM-DD, e.g. --date 2024-01-15",
			}
		}
		return day, nil
	case opts.yesterday:
		return today.AddDate(0, 0, -1), nil
	default:
		return today, nil
	}
}

// servers lists the configured sources the run will ask.
func servers(cfg *config.Config, opts options) []string {
	var out []string
	if cfg.MCP.Calendar != "" && !opts.noCalendar {
		out = append(out, cfg.MCP.Calendar)
	}
	if cfg.MCP.Tasks != "" && !opts.noTasks && cfg.MCP.Tasks != cfg.MCP.Calendar {
		out = append(out, cfg.MCP.Tasks)
	}
	return out
}

func runDiary(ctx context.Context, out io.Writer, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Notes.DailyFolder == "" {
		return shared.NewConfigError("DAILY_NOTE_FOLDER is not set", nil)
	}
	loc, err := cfg.Location()
	if err != nil {
		return shared.NewConfigError("invalid timezone", err)
	}
	day, err := targetDay(opts, time.Now(), loc)
	if err != nil {
		return err
	}
	logger := shared.NewCLILogger(cfg)

	// With no sources to ask the job never dispatches.
	var d scheduler.Dispatcher
	if only := servers(cfg, opts); len(only) > 0 {
		stack, err := daemon.OpenStack(ctx, cfg, logger, daemon.StackOptions{Only: only, ProbeInterval: -1})
		if err != nil {
			return shared.NewConfigError("failed to load MCP servers", err)
		}
		defer stack.Close(context.WithoutCancel(ctx))
		d = stack.Dispatcher
	}

	job := daemon.NewDiaryJob(cfg, d, logger, opts.dryRun)
	entry := job.Generate(ctx, day, scheduler.DiaryOptions{
		SkipCalendar: opts.noCalendar,
		SkipTasks:    opts.noTasks,
	})
	path := filepath.Join(cfg.Notes.DailyFolder, entry.Name)

	if opts.dryRun {
		return preview(out, entry, path)
	}

	if err := job.WriteDiary(ctx, entry, opts.force); err != nil {
		if errors.Is(err, scheduler.ErrDiaryExists) {
			return shared.NewFailedError(
				fmt.Sprintf("%s already has a diary section; use --force to overwrite or --dry-run to preview", path), nil)
		}
		return shared.NewFailedError("failed to save diary entry", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, entryView(entry, path))
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Diary for %s written to %s", day.Format(dateLayout), path)))
	if entry.Status != scheduler.StatusOK {
		fmt.Fprintln(out, shared.RenderWarn("Some sources failed: "+entry.Detail))
	}
	return nil
}

type diaryView struct {
	Date    string           `json:"date"`
	Path    string           `json:"path"`
	Status  scheduler.Status `json:"status"`
	Detail  string           `json:"detail,omitempty"`
	Section string           `json:"section"`
}

func entryView(entry scheduler.DiaryEntry, path string) diaryView {
	return diaryView{
		Date:    entry.Day.Format(dateLayout),
		Path:    path,
		Status:  entry.Status,
		Detail:  entry.Detail,
		Section: entry.Section,
	}
}

func preview(out io.Writer, entry scheduler.DiaryEntry, path string) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, entryView(entry, path))
	}
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "DIARY PREVIEW - %s\n", entry.Day.Format(dateLayout))
	fmt.Fprintln(out, rule)
	fmt.Fprint(out, entry.Section)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Would be saved to: %s\n", path)
	if entry.Status != scheduler.StatusOK {
		fmt.Fprintln(out, shared.RenderWarn("Some sources failed: "+entry.Detail))
	}
	return nil
}
