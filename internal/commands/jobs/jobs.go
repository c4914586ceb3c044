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

// Package jobs implements 'flint jobs', which inspects and triggers the
// daemon's scheduled jobs.
package jobs

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/client"
	"github.com/tombee/flint/internal/commands/completion"
	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/scheduler"
)

// NewCommand creates the jobs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run scheduled jobs",
		Long: `Inspect and run the jobs scheduled by the running daemon.

Job kinds:
  daily_agenda        morning weather and calendar summary
  daily_diary         events and completed tasks written to the daily note
  periodic_task_sync  Todoist tasks mirrored into notes`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newHistoryCommand())
	cmd.AddCommand(newRunCommand())

	return cmd
}

func newClient() (*client.Client, string, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, "", err
	}
	c, err := shared.NewClient(cfg, shared.NewCLILogger(cfg))
	if err != nil {
		return nil, "", err
	}
	return c, shared.DaemonAddr(cfg), nil
}

func apiError(action, addr string, err error) error {
	if client.IsUnavailable(err) {
		return shared.NewUnavailableError(fmt.Sprintf("flint daemon is not running at %s", addr), err)
	}
	return shared.NewFailedError(action, err)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, addr, err := newClient()
			if err != nil {
				return err
			}
			jobs, err := c.Jobs(cmd.Context())
			if err != nil {
				return apiError("failed to list jobs", addr, err)
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}
}

func printJobs(out io.Writer, jobs []scheduler.JobStatus) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{"jobs": jobs})
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs scheduled. Run 'flint serve --verbose' to see which settings are missing.")
		return nil
	}

	fmt.Fprintln(out, shared.Header.Render(fmt.Sprintf("%-20s %-8s %-22s %-17s %-17s %s", "KIND", "STATE", "TRIGGER", "LAST RUN", "NEXT RUN", "RUNS")))
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, j := range jobs {
		last := "-"
		if !j.LastRunAt.IsZero() {
			last = j.LastRunAt.Format(timeLayout)
			if j.LastStatus != "" {
				last += " " + string(j.LastStatus)
			}
		}
		fmt.Fprintf(out, "%-20s %-8s %-22s %-17s %-17s %d (%d failed)\n",
			j.Kind,
			j.State,
			j.Trigger,
			last,
			j.NextRunAt.Format(timeLayout),
			j.RunCount,
			j.FailureCount,
		)
	}
	return nil
}

const timeLayout = "2006-01-02 15:04"

func newHistoryCommand() *cobra.Command {
	var (
		kind  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job runs",
		Example: `  # Last 20 runs of every job
  flint jobs history

  # Last 5 diary runs as JSON
  flint jobs history --kind daily_diary --limit 5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, addr, err := newClient()
			if err != nil {
				return err
			}
			runs, err := c.History(cmd.Context(), scheduler.Kind(kind), limit)
			if err != nil {
				return apiError("failed to read job history", addr, err)
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only show runs of this job kind")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	_ = cmd.RegisterFlagCompletionFunc("kind", completion.CompleteJobKinds)

	return cmd
}

func printRuns(out io.Writer, runs []scheduler.RunRecord) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{"runs": runs})
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	fmt.Fprintln(out, shared.Header.Render(fmt.Sprintf("%-17s %-20s %-8s %-9s %s", "STARTED", "KIND", "STATUS", "DURATION", "DETAIL")))
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, r := range runs {
		kind := string(r.Kind)
		if r.Manual {
			kind += "*"
		}
		fmt.Fprintf(out, "%-17s %-20s %s %-9s %s\n",
			r.StartedAt.Local().Format(timeLayout),
			kind,
			shared.RenderRunStatus(r.Status, 8),
			r.Duration().Round(time.Millisecond),
			r.Detail,
		)
	}
	return nil
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <kind>",
		Short: "Run a job now",
		Long: `Run a scheduled job immediately in the daemon and wait for it to finish.
The job still runs at its next scheduled time.`,
		Example:           `  flint jobs run daily_agenda`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteJobArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, addr, err := newClient()
			if err != nil {
				return err
			}
			rec, err := c.RunJob(cmd.Context(), scheduler.Kind(args[0]))
			if err != nil {
				return apiError(fmt.Sprintf("failed to run %s", args[0]), addr, err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s", rec.Kind, shared.RenderRunStatus(rec.Status, 0), rec.Duration().Round(time.Millisecond))
			if rec.Detail != "" {
				fmt.Fprintf(cmd.OutOrStdout(), ": %s", rec.Detail)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if rec.Status == scheduler.StatusFailed {
				return shared.NewFailedError(fmt.Sprintf("%s failed", rec.Kind), nil)
			}
			return nil
		},
	}
}
