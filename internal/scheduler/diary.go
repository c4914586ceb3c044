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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/notes"
	"github.com/tombee/flint/internal/sink"
)

// ErrDiaryExists is returned by WriteDiary when the note already has a
// diary section and force is off.
var ErrDiaryExists = errors.New("diary section already exists")

// DiaryConfig configures the daily diary.
type DiaryConfig struct {
	Calendar string
	Tasks    string
	// Files is the daily notes folder.
	Files sink.File
}

// DiaryOptions tunes a single diary generation.
type DiaryOptions struct {
	SkipCalendar bool
	SkipTasks    bool
}

// DiaryEntry is a generated diary section for one day.
type DiaryEntry struct {
	Day     time.Time
	Name    string
	Section string
	Status  Status
	Detail  string
}

// DiaryJob writes the day's events and completed tasks into the daily note.
type DiaryJob struct {
	cfg        DiaryConfig
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewDiaryJob creates the diary job.
func NewDiaryJob(cfg DiaryConfig, dispatcher Dispatcher, logger *slog.Logger) *DiaryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiaryJob{cfg: cfg, dispatcher: dispatcher, logger: flintlog.WithComponent(logger, "diary")}
}

// Kind implements Job.
func (j *DiaryJob) Kind() Kind { return KindDiary }

// RequiredServers implements Job.
func (j *DiaryJob) RequiredServers() []string {
	var out []string
	for _, s := range []string{j.cfg.Calendar, j.cfg.Tasks} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Compose implements Job. The scheduled run always replaces an existing
// diary section.
func (j *DiaryJob) Compose(ctx context.Context, now time.Time) (*Artifact, error) {
	entry := j.Generate(ctx, now, DiaryOptions{})
	return &Artifact{
		Status: entry.Status,
		Detail: entry.Detail,
		Deliver: func(ctx context.Context) error {
			return j.WriteDiary(ctx, entry, true)
		},
	}, nil
}

// Generate asks the calendar and task servers about day and renders the
// diary section. Failed or skipped sources fall back to placeholder text.
func (j *DiaryJob) Generate(ctx context.Context, day time.Time, opts DiaryOptions) DiaryEntry {
	askCalendar := j.cfg.Calendar != "" && !opts.SkipCalendar
	askTasks := j.cfg.Tasks != "" && !opts.SkipTasks

	var (
		wg                  sync.WaitGroup
		eventsRes, tasksRes mcp.Result
	)
	if askCalendar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eventsRes = j.dispatcher.Dispatch(ctx, j.cfg.Calendar, diaryCalendarPrompt(day))
		}()
	}
	if askTasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasksRes = j.dispatcher.Dispatch(ctx, j.cfg.Tasks, diaryTasksPrompt(day))
		}()
	}
	wg.Wait()

	entry := DiaryEntry{Day: day, Name: notes.DailyNoteName(day), Status: StatusOK}
	var failures []string
	var events, tasks string
	if askCalendar {
		if eventsRes.OK() {
			events = bulletList(sortByClock(listItems(eventsRes.Text)))
		} else {
			failures = append(failures, fmt.Sprintf("%s: %s", j.cfg.Calendar, eventsRes.Err.Kind))
			j.logger.WarnContext(ctx, "diary calendar source failed",
				slog.String(flintlog.ServerKey, j.cfg.Calendar), flintlog.Error(eventsRes.Err))
		}
	}
	if askTasks {
		if tasksRes.OK() {
			tasks = bulletList(sortByCompletion(listItems(tasksRes.Text)))
		} else {
			failures = append(failures, fmt.Sprintf("%s: %s", j.cfg.Tasks, tasksRes.Err.Kind))
			j.logger.WarnContext(ctx, "diary tasks source failed",
				slog.String(flintlog.ServerKey, j.cfg.Tasks), flintlog.Error(tasksRes.Err))
		}
	}
	if len(failures) > 0 {
		entry.Status = StatusPartial
		entry.Detail = strings.Join(failures, ", ")
	}
	entry.Section = notes.DiarySection(events, tasks)
	return entry
}

// WriteDiary merges entry into the daily note. Without force an existing
// diary section is left alone and ErrDiaryExists is returned.
func (j *DiaryJob) WriteDiary(ctx context.Context, entry DiaryEntry, force bool) error {
	existing, err := j.cfg.Files.ReadFile(entry.Name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", entry.Name, err)
	}
	if !force && notes.HasSection(string(existing), notes.DiaryHeading) {
		return fmt.Errorf("%s: %w", entry.Name, ErrDiaryExists)
	}

	updated := notes.ReplaceSection(string(existing), notes.DiaryHeading, entry.Section)
	if err := j.cfg.Files.WriteFile(ctx, entry.Name, []byte(updated)); err != nil {
		return fmt.Errorf("writing %s: %w", entry.Name, err)
	}
	j.logger.InfoContext(ctx, "diary entry written", "file", entry.Name, "status", entry.Status)
	return nil
}

func diaryCalendarPrompt(day time.Time) string {
	return fmt.Sprintf("Summarize what happened in my calendar on %s. "+
		"List the events and meetings of that day only, one per line, as:\n"+
		"* HH:MM - <one short sentence describing the event>\n"+
		"Use 24-hour times in the %s time zone without zone suffixes. "+
		"Do not add any other text or lines.",
		day.Format("2006-01-02"), day.Location().String())
}

func diaryTasksPrompt(day time.Time) string {
	return fmt.Sprintf("Which tasks did I complete on %s? List only tasks finished that day, one per line, as:\n"+
		"* [x] <one short sentence describing the task> ✅ YYYY-MM-DD HH:MM\n"+
		"where the stamp is the completion time in 24-hour format in the %s time zone. "+
		"Do not add any other text or lines.",
		day.Format("2006-01-02"), day.Location().String())
}
