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
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/flint/internal/config"
	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/notes"
	"github.com/tombee/flint/internal/scheduler"
	"github.com/tombee/flint/internal/sink"
	"github.com/tombee/flint/internal/todoist"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// JobSpec pairs a job with its trigger.
type JobSpec struct {
	Job     scheduler.Job
	Trigger scheduler.Trigger
}

// BuildJobs creates every job whose settings are complete. Jobs with some
// but not all settings are logged as warnings and left out.
func BuildJobs(cfg *config.Config, loc *time.Location, d scheduler.Dispatcher, chat sink.Chat, logger *slog.Logger) ([]JobSpec, error) {
	var specs []JobSpec
	for _, check := range cfg.CheckJobs() {
		if !check.Enabled {
			if check.Requested {
				logger.Warn("job disabled: missing settings",
					slog.String(flintlog.JobKey, string(check.Kind)),
					slog.Any("missing", check.Missing),
				)
			} else {
				logger.Debug("job not configured", slog.String(flintlog.JobKey, string(check.Kind)))
			}
			continue
		}

		spec, err := buildJob(cfg, check.Kind, loc, d, chat, logger)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "job %s", check.Kind)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildJob(cfg *config.Config, kind scheduler.Kind, loc *time.Location, d scheduler.Dispatcher, chat sink.Chat, logger *slog.Logger) (JobSpec, error) {
	switch kind {
	case scheduler.KindAgenda:
		trigger, err := scheduleTrigger(cfg.Jobs.AgendaTime, loc)
		if err != nil {
			return JobSpec{}, err
		}
		job := scheduler.NewAgendaJob(scheduler.AgendaConfig{
			Calendar: cfg.MCP.Calendar,
			Weather:  cfg.MCP.Weather,
			Greeting: cfg.Jobs.Greeting,
			Chat:     chat,
		}, d, logger)
		return JobSpec{Job: job, Trigger: trigger}, nil

	case scheduler.KindDiary:
		trigger, err := scheduleTrigger(cfg.Jobs.DiaryTime, loc)
		if err != nil {
			return JobSpec{}, err
		}
		return JobSpec{
			Job:     NewDiaryJob(cfg, d, logger, false),
			Trigger: trigger,
		}, nil

	case scheduler.KindTaskSync:
		every, err := cfg.SyncInterval()
		if err != nil {
			logger.Warn("invalid task sync schedule; using the default",
				flintlog.Error(err),
				slog.Duration("interval", every),
			)
		}
		exporter, err := NewExporter(cfg, loc, ExportOverrides{}, logger, false)
		if err != nil {
			return JobSpec{}, err
		}
		return JobSpec{
			Job:     scheduler.NewTaskSyncJob(exporter, chat, logger),
			Trigger: scheduler.Interval{Every: every, FirstDelay: scheduler.DefaultSyncFirstDelay},
		}, nil
	}
	return JobSpec{}, fmt.Errorf("unknown job kind %q", kind)
}

// scheduleTrigger parses an agenda or diary schedule. Interval schedules
// first fire one full period after start.
func scheduleTrigger(spec string, loc *time.Location) (scheduler.Trigger, error) {
	trigger, err := scheduler.ParseTrigger(spec, loc, 0)
	if err != nil {
		return nil, err
	}
	if iv, ok := trigger.(scheduler.Interval); ok {
		iv.FirstDelay = iv.Every
		return iv, nil
	}
	return trigger, nil
}

// NewDiaryJob creates the diary job writing into the daily notes folder.
func NewDiaryJob(cfg *config.Config, d scheduler.Dispatcher, logger *slog.Logger, dryRun bool) *scheduler.DiaryJob {
	vault := notes.NewVault(cfg.Notes.DailyFolder, logger, notes.WithDryRun(dryRun))
	return scheduler.NewDiaryJob(scheduler.DiaryConfig{
		Calendar: cfg.MCP.Calendar,
		Tasks:    cfg.MCP.Tasks,
		Files:    vault,
	}, d, logger)
}

// ExportOverrides replace the configured task selection for one export.
type ExportOverrides struct {
	ProjectID        string
	ProjectName      string
	Filter           string
	IncludeCompleted *bool
	OutputDir        string
}

// NewExporter creates a Todoist exporter from the configuration.
func NewExporter(cfg *config.Config, loc *time.Location, o ExportOverrides, logger *slog.Logger, dryRun bool) (*todoist.Exporter, error) {
	client, err := todoist.NewClient(todoist.ClientConfig{
		Token:  cfg.Todoist.APIToken,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	ec := todoist.DefaultExportConfig()
	ec.ProjectID = cfg.Todoist.ProjectID
	ec.ProjectName = cfg.Todoist.ProjectName
	ec.Filter = cfg.Todoist.Filter
	ec.IncludeCompleted = cfg.Todoist.IncludeCompleted
	ec.TagPrefix = cfg.Todoist.TagPrefix
	ec.Location = loc
	if o.ProjectID != "" || o.ProjectName != "" {
		ec.ProjectID, ec.ProjectName = o.ProjectID, o.ProjectName
	}
	if o.Filter != "" {
		ec.Filter = o.Filter
	}
	if o.IncludeCompleted != nil {
		ec.IncludeCompleted = *o.IncludeCompleted
	}

	dir := cfg.Notes.TodoistFolder
	if o.OutputDir != "" {
		dir = o.OutputDir
	}
	if dir == "" {
		return nil, fmt.Errorf("no output folder: set TODOIST_NOTES_FOLDER or pass --output-dir")
	}
	vault := notes.NewVault(dir, logger, notes.WithDryRun(dryRun))
	return todoist.NewExporter(client, vault, ec, logger), nil
}
