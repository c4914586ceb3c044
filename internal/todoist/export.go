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

package todoist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/sink"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// Source is the subset of the Todoist API the exporter reads. *Client
// implements it.
type Source interface {
	Projects(ctx context.Context) ([]Project, error)
	Sections(ctx context.Context, projectID string) ([]Section, error)
	Tasks(ctx context.Context, query TaskQuery) ([]Task, error)
	Comments(ctx context.Context, taskID string) ([]Comment, error)
	CompletedTasks(ctx context.Context, query CompletedQuery) ([]Task, error)
}

// ExportConfig selects and formats the exported tasks.
type ExportConfig struct {
	// At most one of ProjectID and ProjectName is used; ProjectID wins.
	ProjectID   string
	ProjectName string
	// Filter is a Todoist filter expression. It overrides the project
	// selection for active tasks.
	Filter string

	IncludeCompleted bool
	// CompletedWindow bounds how far back completed tasks are fetched.
	CompletedWindow time.Duration

	IncludeComments bool
	TagPrefix       string
	PriorityAsTags  bool
	LabelsAsTags    bool
	Location        *time.Location
}

// DefaultExportConfig returns the configuration the scheduled sync uses.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		CompletedWindow: 7 * 24 * time.Hour,
		IncludeComments: true,
		TagPrefix:       "todoist",
		PriorityAsTags:  true,
		LabelsAsTags:    true,
		Location:        time.UTC,
	}
}

func (c ExportConfig) noteOptions() NoteOptions {
	return NoteOptions{
		TagPrefix:       c.TagPrefix,
		PriorityAsTags:  c.PriorityAsTags,
		LabelsAsTags:    c.LabelsAsTags,
		IncludeComments: c.IncludeComments,
		Location:        c.Location,
	}
}

// ExportResult counts what an export did.
type ExportResult struct {
	Exported int
	// Skipped counts files that exist under a task's name but belong to
	// something else.
	Skipped int
	Failed  int
}

// Exporter writes one markdown note per task.
type Exporter struct {
	source Source
	files  sink.File
	cfg    ExportConfig
	logger *slog.Logger
	now    func() time.Time
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithClock sets the time source used for the completed-task window.
func WithClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) { e.now = now }
}

// NewExporter creates an exporter writing through files.
func NewExporter(source Source, files sink.File, cfg ExportConfig, logger *slog.Logger, opts ...ExporterOption) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TagPrefix == "" {
		cfg.TagPrefix = "todoist"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	e := &Exporter{
		source: source,
		files:  files,
		cfg:    cfg,
		logger: flintlog.WithComponent(logger, "todoist"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export fetches the selected tasks and writes their notes. Per-task
// failures are counted and logged; only failures to list tasks or projects
// are returned as errors.
func (e *Exporter) Export(ctx context.Context) (ExportResult, error) {
	var res ExportResult

	projects, err := e.source.Projects(ctx)
	if err != nil {
		return res, fmt.Errorf("fetching projects: %w", err)
	}
	projectByID := make(map[string]*Project, len(projects))
	for i := range projects {
		projectByID[projects[i].ID] = &projects[i]
	}

	projectID, err := e.resolveProject(projects)
	if err != nil {
		return res, err
	}

	sections, err := e.source.Sections(ctx, projectID)
	if err != nil {
		return res, fmt.Errorf("fetching sections: %w", err)
	}
	sectionByID := make(map[string]*Section, len(sections))
	for i := range sections {
		sectionByID[sections[i].ID] = &sections[i]
	}

	tasks, err := e.source.Tasks(ctx, TaskQuery{ProjectID: projectID, Filter: e.cfg.Filter})
	if err != nil {
		return res, fmt.Errorf("fetching tasks: %w", err)
	}
	if e.cfg.IncludeCompleted {
		query := CompletedQuery{ProjectID: projectID}
		if e.cfg.CompletedWindow > 0 {
			query.Since = e.now().Add(-e.cfg.CompletedWindow)
		}
		done, err := e.source.CompletedTasks(ctx, query)
		if err != nil {
			return res, fmt.Errorf("fetching completed tasks: %w", err)
		}
		tasks = append(tasks, done...)
	}

	e.logger.InfoContext(ctx, "exporting todoist tasks", "tasks", len(tasks), "projects", len(projects))

	opts := e.cfg.noteOptions()
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		in := NoteInput{
			Task:    task,
			Project: projectByID[task.ProjectID],
			Section: sectionByID[task.SectionID],
		}
		if e.cfg.IncludeComments {
			comments, err := e.source.Comments(ctx, task.ID)
			if err != nil {
				e.logger.WarnContext(ctx, "fetching comments failed; exporting without them",
					"task_id", task.ID, flintlog.Error(err))
			}
			in.Comments = comments
		}

		written, err := e.writeNote(ctx, in, opts)
		switch {
		case err != nil:
			res.Failed++
			e.logger.ErrorContext(ctx, "exporting task failed", "task_id", task.ID, flintlog.Error(err))
		case !written:
			res.Skipped++
		default:
			res.Exported++
		}
	}

	e.logger.InfoContext(ctx, "todoist export finished",
		"exported", res.Exported, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (e *Exporter) resolveProject(projects []Project) (string, error) {
	if e.cfg.ProjectID != "" || e.cfg.ProjectName == "" {
		return e.cfg.ProjectID, nil
	}
	for _, p := range projects {
		if strings.EqualFold(p.Name, e.cfg.ProjectName) {
			return p.ID, nil
		}
	}
	return "", &pkgerrors.NotFoundError{Resource: "project", ID: e.cfg.ProjectName}
}

func (e *Exporter) writeNote(ctx context.Context, in NoteInput, opts NoteOptions) (bool, error) {
	name := NoteName(in.Task.ID)
	existing, err := e.files.ReadFile(name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(existing) > 0 {
		if meta, ok := ParseNote(existing); ok && meta.TodoistID != in.Task.ID {
			e.logger.WarnContext(ctx, "note belongs to another task; leaving it alone",
				"file", name, "todoist_id", meta.TodoistID)
			return false, nil
		}
	}

	data := MergeNote(RenderNote(in, opts), existing)
	if err := e.files.WriteFile(ctx, name, data); err != nil {
		return false, err
	}
	return true, nil
}
