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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/notes"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

type fakeSource struct {
	projects    []Project
	sections    []Section
	tasks       []Task
	completed   []Task
	comments    map[string][]Comment
	commentErr  error
	taskQueries []TaskQuery
	completedQ  []CompletedQuery
}

func (f *fakeSource) Projects(context.Context) ([]Project, error) { return f.projects, nil }

func (f *fakeSource) Sections(context.Context, string) ([]Section, error) { return f.sections, nil }

func (f *fakeSource) Tasks(_ context.Context, q TaskQuery) ([]Task, error) {
	f.taskQueries = append(f.taskQueries, q)
	return f.tasks, nil
}

func (f *fakeSource) Comments(_ context.Context, taskID string) ([]Comment, error) {
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	return f.comments[taskID], nil
}

func (f *fakeSource) CompletedTasks(_ context.Context, q CompletedQuery) ([]Task, error) {
	f.completedQ = append(f.completedQ, q)
	return f.completed, nil
}

// memFiles is an in-memory sink.File.
type memFiles struct {
	mu       sync.Mutex
	files    map[string][]byte
	writeErr error
}

func newMemFiles() *memFiles { return &memFiles{files: map[string][]byte{}} }

func (m *memFiles) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	return data, nil
}

func (m *memFiles) WriteFile(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func sampleSource() *fakeSource {
	return &fakeSource{
		projects: []Project{{ID: "p1", Name: "Test Project"}, {ID: "p2", Name: "Home"}},
		tasks: []Task{
			{ID: "task1", Content: "Test Task", ProjectID: "p1", Priority: PriorityNone},
			{ID: "task2", Content: "Fix sink", ProjectID: "p2", Priority: PriorityHigh, Labels: []string{"diy"}},
		},
		comments: map[string][]Comment{
			"task2": {{ID: "c1", TaskID: "task2", Content: "bought washers", PostedAt: "2024-03-14T10:30:00Z"}},
		},
	}
}

func TestExporter_Export(t *testing.T) {
	src := sampleSource()
	files := newMemFiles()
	exp := NewExporter(src, files, DefaultExportConfig(), flintlog.Discard())

	res, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExportResult{Exported: 2}, res)

	one := string(files.files["task1.md"])
	assert.Contains(t, one, "Test Task")
	assert.Contains(t, one, `project: "Test Project"`)
	assert.NotContains(t, one, "## Comments")

	two := string(files.files["task2.md"])
	assert.Contains(t, two, "#todoist/label/diy")
	assert.Contains(t, two, "* 14 Mar 10:30 - bought washers")
	assert.Empty(t, src.completedQ, "completed tasks not requested by default")
}

func TestExporter_NoTasks(t *testing.T) {
	files := newMemFiles()
	exp := NewExporter(&fakeSource{}, files, DefaultExportConfig(), flintlog.Discard())

	res, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExportResult{}, res)
	assert.Empty(t, files.files)
}

func TestExporter_PreservesUserNotes(t *testing.T) {
	src := sampleSource()
	files := newMemFiles()
	exp := NewExporter(src, files, DefaultExportConfig(), flintlog.Discard())

	_, err := exp.Export(context.Background())
	require.NoError(t, err)

	files.files["task1.md"] = append(files.files["task1.md"], []byte("\nRemember the receipts.\n")...)
	src.tasks[0].Content = "Renamed Task"

	_, err = exp.Export(context.Background())
	require.NoError(t, err)

	got := string(files.files["task1.md"])
	assert.Contains(t, got, "# Renamed Task")
	assert.NotContains(t, got, "# Test Task")
	assert.Contains(t, got, NotesDelimiter+"\n\nRemember the receipts.\n")
}

func TestExporter_Filters(t *testing.T) {
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("project name resolves to id", func(t *testing.T) {
		src := sampleSource()
		cfg := DefaultExportConfig()
		cfg.ProjectName = "home"
		exp := NewExporter(src, newMemFiles(), cfg, flintlog.Discard())

		_, err := exp.Export(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []TaskQuery{{ProjectID: "p2"}}, src.taskQueries)
	})

	t.Run("unknown project name", func(t *testing.T) {
		cfg := DefaultExportConfig()
		cfg.ProjectName = "Nope"
		exp := NewExporter(sampleSource(), newMemFiles(), cfg, flintlog.Discard())

		_, err := exp.Export(context.Background())
		var nf *pkgerrors.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "Nope", nf.ID)
	})

	t.Run("filter expression and completed", func(t *testing.T) {
		src := sampleSource()
		src.completed = []Task{{ID: "done1", Content: "Old chore", ProjectID: "p2", IsCompleted: true, CompletedAt: now.Add(-time.Hour)}}
		cfg := DefaultExportConfig()
		cfg.Filter = "today"
		cfg.IncludeCompleted = true
		files := newMemFiles()
		exp := NewExporter(src, files, cfg, flintlog.Discard(), WithClock(func() time.Time { return now }))

		res, err := exp.Export(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, res.Exported)
		assert.Equal(t, []TaskQuery{{Filter: "today"}}, src.taskQueries)
		require.Len(t, src.completedQ, 1)
		assert.Equal(t, now.Add(-7*24*time.Hour), src.completedQ[0].Since)
		assert.Contains(t, string(files.files["done1.md"]), "#todoist/status/completed")
	})
}

func TestExporter_PartialFailures(t *testing.T) {
	t.Run("comment failure still exports", func(t *testing.T) {
		src := sampleSource()
		src.commentErr = errors.New("boom")
		files := newMemFiles()
		res, err := NewExporter(src, files, DefaultExportConfig(), flintlog.Discard()).Export(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.Exported)
	})

	t.Run("write failure counted", func(t *testing.T) {
		files := newMemFiles()
		files.writeErr = errors.New("disk full")
		res, err := NewExporter(sampleSource(), files, DefaultExportConfig(), flintlog.Discard()).Export(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ExportResult{Failed: 2}, res)
	})

	t.Run("foreign note skipped", func(t *testing.T) {
		files := newMemFiles()
		foreign := []byte("---\ntitle: \"Other\"\ntodoist_id: \"zzz\"\n---\n")
		files.files["task1.md"] = foreign
		res, err := NewExporter(sampleSource(), files, DefaultExportConfig(), flintlog.Discard()).Export(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ExportResult{Exported: 1, Skipped: 1}, res)
		assert.Equal(t, foreign, files.files["task1.md"])
	})
}

func TestExporter_WritesThroughVault(t *testing.T) {
	dir := t.TempDir()
	vault := notes.NewVault(dir, flintlog.Discard())
	res, err := NewExporter(sampleSource(), vault, DefaultExportConfig(), flintlog.Discard()).Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Exported)

	data, err := vault.ReadFile("task2.md")
	require.NoError(t, err)
	meta, ok := ParseNote(data)
	require.True(t, ok)
	assert.Equal(t, "task2", meta.TodoistID)
	assert.Equal(t, "Home", meta.Project)
	assert.Equal(t, PriorityHigh, meta.Priority)
}
