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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/notes"
)

var diaryDay = time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)

func newDiaryJob(t *testing.T, d Dispatcher) (*DiaryJob, string) {
	t.Helper()
	root := t.TempDir()
	vault := notes.NewVault(root, flintlog.Discard())
	return NewDiaryJob(DiaryConfig{Calendar: "calendar", Tasks: "tasks", Files: vault}, d, flintlog.Discard()), root
}

func readNote(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	return string(data)
}

func TestDiaryJob_Generate(t *testing.T) {
	d := newFakeDispatcher()
	d.answer("calendar", "* 14:00 - Design review\n* 9:00 - Standup")
	d.answer("tasks", "* [x] Ship release ✅ 2024-01-15 17:10\n* [x] Book flights ✅ 2024-01-15 08:05")

	job, _ := newDiaryJob(t, d)
	entry := job.Generate(context.Background(), diaryDay, DiaryOptions{})

	assert.Equal(t, StatusOK, entry.Status)
	assert.Equal(t, "2024-01-15.md", entry.Name)
	assert.Equal(t,
		"## Diary\n\n### Events\n* 09:00 - Standup\n* 14:00 - Design review\n\n"+
			"### Tasks\n* [x] Book flights ✅ 2024-01-15 08:05\n* [x] Ship release ✅ 2024-01-15 17:10\n",
		entry.Section)

	assert.Contains(t, d.asked("calendar")[0], "2024-01-15")
	assert.Contains(t, d.asked("tasks")[0], "UTC")
}

func TestDiaryJob_GenerateOptions(t *testing.T) {
	tests := []struct {
		name        string
		opts        DiaryOptions
		setup       func(d *fakeDispatcher)
		wantStatus  Status
		wantSection string
	}{
		{
			name: "skip calendar",
			opts: DiaryOptions{SkipCalendar: true},
			setup: func(d *fakeDispatcher) {
				d.answer("tasks", "* [x] Pay rent")
			},
			wantStatus:  StatusOK,
			wantSection: notes.DiarySection("", "* [x] Pay rent"),
		},
		{
			name:        "skip both",
			opts:        DiaryOptions{SkipCalendar: true, SkipTasks: true},
			setup:       func(d *fakeDispatcher) {},
			wantStatus:  StatusOK,
			wantSection: notes.DiarySection("", ""),
		},
		{
			name: "tasks server fails",
			setup: func(d *fakeDispatcher) {
				d.answer("calendar", "10:00 - Gym")
				d.fail("tasks", mcp.KindProcessFault)
			},
			wantStatus:  StatusPartial,
			wantSection: notes.DiarySection("* 10:00 - Gym", ""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDispatcher()
			tt.setup(d)
			job, _ := newDiaryJob(t, d)

			entry := job.Generate(context.Background(), diaryDay, tt.opts)
			assert.Equal(t, tt.wantStatus, entry.Status)
			assert.Equal(t, tt.wantSection, entry.Section)
			if tt.opts.SkipCalendar {
				assert.Empty(t, d.asked("calendar"))
			}
		})
	}
}

func TestDiaryJob_WriteDiary(t *testing.T) {
	d := newFakeDispatcher()
	d.answer("calendar", "09:00 - Standup")
	d.answer("tasks", "")
	job, root := newDiaryJob(t, d)
	ctx := context.Background()

	existing := "# Monday\n\n## Morning\nCoffee.\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "2024-01-15.md"), []byte(existing), 0o644))

	entry := job.Generate(ctx, diaryDay, DiaryOptions{})
	require.NoError(t, job.WriteDiary(ctx, entry, false))
	first := readNote(t, root, "2024-01-15.md")
	assert.Contains(t, first, "## Morning\nCoffee.")
	assert.Contains(t, first, "### Events\n* 09:00 - Standup")
	assert.Contains(t, first, "### Tasks\n"+notes.NoTasksText)

	err := job.WriteDiary(ctx, entry, false)
	assert.True(t, errors.Is(err, ErrDiaryExists))

	require.NoError(t, job.WriteDiary(ctx, entry, true))
	assert.Equal(t, first, readNote(t, root, "2024-01-15.md"), "forced rewrite of the same entry is idempotent")
}

func TestDiaryJob_ComposeDeliversWithForce(t *testing.T) {
	d := newFakeDispatcher()
	d.answer("calendar", "18:00 - Climbing")
	d.fail("tasks", mcp.KindTimeout)
	job, root := newDiaryJob(t, d)
	ctx := context.Background()

	assert.Equal(t, KindDiary, job.Kind())
	assert.Equal(t, []string{"calendar", "tasks"}, job.RequiredServers())

	require.NoError(t, os.WriteFile(filepath.Join(root, "2024-01-15.md"), []byte("## Diary\nold\n"), 0o644))

	art, err := job.Compose(ctx, diaryDay)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, art.Status)
	assert.Equal(t, "tasks: timeout", art.Detail)

	require.NoError(t, art.Deliver(ctx))
	note := readNote(t, root, "2024-01-15.md")
	assert.NotContains(t, note, "old")
	assert.Contains(t, note, "* 18:00 - Climbing")
}

func TestDiaryJob_RequiredServersOmitsUnset(t *testing.T) {
	job := NewDiaryJob(DiaryConfig{Calendar: "calendar"}, newFakeDispatcher(), nil)
	assert.Equal(t, []string{"calendar"}, job.RequiredServers())
}
