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


package diary

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/config"
	"github.com/tombee/flint/internal/notes"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

func TestTargetDay(t *testing.T) {
	prague, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)
	// 23:30 UTC is already the next day in Prague.
	now := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		opts    options
		want    string
		wantErr bool
	}{
		{name: "default is today", want: "2024-01-16"},
		{name: "today", opts: options{today: true}, want: "2024-01-16"},
		{name: "yesterday", opts: options{yesterday: true}, want: "2024-01-15"},
		{name: "explicit date", opts: options{date: "2023-12-31"}, want: "2023-12-31"},
		{name: "bad date", opts: options{date: "31/12/2023"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day, err := targetDay(tt.opts, now, prague)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
				var valErr *pkgerrors.ValidationError
				require.True(t, errors.As(err, &valErr))
				assert.Equal(t, "--date", valErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, day.Format(dateLayout))
			assert.Equal(t, 0, day.Hour())
			assert.Equal(t, prague, day.Location())
		})
	}
}

func TestServers(t *testing.T) {
	cfg := config.Default()
	cfg.MCP.Calendar = "calendar"
	cfg.MCP.Tasks = "todoist"

	assert.Equal(t, []string{"calendar", "todoist"}, servers(cfg, options{}))
	assert.Equal(t, []string{"todoist"}, servers(cfg, options{noCalendar: true}))
	assert.Empty(t, servers(cfg, options{noCalendar: true, noTasks: true}))

	cfg.MCP.Tasks = "calendar"
	assert.Equal(t, []string{"calendar"}, servers(cfg, options{}))
}

// setup writes a settings file with a daily folder and no MCP sources.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	daily := filepath.Join(dir, "daily")
	path := filepath.Join(dir, "flint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\nnotes:\n  daily_folder: "+daily+"\n"), 0o600))

	for _, key := range []string{"DAILY_NOTE_FOLDER", "MCP_CALENDAR_NAME", "MCP_TODOIST_NAME", "TZ"} {
		t.Setenv(key, "")
	}
	shared.SetFlagsForTest(path, false)
	t.Cleanup(func() { shared.SetFlagsForTest("", false) })
	return daily
}

func TestRunDiary(t *testing.T) {
	daily := setup(t)
	ctx := context.Background()
	opts := options{date: "2024-01-15"}
	note := filepath.Join(daily, "2024-01-15.md")

	var out bytes.Buffer
	require.NoError(t, runDiary(ctx, &out, opts))
	assert.Contains(t, out.String(), "written to "+note)

	data, err := os.ReadFile(note)
	require.NoError(t, err)
	assert.Contains(t, string(data), notes.DiaryHeading)
	assert.Contains(t, string(data), notes.NoEventsText)

	err = runDiary(ctx, &out, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use --force")

	opts.force = true
	assert.NoError(t, runDiary(ctx, &out, opts))
}

func TestRunDiary_DryRun(t *testing.T) {
	daily := setup(t)

	var out bytes.Buffer
	require.NoError(t, runDiary(context.Background(), &out, options{date: "2024-01-15", dryRun: true}))
	assert.Contains(t, out.String(), "DIARY PREVIEW - 2024-01-15")
	assert.Contains(t, out.String(), "Would be saved to: "+filepath.Join(daily, "2024-01-15.md"))

	_, err := os.Stat(daily)
	assert.True(t, os.IsNotExist(err))
}

func TestRunDiary_NoFolder(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "flint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\n"), 0o600))
	shared.SetFlagsForTest(path, false)

	err := runDiary(context.Background(), &bytes.Buffer{}, options{})
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
}
