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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flint/internal/scheduler"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// envKeys lists every variable Load reads, so tests start from a clean
// environment.
var envKeys = []string{
	"TZ", "MCP_CONFIG_PATH", "MCP_CALENDAR_NAME", "MCP_WEATHER_NAME", "MCP_TODOIST_NAME",
	"FLINT_WATCH_CONFIG", "SCHEDULED_AGENDA_TIME", "SCHEDULED_DIARY_TIME", "TODOIST_NOTES_SCHEDULE",
	"AGENDA_GREETING", "DAILY_NOTE_FOLDER", "TODOIST_NOTES_FOLDER", "TODOIST_API_TOKEN",
	"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "SYSTEM_INSTRUCTIONS",
	"MATRIX_HOMESERVER", "MATRIX_USER_ID", "MATRIX_ACCESS_TOKEN", "MATRIX_ROOM_ID",
	"FLINT_LISTEN", "FLINT_STATE_DB", "FLINT_DEBUG", "FLINT_LOG_LEVEL", "LOG_LEVEL",
	"LOG_FORMAT", "LOG_SOURCE", "LOG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "config/mcp.yaml", cfg.MCP.ConfigPath)
	assert.Equal(t, "23:59", cfg.Jobs.DiaryTime)
	assert.Empty(t, cfg.Jobs.AgendaTime)
	assert.Equal(t, "1h", cfg.Jobs.TaskSyncSchedule)
	assert.Equal(t, "127.0.0.1:9876", cfg.Server.Listen)
	assert.Equal(t, DefaultSystemInstructions, cfg.LLM.SystemInstructions)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("TZ", "Europe/Prague")
	t.Setenv("MCP_CALENDAR_NAME", "calendar")
	t.Setenv("MCP_WEATHER_NAME", "weather")
	t.Setenv("SCHEDULED_AGENDA_TIME", "07:30")
	t.Setenv("TODOIST_API_TOKEN", "tok")
	t.Setenv("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	t.Setenv("FLINT_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Prague", cfg.Timezone)
	assert.Equal(t, "calendar", cfg.MCP.Calendar)
	assert.Equal(t, "07:30", cfg.Jobs.AgendaTime)
	assert.Equal(t, "tok", cfg.Todoist.APIToken)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Completion(nil).Model)
	assert.Equal(t, "debug", cfg.Logging().Level)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
mcp:
  config_path: /etc/flint/mcp.yaml
  calendar: gcal
  weather: weather
jobs:
  agenda_time: "06:45"
notes:
  daily_folder: /notes/daily
server:
  listen: 127.0.0.1:7000
log:
  format: text
`), 0o600))
	t.Setenv("SCHEDULED_AGENDA_TIME", "08:00")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "/etc/flint/mcp.yaml", cfg.MCP.ConfigPath)
	assert.Equal(t, "gcal", cfg.MCP.Calendar)
	assert.Equal(t, "08:00", cfg.Jobs.AgendaTime, "env wins over the file")
	assert.Equal(t, "23:59", cfg.Jobs.DiaryTime, "defaults fill what the file omits")
	assert.Equal(t, "/notes/daily", cfg.Notes.DailyFolder)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var ce *pkgerrors.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "config_file", ce.Key)

	t.Setenv("SCHEDULED_AGENDA_TIME", "7am")
	_, err = Load("")
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "SCHEDULED_AGENDA_TIME", ce.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantKey string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown zone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "TZ"},
		{"cron diary time", func(c *Config) { c.Jobs.DiaryTime = "59 23 * * 1-5" }, ""},
		{"bad diary time", func(c *Config) { c.Jobs.DiaryTime = "25:00" }, "SCHEDULED_DIARY_TIME"},
		{"bad listen", func(c *Config) { c.Server.Listen = "localhost" }, "FLINT_LISTEN"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"partial matrix", func(c *Config) { c.Matrix.Homeserver = "https://matrix.example" }, "MATRIX_USER_ID"},
		{"no descriptor path", func(c *Config) { c.MCP.ConfigPath = "" }, "MCP_CONFIG_PATH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			var ce *pkgerrors.ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.wantKey, ce.Key)
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	cfg.Timezone = "Nowhere/Special"
	_, err = cfg.Location()
	assert.Error(t, err)
}

func TestSyncInterval(t *testing.T) {
	tests := []struct {
		schedule string
		want     time.Duration
		wantWarn bool
	}{
		{"1h", time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"daily", time.Hour, true},
		{"90s", time.Hour, true},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Jobs.TaskSyncSchedule = tt.schedule
		got, err := cfg.SyncInterval()
		assert.Equal(t, tt.want, got, tt.schedule)
		assert.Equal(t, tt.wantWarn, err != nil, tt.schedule)
	}
}

func TestCheckJobs(t *testing.T) {
	cfg := Default()
	cfg.Jobs.AgendaTime = "07:30"
	cfg.MCP.Calendar = "calendar"
	cfg.Todoist.APIToken = "tok"

	checks := cfg.CheckJobs()
	require.Len(t, checks, 3)

	agenda := checks[0]
	assert.Equal(t, scheduler.KindAgenda, agenda.Kind)
	assert.False(t, agenda.Enabled)
	assert.True(t, agenda.Requested)
	assert.Equal(t, []string{"MCP_WEATHER_NAME"}, agenda.Missing)

	diary := checks[1]
	assert.False(t, diary.Enabled)
	assert.Equal(t, []string{"DAILY_NOTE_FOLDER"}, diary.Missing)

	sync := checks[2]
	assert.False(t, sync.Enabled)
	assert.True(t, sync.Requested)
	assert.Equal(t, []string{"TODOIST_NOTES_FOLDER"}, sync.Missing)

	cfg.MCP.Weather = "weather"
	cfg.Notes.DailyFolder = t.TempDir()
	cfg.Notes.TodoistFolder = t.TempDir()
	for _, c := range cfg.CheckJobs() {
		assert.True(t, c.Enabled, c.Kind)
		assert.Empty(t, c.Missing)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FLINT_CONFIG", "")

	assert.Equal(t, "/explicit.yaml", ResolvePath("/explicit.yaml"))
	assert.Equal(t, "", ResolvePath(""))

	def, err := ConfigPath()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(def), 0o755))
	require.NoError(t, os.WriteFile(def, []byte("timezone: UTC\n"), 0o600))
	assert.Equal(t, def, ResolvePath(""))

	t.Setenv("FLINT_CONFIG", "/from/env.yaml")
	assert.Equal(t, "/from/env.yaml", ResolvePath(""))
}
