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

// Package config loads flint's settings from an optional YAML file overlaid
// by environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	// Zone names resolve even on hosts without a zoneinfo database.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/llm"
	"github.com/tombee/flint/internal/sink"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// DefaultSystemInstructions is the assistant persona used when
// SYSTEM_INSTRUCTIONS is not set.
const DefaultSystemInstructions = `You are a helpful personal assistant.

Organize the information clearly and keep answers short. Use emojis only
when they genuinely help the message.

Always reply in the same language as the user, defaulting to English. When
calling a tool, translate the request to English, then translate the
result back to the user's language.`

// Config represents the complete flint configuration.
type Config struct {
	// Timezone is the IANA zone jobs are scheduled in.
	Timezone string        `yaml:"timezone"`
	MCP      MCPConfig     `yaml:"mcp"`
	Jobs     JobsConfig    `yaml:"jobs"`
	Notes    NotesConfig   `yaml:"notes"`
	Todoist  TodoistConfig `yaml:"todoist"`
	LLM      LLMConfig     `yaml:"llm"`
	Matrix   MatrixConfig  `yaml:"matrix"`
	Server   ServerConfig  `yaml:"server"`
	Log      LogConfig     `yaml:"log"`

	// StateDB is the run history database. Empty means the default path
	// under ~/.local/share/flint.
	StateDB string `yaml:"state_db,omitempty"`
}

// MCPConfig locates the descriptor file and names the servers the jobs use.
type MCPConfig struct {
	ConfigPath string `yaml:"config_path"`
	Calendar   string `yaml:"calendar"`
	Weather    string `yaml:"weather"`
	Tasks      string `yaml:"tasks"`

	// DisableWatch turns off descriptor hot reload.
	DisableWatch bool `yaml:"disable_watch,omitempty"`
}

// JobsConfig holds the job schedules.
type JobsConfig struct {
	// AgendaTime and DiaryTime are HH:MM, <n>h/<n>m or a cron expression.
	// The agenda is off when AgendaTime is empty.
	AgendaTime string `yaml:"agenda_time"`
	DiaryTime  string `yaml:"diary_time"`

	// TaskSyncSchedule is "<n>h" or "<n>m".
	TaskSyncSchedule string `yaml:"task_sync_schedule"`

	// Greeting opens the agenda; {date} expands to the day.
	Greeting        string        `yaml:"greeting,omitempty"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout,omitempty"`
}

// NotesConfig locates the note folders.
type NotesConfig struct {
	DailyFolder   string `yaml:"daily_folder"`
	TodoistFolder string `yaml:"todoist_folder"`
}

// TodoistConfig configures the task export.
type TodoistConfig struct {
	APIToken         string `yaml:"api_token,omitempty"`
	ProjectID        string `yaml:"project_id,omitempty"`
	ProjectName      string `yaml:"project_name,omitempty"`
	Filter           string `yaml:"filter,omitempty"`
	IncludeCompleted bool   `yaml:"include_completed,omitempty"`
	TagPrefix        string `yaml:"tag_prefix,omitempty"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	APIKey             string `yaml:"api_key,omitempty"`
	Model              string `yaml:"model,omitempty"`
	SystemInstructions string `yaml:"system_instructions,omitempty"`
	MaxTokens          int64  `yaml:"max_tokens,omitempty"`
}

// MatrixConfig configures the Matrix chat sink. All four values are needed
// once any of them is set.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver,omitempty"`
	UserID      string `yaml:"user_id,omitempty"`
	AccessToken string `yaml:"access_token,omitempty"`
	RoomID      string `yaml:"room_id,omitempty"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source,omitempty"`
	// File mirrors logs into a rotated file.
	File      string `yaml:"file,omitempty"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Timezone: "UTC",
		MCP: MCPConfig{
			ConfigPath: "config/mcp.yaml",
		},
		Jobs: JobsConfig{
			DiaryTime:        "23:59",
			TaskSyncSchedule: "1h",
		},
		Todoist: TodoistConfig{
			TagPrefix: "todoist",
		},
		LLM: LLMConfig{
			SystemInstructions: DefaultSystemInstructions,
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:9876",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from an optional YAML file and then the
// environment. Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &pkgerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero values a partial file left behind.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
	if c.MCP.ConfigPath == "" {
		c.MCP.ConfigPath = defaults.MCP.ConfigPath
	}
	if c.Jobs.DiaryTime == "" {
		c.Jobs.DiaryTime = defaults.Jobs.DiaryTime
	}
	if c.Jobs.TaskSyncSchedule == "" {
		c.Jobs.TaskSyncSchedule = defaults.Jobs.TaskSyncSchedule
	}
	if c.Todoist.TagPrefix == "" {
		c.Todoist.TagPrefix = defaults.Todoist.TagPrefix
	}
	if c.LLM.SystemInstructions == "" {
		c.LLM.SystemInstructions = defaults.LLM.SystemInstructions
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaults.Server.Listen
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// loadFromEnv overlays the environment. Empty values count as unset.
func (c *Config) loadFromEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if val, ok := lookup(key); ok && strings.TrimSpace(val) != "" {
			*dst = strings.TrimSpace(val)
		}
	}

	str("TZ", &c.Timezone)

	str("MCP_CONFIG_PATH", &c.MCP.ConfigPath)
	str("MCP_CALENDAR_NAME", &c.MCP.Calendar)
	str("MCP_WEATHER_NAME", &c.MCP.Weather)
	str("MCP_TODOIST_NAME", &c.MCP.Tasks)
	if val, ok := lookup("FLINT_WATCH_CONFIG"); ok && val != "" {
		if watch, err := strconv.ParseBool(val); err == nil {
			c.MCP.DisableWatch = !watch
		}
	}

	str("SCHEDULED_AGENDA_TIME", &c.Jobs.AgendaTime)
	str("SCHEDULED_DIARY_TIME", &c.Jobs.DiaryTime)
	str("TODOIST_NOTES_SCHEDULE", &c.Jobs.TaskSyncSchedule)
	str("AGENDA_GREETING", &c.Jobs.Greeting)

	str("DAILY_NOTE_FOLDER", &c.Notes.DailyFolder)
	str("TODOIST_NOTES_FOLDER", &c.Notes.TodoistFolder)
	str("TODOIST_API_TOKEN", &c.Todoist.APIToken)

	str("ANTHROPIC_API_KEY", &c.LLM.APIKey)
	str("ANTHROPIC_MODEL", &c.LLM.Model)
	// The persona keeps its surrounding whitespace.
	if val, ok := lookup("SYSTEM_INSTRUCTIONS"); ok && strings.TrimSpace(val) != "" {
		c.LLM.SystemInstructions = val
	}

	str("MATRIX_HOMESERVER", &c.Matrix.Homeserver)
	str("MATRIX_USER_ID", &c.Matrix.UserID)
	str("MATRIX_ACCESS_TOKEN", &c.Matrix.AccessToken)
	str("MATRIX_ROOM_ID", &c.Matrix.RoomID)

	str("FLINT_LISTEN", &c.Server.Listen)
	str("FLINT_STATE_DB", &c.StateDB)

	// Same precedence as log.FromEnv: FLINT_DEBUG, then FLINT_LOG_LEVEL,
	// then LOG_LEVEL.
	if val, _ := lookup("FLINT_DEBUG"); val == "true" || val == "1" {
		c.Log.Level = "debug"
		c.Log.AddSource = true
	} else if val, ok := lookup("FLINT_LOG_LEVEL"); ok && val != "" {
		c.Log.Level = strings.ToLower(val)
	} else if val, ok := lookup("LOG_LEVEL"); ok && val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val, ok := lookup("LOG_FORMAT"); ok && val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val, _ := lookup("LOG_SOURCE"); val == "1" || strings.EqualFold(val, "true") {
		c.Log.AddSource = true
	}
	str("LOG_FILE", &c.Log.File)
}

// Logging returns the logger settings.
func (c *Config) Logging() *flintlog.Config {
	lc := flintlog.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = flintlog.Format(c.Log.Format)
	lc.AddSource = c.Log.AddSource
	lc.File = c.Log.File
	return lc
}

// Completion returns the completer settings.
func (c *Config) Completion(logger *slog.Logger) llm.Config {
	return llm.Config{
		APIKey:    c.LLM.APIKey,
		Model:     c.LLM.Model,
		System:    c.LLM.SystemInstructions,
		MaxTokens: c.LLM.MaxTokens,
		Logger:    logger,
	}
}

// MatrixEnabled reports whether any Matrix setting is present.
func (c *Config) MatrixEnabled() bool {
	m := c.Matrix
	return m.Homeserver != "" || m.UserID != "" || m.AccessToken != "" || m.RoomID != ""
}

// MatrixSink returns the Matrix sink settings.
func (c *Config) MatrixSink() sink.MatrixConfig {
	return sink.MatrixConfig{
		Homeserver:  c.Matrix.Homeserver,
		UserID:      c.Matrix.UserID,
		AccessToken: c.Matrix.AccessToken,
		RoomID:      c.Matrix.RoomID,
	}
}
