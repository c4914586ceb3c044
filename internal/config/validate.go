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
	"fmt"
	"net"
	"time"

	"github.com/tombee/flint/internal/scheduler"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// Validate checks that the configuration is usable. Every problem is a
// *errors.ConfigError naming the offending setting; several are joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(key, reason string, cause error) {
		errs = append(errs, &pkgerrors.ConfigError{Key: key, Reason: reason, Cause: cause})
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		bad("TZ", fmt.Sprintf("unknown time zone %q", c.Timezone), err)
	}
	if c.Jobs.AgendaTime != "" {
		if _, err := scheduler.ParseTrigger(c.Jobs.AgendaTime, time.UTC, 0); err != nil {
			bad("SCHEDULED_AGENDA_TIME", "must be HH:MM, an interval or a cron expression", err)
		}
	}
	if _, err := scheduler.ParseTrigger(c.Jobs.DiaryTime, time.UTC, 0); err != nil {
		bad("SCHEDULED_DIARY_TIME", "must be HH:MM, an interval or a cron expression", err)
	}
	if c.Jobs.DeliveryTimeout < 0 {
		bad("jobs.delivery_timeout", "must not be negative", nil)
	}

	if c.MCP.ConfigPath == "" {
		bad("MCP_CONFIG_PATH", "is required", nil)
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		bad("FLINT_LISTEN", fmt.Sprintf("invalid address %q", c.Server.Listen), err)
	}
	if c.Server.ShutdownTimeout <= 0 {
		bad("server.shutdown_timeout", "must be positive", nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		bad("LOG_LEVEL", fmt.Sprintf("must be one of [debug, info, warn, error], got %q", c.Log.Level), nil)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		bad("LOG_FORMAT", fmt.Sprintf("must be one of [json, text], got %q", c.Log.Format), nil)
	}

	if c.MatrixEnabled() {
		if err := c.MatrixSink().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, &pkgerrors.ConfigError{Key: "TZ", Reason: fmt.Sprintf("unknown time zone %q", c.Timezone), Cause: err}
	}
	return loc, nil
}

// SyncInterval returns the task sync period. An unrecognized schedule falls
// back to the default and reports why, for the caller to log.
func (c *Config) SyncInterval() (time.Duration, error) {
	every, err := scheduler.ParseInterval(c.Jobs.TaskSyncSchedule)
	if err != nil {
		return scheduler.DefaultSyncInterval, fmt.Errorf("TODOIST_NOTES_SCHEDULE: %w; using %s", err, scheduler.DefaultSyncInterval)
	}
	return every, nil
}

// JobCheck reports whether a job has what it needs to be scheduled.
type JobCheck struct {
	Kind    scheduler.Kind
	Enabled bool
	// Missing lists the unset settings keeping the job off.
	Missing []string
	// Requested is set when some of the job's settings are present, so a
	// disabled job deserves a warning rather than silence.
	Requested bool
}

// CheckJobs evaluates every job in catalog order.
func (c *Config) CheckJobs() []JobCheck {
	type setting struct{ key, value string }
	check := func(kind scheduler.Kind, requested bool, settings ...setting) JobCheck {
		jc := JobCheck{Kind: kind, Requested: requested}
		for _, s := range settings {
			if s.value == "" {
				jc.Missing = append(jc.Missing, s.key)
			}
		}
		jc.Enabled = len(jc.Missing) == 0
		return jc
	}

	return []JobCheck{
		check(scheduler.KindAgenda, c.Jobs.AgendaTime != "",
			setting{"SCHEDULED_AGENDA_TIME", c.Jobs.AgendaTime},
			setting{"MCP_CALENDAR_NAME", c.MCP.Calendar},
			setting{"MCP_WEATHER_NAME", c.MCP.Weather},
		),
		// The calendar and task servers are optional; the diary falls back
		// to placeholder text without them.
		check(scheduler.KindDiary, c.Jobs.DiaryTime != "",
			setting{"SCHEDULED_DIARY_TIME", c.Jobs.DiaryTime},
			setting{"DAILY_NOTE_FOLDER", c.Notes.DailyFolder},
		),
		check(scheduler.KindTaskSync, c.Notes.TodoistFolder != "" || c.Todoist.APIToken != "",
			setting{"TODOIST_NOTES_FOLDER", c.Notes.TodoistFolder},
			setting{"TODOIST_API_TOKEN", c.Todoist.APIToken},
		),
	}
}
