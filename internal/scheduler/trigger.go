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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trigger decides when a job runs.
type Trigger interface {
	// First returns the first run time for an engine started at now.
	First(now time.Time) time.Time
	// Next returns the run time following a tick or finish at t. It is
	// always after t.
	Next(t time.Time) time.Time
	String() string
}

// Daily fires once a day at a wall-clock time in Location.
type Daily struct {
	Hour, Minute int
	Location     *time.Location
}

// First implements Trigger.
func (d Daily) First(now time.Time) time.Time { return d.Next(now) }

// Next implements Trigger.
func (d Daily) Next(t time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !at.After(local) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return at
}

func (d Daily) String() string { return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute) }

// Interval fires every Every, the first time FirstDelay after start.
type Interval struct {
	Every      time.Duration
	FirstDelay time.Duration
}

// First implements Trigger.
func (i Interval) First(now time.Time) time.Time { return now.Add(i.FirstDelay) }

// Next implements Trigger.
func (i Interval) Next(t time.Time) time.Time { return t.Add(i.Every) }

func (i Interval) String() string { return "every " + i.Every.String() }

// Cron fires on a five-field cron expression evaluated in Location.
type Cron struct {
	expr     *cronExpr
	source   string
	location *time.Location
}

// NewCron parses expr.
func NewCron(expr string, loc *time.Location) (*Cron, error) {
	parsed, err := parseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Cron{expr: parsed, source: expr, location: loc}, nil
}

// First implements Trigger.
func (c *Cron) First(now time.Time) time.Time { return c.Next(now) }

// Next implements Trigger.
func (c *Cron) Next(t time.Time) time.Time { return c.expr.next(t.In(c.location)) }

func (c *Cron) String() string { return "cron " + c.source }

// ParseClock parses "HH:MM" in 24-hour format.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || len(m) != 2 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// ParseInterval parses "<n>h" or "<n>m" with n > 0.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q: expected <n>h or <n>m", s)
	}
	unit := time.Hour
	switch s[len(s)-1] {
	case 'h':
	case 'm':
		unit = time.Minute
	default:
		return 0, fmt.Errorf("invalid interval %q: expected <n>h or <n>m", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q: expected a positive count", s)
	}
	return time.Duration(n) * unit, nil
}

// ParseTrigger accepts "HH:MM" (daily), "<n>h"/"<n>m" (interval, first run
// after firstDelay), or a cron expression.
func ParseTrigger(spec string, loc *time.Location, firstDelay time.Duration) (Trigger, error) {
	spec = strings.TrimSpace(spec)
	if h, m, err := ParseClock(spec); err == nil {
		return Daily{Hour: h, Minute: m, Location: loc}, nil
	}
	if every, err := ParseInterval(spec); err == nil {
		return Interval{Every: every, FirstDelay: firstDelay}, nil
	}
	if c, err := NewCron(spec, loc); err == nil {
		return c, nil
	}
	return nil, fmt.Errorf("invalid schedule %q: expected HH:MM, <n>h, <n>m or a cron expression", spec)
}
