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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/sink"
)

// Placeholders used when a source fails.
const (
	WeatherUnavailable  = "Weather unavailable."
	CalendarUnavailable = "Calendar unavailable."
	NoEventsToday       = "No events today."

	// DefaultGreeting opens the agenda; {date} is replaced with the day.
	DefaultGreeting = "Good morning! Here is your agenda for {date}."
)

// Dispatcher sends one request to an MCP server. *mcp.Dispatcher
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, server, message string, opts ...mcp.DispatchOption) mcp.Result
}

// AgendaConfig configures the daily agenda.
type AgendaConfig struct {
	Calendar string
	Weather  string
	Greeting string
	Chat     sink.Chat
}

// AgendaJob sends a morning summary of the weather and the day's events.
type AgendaJob struct {
	cfg        AgendaConfig
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewAgendaJob creates the agenda job.
func NewAgendaJob(cfg AgendaConfig, dispatcher Dispatcher, logger *slog.Logger) *AgendaJob {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	return &AgendaJob{cfg: cfg, dispatcher: dispatcher, logger: flintlog.WithComponent(logger, "agenda")}
}

// Kind implements Job.
func (j *AgendaJob) Kind() Kind { return KindAgenda }

// RequiredServers implements Job.
func (j *AgendaJob) RequiredServers() []string { return []string{j.cfg.Calendar, j.cfg.Weather} }

// Compose implements Job.
func (j *AgendaJob) Compose(ctx context.Context, now time.Time) (*Artifact, error) {
	var (
		wg                sync.WaitGroup
		weather, calendar mcp.Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		weather = j.dispatcher.Dispatch(ctx, j.cfg.Weather, weatherPrompt(now))
	}()
	go func() {
		defer wg.Done()
		calendar = j.dispatcher.Dispatch(ctx, j.cfg.Calendar, agendaCalendarPrompt(now))
	}()
	wg.Wait()

	art := &Artifact{Status: StatusOK}
	var failures []string
	for _, r := range []mcp.Result{weather, calendar} {
		if !r.OK() {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Server, r.Err.Kind))
			j.logger.WarnContext(ctx, "agenda source failed; using placeholder",
				slog.String(flintlog.ServerKey, r.Server), flintlog.Error(r.Err))
		}
	}
	if len(failures) > 0 {
		art.Status = StatusPartial
		art.Detail = strings.Join(failures, ", ")
	}

	msg := sink.Message{
		Kind:      string(KindAgenda),
		Text:      RenderAgenda(j.greeting(now), weather, calendar),
		Citations: mergeCitations(weather.Citations, calendar.Citations),
	}
	art.Deliver = func(ctx context.Context) error {
		return j.cfg.Chat.Send(ctx, msg)
	}
	return art, nil
}

func (j *AgendaJob) greeting(now time.Time) string {
	return strings.ReplaceAll(j.cfg.Greeting, "{date}", now.Format("Monday, 2 January"))
}

// RenderAgenda builds the agenda text: greeting, weather paragraph, then
// the numbered event list.
func RenderAgenda(greeting string, weather, calendar mcp.Result) string {
	weatherText := WeatherUnavailable
	if weather.OK() && strings.TrimSpace(weather.Text) != "" {
		weatherText = strings.TrimSpace(weather.Text)
	}

	eventsText := CalendarUnavailable
	if calendar.OK() {
		eventsText = NoEventsToday
		if events := sortByClock(listItems(calendar.Text)); len(events) > 0 {
			eventsText = numberedList(events)
		}
	}

	return strings.TrimSpace(greeting) + "\n\n" + weatherText + "\n\n" + eventsText
}

func weatherPrompt(now time.Time) string {
	return fmt.Sprintf("Give me the weather forecast for today, %s. "+
		"Mention the high and low temperatures and whether rain is likely. "+
		"Answer with one short paragraph and nothing else.",
		now.Format("Monday, 2 January 2006"))
}

func agendaCalendarPrompt(now time.Time) string {
	return fmt.Sprintf("List my calendar events for %s, one per line, as:\n"+
		"HH:MM - <event title>\n"+
		"Use 24-hour times in the %s time zone without zone suffixes. "+
		"Put all-day events on their own lines without a time. "+
		"Reply with the list only.",
		now.Format("2006-01-02"), now.Location().String())
}

func mergeCitations(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
