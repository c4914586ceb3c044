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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	mcptest "github.com/tombee/flint/internal/mcp/testing"
	"github.com/tombee/flint/internal/sink"
)

// fakeDispatcher answers with canned results per server and records every
// message it was asked.
type fakeDispatcher struct {
	mu       sync.Mutex
	results  map[string]mcp.Result
	messages map[string][]string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{results: make(map[string]mcp.Result), messages: make(map[string][]string)}
}

func (d *fakeDispatcher) answer(server, text string, citations ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[server] = mcp.Result{Server: server, Text: text, Citations: citations}
}

func (d *fakeDispatcher) fail(server string, kind mcp.ErrorKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[server] = mcp.Result{Server: server, Err: &mcp.DispatchError{Kind: kind, Server: server}}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, server, message string, _ ...mcp.DispatchOption) mcp.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[server] = append(d.messages[server], message)
	if r, ok := d.results[server]; ok {
		return r
	}
	return mcp.Result{Server: server, Err: &mcp.DispatchError{Kind: mcp.KindServerUnavailable, Server: server}}
}

func (d *fakeDispatcher) asked(server string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.messages[server]
}

var morning = time.Date(2025, 1, 15, 7, 30, 0, 0, time.UTC)

func TestRenderAgenda(t *testing.T) {
	weather := mcp.Result{Server: "weather", Text: " Sunny, high 12°C and low 3°C.\n"}
	calendar := mcp.Result{Server: "calendar", Text: "14:00 - Review\n\n09:00 - Standup\nAll day - Holiday"}
	failed := mcp.Result{Err: &mcp.DispatchError{Kind: mcp.KindTimeout}}

	tests := []struct {
		name     string
		weather  mcp.Result
		calendar mcp.Result
		want     string
	}{
		{
			name:     "both sources",
			weather:  weather,
			calendar: calendar,
			want: "Hi.\n\nSunny, high 12°C and low 3°C.\n\n" +
				"1. 09:00 - Standup\n2. 14:00 - Review\n3. All day - Holiday",
		},
		{
			name:     "weather failed",
			weather:  failed,
			calendar: calendar,
			want: "Hi.\n\n" + WeatherUnavailable + "\n\n" +
				"1. 09:00 - Standup\n2. 14:00 - Review\n3. All day - Holiday",
		},
		{
			name:     "calendar failed",
			weather:  weather,
			calendar: failed,
			want:     "Hi.\n\nSunny, high 12°C and low 3°C.\n\n" + CalendarUnavailable,
		},
		{
			name:     "empty calendar",
			weather:  weather,
			calendar: mcp.Result{Text: "\n"},
			want:     "Hi.\n\nSunny, high 12°C and low 3°C.\n\n" + NoEventsToday,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderAgenda("Hi.", tt.weather, tt.calendar))
		})
	}
}

func TestAgendaJob_Compose(t *testing.T) {
	d := newFakeDispatcher()
	d.answer("weather", "Cloudy, 5°C.", "https://weather.example/today")
	d.answer("calendar", "10:00 - Dentist", "https://calendar.example/e/1", "https://weather.example/today")
	chat := &sink.Buffer{}

	job := NewAgendaJob(AgendaConfig{Calendar: "calendar", Weather: "weather", Chat: chat}, d, flintlog.Discard())
	assert.Equal(t, KindAgenda, job.Kind())
	assert.Equal(t, []string{"calendar", "weather"}, job.RequiredServers())

	art, err := job.Compose(context.Background(), morning)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, art.Status)
	assert.Empty(t, chat.Messages(), "nothing is sent before delivery")

	require.NoError(t, art.Deliver(context.Background()))
	msgs := chat.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, string(KindAgenda), msgs[0].Kind)
	assert.Equal(t,
		"Good morning! Here is your agenda for Wednesday, 15 January.\n\nCloudy, 5°C.\n\n1. 10:00 - Dentist",
		msgs[0].Text)
	assert.Equal(t, []string{"https://weather.example/today", "https://calendar.example/e/1"}, msgs[0].Citations)

	require.Len(t, d.asked("calendar"), 1)
	assert.Contains(t, d.asked("calendar")[0], "2025-01-15")
	assert.Contains(t, d.asked("weather")[0], "Wednesday, 15 January 2025")
}

func TestAgendaJob_WeatherFailureIsPartial(t *testing.T) {
	d := newFakeDispatcher()
	d.fail("weather", mcp.KindTimeout)
	d.answer("calendar", "09:00 - Standup")
	chat := &sink.Buffer{}

	job := NewAgendaJob(AgendaConfig{Calendar: "calendar", Weather: "weather", Greeting: "Morning {date}", Chat: chat}, d, flintlog.Discard())
	art, err := job.Compose(context.Background(), morning)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, art.Status)
	assert.Equal(t, "weather: timeout", art.Detail)

	require.NoError(t, art.Deliver(context.Background()))
	assert.Equal(t, "Morning Wednesday, 15 January\n\n"+WeatherUnavailable+"\n\n1. 09:00 - Standup", chat.Messages()[0].Text)
}

func agendaServer(text string, citations ...string) *mcptest.Session {
	sess := mcptest.NewSession(mcp.ToolDefinition{Name: "ask"})
	sess.CallFunc = func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		content := []mcp.ContentItem{{Type: "text", Text: text}}
		for _, c := range citations {
			content = append(content, mcp.ContentItem{Type: "resource", URI: c})
		}
		return &mcp.ToolCallResponse{Content: content}, nil
	}
	return sess
}

func stdioServer(name string) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{
		Name:      name,
		Transport: mcp.TransportStdio,
		Enabled:   true,
		Command:   name + "-server",
		Timeout:   time.Minute,
	}
}

// TestAgenda_ScheduledDelivery runs the agenda through a live pool: at
// 07:30 the engine fires, both servers answer, and one message reaches the
// chat with the forecast and the ordered events.
func TestAgenda_ScheduledDelivery(t *testing.T) {
	tests := []struct {
		name       string
		weather    string
		citations  []string
		calendar   string
		wantInText []string
		wantEvents string
	}{
		{
			name:       "rain and school run",
			weather:    "Light rain in the morning; high 9°C, low 2°C.",
			citations:  []string{"https://weather.example/prague"},
			calendar:   "13:00 - Lunch with Ana\n08:45 - School run\n",
			wantInText: []string{"9°C", "2°C"},
			wantEvents: "1. 08:45 - School run\n2. 13:00 - Lunch with Ana",
		},
		{
			name:       "standup and client meeting",
			weather:    "7°C rising to 15°C",
			calendar:   "14:00 client meeting\n09:00 standup\n",
			wantInText: []string{"7°C", "15°C"},
			wantEvents: "1. 09:00 standup\n2. 14:00 client meeting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := mcptest.NewDialer()
			dialer.Script("weather", mcptest.DialResult{Session: agendaServer(tt.weather, tt.citations...)})
			dialer.Script("calendar", mcptest.DialResult{Session: agendaServer(tt.calendar)})

			pool := mcp.NewPool(mcp.PoolConfig{
				Dialer:        dialer.Dial,
				Logger:        flintlog.Discard(),
				ProbeInterval: -1,
				GracePeriod:   100 * time.Millisecond,
			})
			t.Cleanup(func() { _ = pool.Stop(context.Background()) })
			require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{stdioServer("weather"), stdioServer("calendar")}))
			registry := mcp.NewRegistry(pool)
			dispatcher := mcp.NewDispatcher(pool, mcptest.ToolCompleter("ask"), flintlog.Discard())

			clock := &fakeClock{now: morning.Add(-time.Minute)}
			e, history := newTestEngine(t, clock, registry)
			chat := &sink.Buffer{}
			job := NewAgendaJob(AgendaConfig{Calendar: "calendar", Weather: "weather", Chat: chat}, dispatcher, flintlog.Discard())
			require.NoError(t, e.Register(job, Daily{Hour: 7, Minute: 30, Location: time.UTC}))
			require.NoError(t, e.Start(context.Background()))

			e.tick(clock.Now())
			assert.Empty(t, chat.Messages())

			clock.Set(morning)
			e.tick(morning)
			require.Eventually(t, func() bool { return len(chat.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
			waitIdle(t, e, KindAgenda)

			msg := chat.Messages()[0]
			for _, want := range tt.wantInText {
				assert.Contains(t, msg.Text, want)
			}
			assert.True(t, strings.HasSuffix(msg.Text, tt.wantEvents), msg.Text)
			assert.ElementsMatch(t, tt.citations, msg.Citations)

			recs, err := history.Recent(context.Background(), KindAgenda, 1)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, StatusOK, recs[0].Status)
			assert.Equal(t, morning.AddDate(0, 0, 1), jobStatus(t, e, KindAgenda).NextRunAt)
		})
	}
}

func TestAgenda_SkippedWhenServerDown(t *testing.T) {
	dialer := mcptest.NewDialer()
	dialer.Fail("weather", errors.New("exec: weather-server: not found"))

	pool := mcp.NewPool(mcp.PoolConfig{Dialer: dialer.Dial, Logger: flintlog.Discard(), ProbeInterval: -1})
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{stdioServer("weather"), stdioServer("calendar")}))
	registry := mcp.NewRegistry(pool)
	require.False(t, registry.Has("weather"))
	require.True(t, registry.Has("calendar"))

	clock := &fakeClock{now: morning}
	e, _ := newTestEngine(t, clock, registry)
	chat := &sink.Buffer{}
	dispatcher := mcp.NewDispatcher(pool, mcptest.ToolCompleter("ask"), flintlog.Discard())
	require.NoError(t, e.Register(NewAgendaJob(AgendaConfig{Calendar: "calendar", Weather: "weather", Chat: chat}, dispatcher, nil), Daily{Hour: 7, Minute: 30}))

	rec, err := e.RunNow(context.Background(), KindAgenda)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, rec.Status)
	assert.Empty(t, chat.Messages())
	assert.Zero(t, dialer.Last("calendar").Calls())
}
