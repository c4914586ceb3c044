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

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flint/internal/api"
	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/scheduler"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

type fakeCommands struct{}

func (fakeCommands) Bindings() []mcp.CommandBinding {
	return []mcp.CommandBinding{{Command: "weather", Server: "weather", Description: "Forecasts"}}
}

func (fakeCommands) Resolve(command string) (mcp.CommandBinding, error) {
	if command != "weather" {
		return mcp.CommandBinding{}, &pkgerrors.NotFoundError{Resource: "command", ID: command}
	}
	return mcp.CommandBinding{Command: "weather", Server: "weather"}, nil
}

type fakeDispatcher struct {
	err *mcp.DispatchError
}

func (d fakeDispatcher) Dispatch(ctx context.Context, server, message string, opts ...mcp.DispatchOption) mcp.Result {
	if d.err != nil {
		return mcp.Result{Server: server, RequestID: "req-9", Err: d.err}
	}
	return mcp.Result{
		Server:    server,
		RequestID: "req-1",
		Text:      "Sunny, " + message,
		Citations: []string{"https://weather.example"},
		Duration:  1500 * time.Millisecond,
	}
}

type fakeServers struct{}

func (fakeServers) Status() []mcp.ServerStatus {
	return []mcp.ServerStatus{{Name: "weather", Enabled: true, State: mcp.StateReady, PID: 42}}
}

type fakeJobs struct {
	runs []scheduler.RunRecord
}

func (f *fakeJobs) Jobs() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Kind: scheduler.KindAgenda, Trigger: "daily at 07:30", State: scheduler.StateIdle}}
}

func (f *fakeJobs) RunNow(ctx context.Context, kind scheduler.Kind) (scheduler.RunRecord, error) {
	switch kind {
	case scheduler.KindAgenda:
		rec := scheduler.RunRecord{ID: "run-1", Kind: kind, Status: scheduler.StatusOK, Manual: true}
		f.runs = append(f.runs, rec)
		return rec, nil
	case scheduler.KindDiary:
		return scheduler.RunRecord{}, scheduler.ErrJobRunning
	}
	return scheduler.RunRecord{}, &pkgerrors.NotFoundError{Resource: "job", ID: string(kind)}
}

func (f *fakeJobs) History(ctx context.Context, kind scheduler.Kind, limit int) ([]scheduler.RunRecord, error) {
	var out []scheduler.RunRecord
	for _, r := range f.runs {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out[:min(limit, len(out))], nil
}

func newTestClient(t *testing.T, deps api.Deps) *Client {
	t.Helper()
	router := api.NewRouter(api.RouterConfig{Version: "0.3.0"}, deps, flintlog.Discard())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithLogger(flintlog.Discard()))
	require.NoError(t, err)
	return c
}

func fullDeps() api.Deps {
	return api.Deps{
		Commands:   fakeCommands{},
		Dispatcher: fakeDispatcher{},
		Servers:    fakeServers{},
		Jobs:       &fakeJobs{},
	}
}

func TestNew_Address(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "127.0.0.1:9876", want: "http://127.0.0.1:9876"},
		{addr: "http://localhost:9876/", want: "http://localhost:9876"},
		{addr: "https://flint.internal", want: "https://flint.internal"},
		{addr: "", wantErr: true},
		{addr: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			c, err := New(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.baseURL)
		})
	}
}

func TestClient_Health(t *testing.T) {
	c := newTestClient(t, fullDeps())

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "0.3.0", health.Version)
	assert.Equal(t, api.ServerCounts{Total: 1, Ready: 1}, health.Servers)
	assert.Equal(t, 1, health.Jobs)
}

func TestClient_Ask(t *testing.T) {
	c := newTestClient(t, fullDeps())
	ctx := context.Background()

	resp, err := c.Ask(ctx, "/weather", "Prague", "")
	require.NoError(t, err)
	assert.Equal(t, "Sunny, Prague", resp.Text)
	assert.Equal(t, []string{"https://weather.example"}, resp.Citations)
	assert.Equal(t, int64(1500), resp.DurationMS)

	_, err = c.Ask(ctx, "calendar", "today", "")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "not found", err.Error())
}

func TestClient_AskDispatchError(t *testing.T) {
	deps := fullDeps()
	deps.Dispatcher = fakeDispatcher{err: &mcp.DispatchError{Kind: mcp.KindServerUnavailable, Server: "weather"}}
	c := newTestClient(t, deps)

	_, err := c.Ask(context.Background(), "weather", "Prague", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "server_unavailable", apiErr.Kind)
	assert.Equal(t, "req-9", apiErr.RequestID)
	assert.Equal(t, "The weather server is not configured or unavailable.", apiErr.Message)
}

func TestClient_CommandsAndServers(t *testing.T) {
	c := newTestClient(t, fullDeps())
	ctx := context.Background()

	commands, err := c.Commands(ctx)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "Forecasts", commands[0].Description)

	servers, err := c.Servers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, mcp.StateReady, servers[0].State)
	assert.Equal(t, 42, servers[0].PID)
}

func TestClient_Jobs(t *testing.T) {
	c := newTestClient(t, fullDeps())
	ctx := context.Background()

	jobs, err := c.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.KindAgenda, jobs[0].Kind)

	rec, err := c.RunJob(ctx, scheduler.KindAgenda)
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.ID)

	_, err = c.RunJob(ctx, scheduler.KindDiary)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	_, err = c.RunJob(ctx, "bogus")
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, IsNotFound(err))
	assert.NotEmpty(t, apiErr.Suggestion)

	runs, err := c.History(ctx, scheduler.KindAgenda, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Manual)
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(addr)
	require.NoError(t, err)

	_, err = c.RunJob(context.Background(), scheduler.KindAgenda)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsUnavailable(errors.New("other")))
}

func TestClient_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.Jobs(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTeapot, apiErr.StatusCode)
	assert.Equal(t, "daemon returned error 418: teapot", apiErr.Message)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Jobs(ctx)

	var timeoutErr *pkgerrors.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, "GET /v1/jobs", timeoutErr.Operation)
	assert.True(t, timeoutErr.IsRetryable())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsUnavailable(err))
}
