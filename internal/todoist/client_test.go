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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flintlog "github.com/tombee/flint/internal/log"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

type recordedRequest struct {
	Path  string
	Query url.Values
	Auth  string
}

// fakeAPI serves canned JSON per path and records what it was asked.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]any
	status   map[string]int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, Query: r.URL.Query(), Auth: r.Header.Get("Authorization")})
	body, ok := f.routes[r.URL.Path]
	status := f.status[r.URL.Path]
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		Token:             "tok-123",
		BaseURL:           srv.URL + "/rest/v2",
		SyncURL:           srv.URL + "/sync/v9",
		RequestsPerSecond: 1000,
		Logger:            flintlog.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	var cfgErr *pkgerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "TODOIST_API_TOKEN", cfgErr.Key)
}

func TestClient_Projects(t *testing.T) {
	api := &fakeAPI{routes: map[string]any{
		"/rest/v2/projects": []map[string]any{
			{"id": "p1", "name": "Work", "color": "blue", "is_shared": true, "url": "https://todoist.com/p1"},
		},
	}}
	c := newTestClient(t, api)

	projects, err := c.Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, Project{ID: "p1", Name: "Work", Color: "blue", IsShared: true, URL: "https://todoist.com/p1"}, projects[0])
	assert.Equal(t, "Bearer tok-123", api.last().Auth)
}

func TestClient_TasksQuery(t *testing.T) {
	tests := []struct {
		name  string
		query TaskQuery
		want  url.Values
	}{
		{name: "all", query: TaskQuery{}, want: url.Values{}},
		{name: "project", query: TaskQuery{ProjectID: "p1"}, want: url.Values{"project_id": {"p1"}}},
		{name: "filter wins", query: TaskQuery{ProjectID: "p1", Filter: "today"}, want: url.Values{"filter": {"today"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{routes: map[string]any{
				"/rest/v2/tasks": []map[string]any{
					{"id": "t1", "content": "Write report", "priority": 4, "labels": []string{"work"},
						"due": map[string]any{"date": "2024-12-31", "string": "Dec 31"}},
				},
			}}
			c := newTestClient(t, api)

			tasks, err := c.Tasks(context.Background(), tt.query)
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, "2024-12-31", tasks[0].DueDate())
			assert.Equal(t, "High", tasks[0].PriorityText())
			assert.Equal(t, tt.want, api.last().Query)
		})
	}
}

func TestClient_CompletedTasks(t *testing.T) {
	api := &fakeAPI{routes: map[string]any{
		"/sync/v9/completed/get_all": map[string]any{
			"items": []map[string]any{
				{"id": "c1", "task_id": "t9", "content": "Ship it", "project_id": "p1", "completed_at": "2024-03-14T10:30:00Z"},
			},
		},
	}}
	c := newTestClient(t, api)

	tasks, err := c.CompletedTasks(context.Background(), CompletedQuery{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t9", tasks[0].ID)
	assert.True(t, tasks[0].IsCompleted)
	assert.Equal(t, 10, tasks[0].CompletedAt.Hour())
	assert.Equal(t, "p1", api.last().Query.Get("project_id"))
}

func TestClient_APIError(t *testing.T) {
	api := &fakeAPI{status: map[string]int{"/rest/v2/projects": http.StatusUnauthorized}}
	c := newTestClient(t, api)

	_, err := c.Projects(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, ErrorCategoryAuth, apiErr.Category)
	assert.False(t, apiErr.IsRetryable())
	assert.Equal(t, "Todoist rejected the API token.", pkgerrors.UserMessageOf(err, ""))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCategory
	}{
		{http.StatusUnauthorized, ErrorCategoryAuth},
		{http.StatusForbidden, ErrorCategoryAuth},
		{http.StatusNotFound, ErrorCategoryNotFound},
		{http.StatusTooManyRequests, ErrorCategoryRateLimit},
		{http.StatusBadGateway, ErrorCategoryServer},
		{http.StatusBadRequest, ErrorCategoryValidation},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorize(tt.status), "status %d", tt.status)
	}
}
