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

// Package todoist reads tasks from the Todoist REST API and exports them as
// markdown notes.
package todoist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	flintlog "github.com/tombee/flint/internal/log"
	pkgerrors "github.com/tombee/flint/pkg/errors"
	"github.com/tombee/flint/pkg/httpclient"
)

const (
	// DefaultBaseURL is the REST API root.
	DefaultBaseURL = "https://api.todoist.com/rest/v2"
	// DefaultSyncURL is the Sync API root, used for completed tasks.
	DefaultSyncURL = "https://api.todoist.com/sync/v9"

	// Todoist allows 450 requests per 15 minutes.
	defaultRequestsPerSecond = 0.5
	defaultBurst             = 20

	maxResponseBytes = 10 << 20
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Token   string
	BaseURL string
	SyncURL string

	// RequestsPerSecond overrides the client-side rate limit.
	RequestsPerSecond float64
	Burst             int

	// Transport replaces the network transport; tests point it at httptest.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client is a read-only Todoist API client.
type Client struct {
	http    *http.Client
	baseURL string
	syncURL string
	logger  *slog.Logger
}

// NewClient creates a client. A missing token is a ConfigError.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, &pkgerrors.ConfigError{Key: "TODOIST_API_TOKEN", Reason: "token is required"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = flintlog.WithComponent(logger, "todoist")

	hc := httpclient.DefaultConfig()
	hc.BearerToken = cfg.Token
	hc.RequestsPerSecond = cfg.RequestsPerSecond
	if hc.RequestsPerSecond == 0 {
		hc.RequestsPerSecond = defaultRequestsPerSecond
	}
	hc.Burst = cfg.Burst
	if hc.Burst == 0 {
		hc.Burst = defaultBurst
	}
	hc.Transport = cfg.Transport
	hc.Logger = logger
	httpClient, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("building todoist http client: %w", err)
	}

	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		syncURL: strings.TrimRight(cfg.SyncURL, "/"),
		logger:  logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.syncURL == "" {
		c.syncURL = DefaultSyncURL
	}
	return c, nil
}

// TaskQuery narrows Tasks. Todoist ignores ProjectID when Filter is set.
type TaskQuery struct {
	ProjectID string
	// Filter is a Todoist filter expression such as "today" or "p1".
	Filter string
}

// CompletedQuery narrows CompletedTasks.
type CompletedQuery struct {
	ProjectID string
	Since     time.Time
	Until     time.Time
}

// Projects lists all projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.get(ctx, c.baseURL, "/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sections lists sections, optionally for one project.
func (c *Client) Sections(ctx context.Context, projectID string) ([]Section, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	var out []Section
	if err := c.get(ctx, c.baseURL, "/sections", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tasks lists active tasks.
func (c *Client) Tasks(ctx context.Context, query TaskQuery) ([]Task, error) {
	q := url.Values{}
	if query.Filter != "" {
		q.Set("filter", query.Filter)
	} else if query.ProjectID != "" {
		q.Set("project_id", query.ProjectID)
	}
	var out []Task
	if err := c.get(ctx, c.baseURL, "/tasks", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Comments lists the comments on a task.
func (c *Client) Comments(ctx context.Context, taskID string) ([]Comment, error) {
	q := url.Values{"task_id": {taskID}}
	var out []Comment
	if err := c.get(ctx, c.baseURL, "/comments", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompletedTasks lists completed tasks from the Sync API. Only the fields
// that endpoint returns are populated.
func (c *Client) CompletedTasks(ctx context.Context, query CompletedQuery) ([]Task, error) {
	q := url.Values{"limit": {"200"}}
	if query.ProjectID != "" {
		q.Set("project_id", query.ProjectID)
	}
	if !query.Since.IsZero() {
		q.Set("since", query.Since.UTC().Format("2006-01-02T15:04:05"))
	}
	if !query.Until.IsZero() {
		q.Set("until", query.Until.UTC().Format("2006-01-02T15:04:05"))
	}
	var resp struct {
		Items []completedItem `json:"items"`
	}
	if err := c.get(ctx, c.syncURL, "/completed/get_all", q, &resp); err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(resp.Items))
	for _, item := range resp.Items {
		tasks = append(tasks, item.task())
	}
	return tasks, nil
}

func (c *Client) get(ctx context.Context, base, endpoint string, query url.Values, out any) error {
	u := base + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building todoist request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("todoist %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading todoist %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(endpoint, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding todoist %s: %w", endpoint, err)
	}
	return nil
}
