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

// Package client talks to a running flint daemon over its local HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tombee/flint/internal/api"
	"github.com/tombee/flint/internal/httputil"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/scheduler"
	pkgerrors "github.com/tombee/flint/pkg/errors"
	"github.com/tombee/flint/pkg/httpclient"
)

// DefaultTimeout bounds one API call. Commands and manual job runs wait for
// their result, so it is generous.
const DefaultTimeout = 10 * time.Minute

// Client is a client for the flint daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// New creates a client for the daemon listening on addr, given either as
// host:port or as a full URL.
func New(addr string, opts ...Option) (*Client, error) {
	base, err := baseURL(addr)
	if err != nil {
		return nil, err
	}
	c := &Client{baseURL: base}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = DefaultTimeout
		cfg.UserAgent = "flint-cli"
		cfg.Logger = c.logger
		hc, err := httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = hc
	}

	return c, nil
}

func baseURL(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("daemon address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid daemon address %q: %w", addr, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid daemon address %q: missing host", addr)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
	RequestID  string
	Suggestion string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return e.Message
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnavailable reports whether err means no daemon is listening.
func IsUnavailable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Health returns the daemon's health summary.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commands lists the currently routable commands.
func (c *Client) Commands(ctx context.Context) ([]mcp.CommandBinding, error) {
	var out api.CommandsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/commands", nil, &out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}

// Ask sends message to the server bound to command. A non-empty prompt
// replaces the server's prompt override.
func (c *Client) Ask(ctx context.Context, command, message, prompt string) (*api.CommandResponse, error) {
	var out api.CommandResponse
	body := api.CommandRequest{Message: message, Prompt: prompt}
	path := "/v1/commands/" + url.PathEscape(strings.TrimPrefix(command, "/"))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Servers returns the status of every configured MCP server.
func (c *Client) Servers(ctx context.Context) ([]mcp.ServerStatus, error) {
	var out api.ServersResponse
	if err := c.do(ctx, http.MethodGet, "/v1/mcp/servers", nil, &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// Jobs returns the scheduled jobs.
func (c *Client) Jobs(ctx context.Context) ([]scheduler.JobStatus, error) {
	var out api.JobsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// RunJob runs a job immediately and returns its record.
func (c *Client) RunJob(ctx context.Context, kind scheduler.Kind) (*scheduler.RunRecord, error) {
	var out scheduler.RunRecord
	path := "/v1/jobs/" + url.PathEscape(string(kind)) + "/run"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns recent runs, newest first. An empty kind means all jobs.
func (c *Client) History(ctx context.Context, kind scheduler.Kind, limit int) ([]scheduler.RunRecord, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/jobs/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &pkgerrors.TimeoutError{
				Operation: method + " " + path,
				Duration:  time.Since(start).Round(time.Millisecond),
				Cause:     err,
			}
		}
		return pkgerrors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(err, "failed to decode response")
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBodyBytes))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body httputil.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
		apiErr.RequestID = body.RequestID
		apiErr.Suggestion = body.Suggestion
		return apiErr
	}

	apiErr.Message = fmt.Sprintf("daemon returned error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	return apiErr
}
