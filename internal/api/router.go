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

// Package api serves flint's local HTTP API: command dispatch, server and
// job status, manual job runs and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/flint/internal/httputil"
	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/scheduler"
)

// RouterConfig holds build information reported by /healthz.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// CommandSource is the live command table. *mcp.Registry implements it.
type CommandSource interface {
	Bindings() []mcp.CommandBinding
	Resolve(command string) (mcp.CommandBinding, error)
}

// Dispatcher sends one request to a server. *mcp.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, server, message string, opts ...mcp.DispatchOption) mcp.Result
}

// ServerStatusSource reports server connections. *mcp.Pool implements it.
type ServerStatusSource interface {
	Status() []mcp.ServerStatus
}

// JobRunner exposes the scheduler. *scheduler.Engine implements it.
type JobRunner interface {
	Jobs() []scheduler.JobStatus
	RunNow(ctx context.Context, kind scheduler.Kind) (scheduler.RunRecord, error)
	History(ctx context.Context, kind scheduler.Kind, limit int) ([]scheduler.RunRecord, error)
}

// Deps are the components the API reads from. Jobs may be nil when the
// scheduler is not running.
type Deps struct {
	Commands   CommandSource
	Dispatcher Dispatcher
	Servers    ServerStatusSource
	Jobs       JobRunner
	// Metrics defaults to the Prometheus default registry.
	Metrics http.Handler
}

// Router wraps an http.ServeMux with request logging.
type Router struct {
	mux     *http.ServeMux
	config  RouterConfig
	deps    Deps
	logger  *slog.Logger
	handler http.Handler
	started time.Time
}

// NewRouter creates a router with every API endpoint registered.
func NewRouter(cfg RouterConfig, deps Deps, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		deps:    deps,
		logger:  flintlog.WithComponent(logger, "api"),
		started: time.Now(),
	}

	r.mux.HandleFunc("GET /healthz", r.handleHealth)
	r.mux.HandleFunc("GET /v1/commands", r.handleListCommands)
	r.mux.HandleFunc("POST /v1/commands/{name}", r.handleRunCommand)
	r.mux.HandleFunc("GET /v1/mcp/servers", r.handleServers)
	r.mux.HandleFunc("GET /v1/jobs", r.handleListJobs)
	r.mux.HandleFunc("POST /v1/jobs/{kind}/run", r.handleRunJob)
	r.mux.HandleFunc("GET /v1/jobs/history", r.handleHistory)
	r.mux.Handle("GET /metrics", deps.Metrics)

	r.handler = flintlog.HTTPMiddleware(r.logger, r.mux)
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Commit    string       `json:"commit,omitempty"`
	BuildDate string       `json:"build_date,omitempty"`
	Uptime    string       `json:"uptime"`
	Servers   ServerCounts `json:"servers"`
	Jobs      int          `json:"jobs"`
}

// ServerCounts summarizes the pool.
type ServerCounts struct {
	Total int `json:"total"`
	Ready int `json:"ready"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   r.config.Version,
		Commit:    r.config.Commit,
		BuildDate: r.config.BuildDate,
		Uptime:    time.Since(r.started).Round(time.Second).String(),
	}
	if r.deps.Servers != nil {
		for _, st := range r.deps.Servers.Status() {
			resp.Servers.Total++
			if st.State == mcp.StateReady {
				resp.Servers.Ready++
			}
		}
	}
	if r.deps.Jobs != nil {
		resp.Jobs = len(r.deps.Jobs.Jobs())
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// NewHTTPServer wraps handler in a server with conservative timeouts.
// Command and job requests wait for their result, so there is no write
// timeout.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
