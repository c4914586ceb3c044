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

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tombee/flint/internal/httputil"
	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/scheduler"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// JobsResponse is the body of GET /v1/jobs.
type JobsResponse struct {
	Jobs []scheduler.JobStatus `json:"jobs"`
}

// HistoryResponse is the body of GET /v1/jobs/history.
type HistoryResponse struct {
	Runs []scheduler.RunRecord `json:"runs"`
}

func (r *Router) handleListJobs(w http.ResponseWriter, req *http.Request) {
	jobs := []scheduler.JobStatus{}
	if r.deps.Jobs != nil {
		jobs = append(jobs, r.deps.Jobs.Jobs()...)
	}
	httputil.WriteJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

func (r *Router) handleRunJob(w http.ResponseWriter, req *http.Request) {
	if r.deps.Jobs == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}

	kind := scheduler.Kind(req.PathValue("kind"))
	rec, err := r.deps.Jobs.RunNow(req.Context(), kind)
	if err != nil {
		var nf *pkgerrors.NotFoundError
		switch {
		case errors.As(err, &nf):
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{
				Error:      err.Error(),
				Suggestion: "Run 'flint jobs list' to see the scheduled jobs",
			})
		case errors.Is(err, scheduler.ErrJobRunning):
			httputil.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, scheduler.ErrStopped):
			httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
		default:
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := defaultHistoryLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs := []scheduler.RunRecord{}
	if r.deps.Jobs != nil {
		kind := scheduler.Kind(req.URL.Query().Get("kind"))
		recent, err := r.deps.Jobs.History(req.Context(), kind, limit)
		if err != nil {
			r.logger.Error("reading job history failed", flintlog.Error(err))
			httputil.WriteError(w, http.StatusInternalServerError, "failed to read job history")
			return
		}
		runs = append(runs, recent...)
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}
