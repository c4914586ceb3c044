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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flint_scheduler_runs_total",
			Help: "Total scheduled job runs by job and status",
		},
		[]string{"job", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flint_scheduler_run_duration_seconds",
			Help:    "Job run duration including delivery",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	// jobSkips counts ticks that did not start a run
	jobSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flint_scheduler_skips_total",
			Help: "Scheduled ticks skipped by job and reason",
		},
		[]string{"job", "reason"},
	)

	jobRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flint_scheduler_job_running",
			Help: "Whether a job is currently running (1) or idle (0)",
		},
		[]string{"job"},
	)
)

func recordRun(kind Kind, status Status, elapsed time.Duration) {
	jobRuns.WithLabelValues(string(kind), string(status)).Inc()
	jobDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func recordSkip(kind Kind, reason string) {
	jobSkips.WithLabelValues(string(kind), reason).Inc()
}

func recordRunning(kind Kind, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	jobRunning.WithLabelValues(string(kind)).Set(v)
}
