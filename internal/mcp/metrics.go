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

package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// serverEvents counts lifecycle events per server
	serverEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flint_mcp_server_events_total",
			Help: "Total MCP server lifecycle events by server and event type",
		},
		[]string{"server", "event"},
	)

	// serverReady is 1 while a server is Ready
	serverReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flint_mcp_server_ready",
			Help: "Whether an MCP server is ready to take requests (1) or not (0)",
		},
		[]string{"server"},
	)

	// serverRestarts counts restart attempts
	serverRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flint_mcp_server_restarts_total",
			Help: "Total MCP server restart attempts by server and outcome",
		},
		[]string{"server", "outcome"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flint_mcp_dispatch_total",
			Help: "Total dispatches by server and result (ok or error kind)",
		},
		[]string{"server", "result"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flint_mcp_dispatch_duration_seconds",
			Help:    "Dispatch latency by server",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"server"},
	)

	pendingRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flint_mcp_pending_requests",
			Help: "In-flight requests per MCP server",
		},
		[]string{"server"},
	)
)

func recordServerEvent(server string, event EventType) {
	serverEvents.WithLabelValues(server, string(event)).Inc()
}

func recordState(server string, state State) {
	v := 0.0
	if state == StateReady {
		v = 1
	}
	serverReady.WithLabelValues(server).Set(v)
}

func recordRestart(server string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	serverRestarts.WithLabelValues(server, outcome).Inc()
}

func recordDispatch(server string, kind ErrorKind, elapsed time.Duration) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	dispatchTotal.WithLabelValues(server, result).Inc()
	dispatchDuration.WithLabelValues(server).Observe(elapsed.Seconds())
}

func recordPending(server string, n int) {
	pendingRequests.WithLabelValues(server).Set(float64(n))
}
