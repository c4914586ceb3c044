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
	"time"
)

// Kind identifies a job in the fixed catalog.
type Kind string

const (
	KindAgenda   Kind = "daily_agenda"
	KindDiary    Kind = "daily_diary"
	KindTaskSync Kind = "periodic_task_sync"
)

// Kinds lists the catalog in display order.
func Kinds() []Kind { return []Kind{KindAgenda, KindDiary, KindTaskSync} }

// JobState is Idle or Running.
type JobState string

const (
	StateIdle    JobState = "idle"
	StateRunning JobState = "running"
)

// Status is the outcome of one run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Job composes one artifact per run.
type Job interface {
	Kind() Kind
	// RequiredServers lists MCP servers that must be live for a run.
	RequiredServers() []string
	// Compose gathers the artifact. ctx is cancelled when the engine stops;
	// failures of individual sources become placeholders, not errors.
	Compose(ctx context.Context, now time.Time) (*Artifact, error)
}

// Artifact is a composed result waiting for delivery.
type Artifact struct {
	// Status is the run's outcome if delivery succeeds.
	Status Status
	Detail string
	// Deliver hands the artifact to its sink. It runs with a context that
	// engine shutdown does not cancel.
	Deliver func(ctx context.Context) error
}

// RunRecord is one entry of the run history.
type RunRecord struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Manual     bool      `json:"manual,omitempty"`
}

// Duration is the run's wall time.
func (r RunRecord) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Kind            Kind      `json:"kind"`
	Trigger         string    `json:"trigger"`
	RequiredServers []string  `json:"required_servers"`
	State           JobState  `json:"state"`
	LastRunAt       time.Time `json:"last_run_at,omitzero"`
	NextRunAt       time.Time `json:"next_run_at"`
	LastStatus      Status    `json:"last_status,omitempty"`
	RunCount        int64     `json:"run_count"`
	FailureCount    int64     `json:"failure_count"`
}
