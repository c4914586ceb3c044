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

// Package scheduler runs flint's recurring jobs: the daily agenda, the
// daily diary and the periodic task sync. One loop ticks every second and
// starts due jobs in their own goroutines; a job never overlaps with
// itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	flintlog "github.com/tombee/flint/internal/log"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

const (
	// DefaultTickInterval is how often the loop checks for due jobs.
	DefaultTickInterval = time.Second
	// DefaultDeliveryTimeout bounds artifact delivery after composing.
	DefaultDeliveryTimeout = 30 * time.Second

	historyWriteTimeout = 5 * time.Second
)

var (
	// ErrJobRunning is returned by RunNow while the job is already running.
	ErrJobRunning = errors.New("job is already running")
	// ErrStopped is returned once the engine has been stopped.
	ErrStopped = errors.New("scheduler stopped")
)

// ServerSet reports which MCP servers are live. *mcp.Registry implements
// it.
type ServerSet interface {
	Has(name string) bool
}

// Config configures an Engine.
type Config struct {
	// Location is the zone triggers and job dates are evaluated in.
	Location *time.Location
	Servers  ServerSet
	// History records every run; nil keeps no history.
	History HistoryStore
	Logger  *slog.Logger

	TickInterval    time.Duration
	DeliveryTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry struct {
	job        Job
	trigger    Trigger
	state      JobState
	lastRunAt  time.Time
	nextRunAt  time.Time
	lastStatus Status
	runCount   int64
	failures   int64
}

// Engine owns the scheduling loop and the per-job state.
type Engine struct {
	mu      sync.Mutex
	entries map[Kind]*entry
	order   []Kind
	started bool
	stopped bool

	loc             *time.Location
	servers         ServerSet
	history         HistoryStore
	logger          *slog.Logger
	tickInterval    time.Duration
	deliveryTimeout time.Duration
	clock           func() time.Time

	// runCtx is cancelled by Stop; compose phases run under it.
	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New creates an engine. Jobs are added with Register.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		entries:         make(map[Kind]*entry),
		loc:             loc,
		servers:         cfg.Servers,
		history:         cfg.History,
		logger:          flintlog.WithComponent(logger, "scheduler"),
		tickInterval:    cfg.TickInterval,
		deliveryTimeout: cfg.DeliveryTimeout,
		clock:           cfg.Now,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	if e.tickInterval <= 0 {
		e.tickInterval = DefaultTickInterval
	}
	if e.deliveryTimeout <= 0 {
		e.deliveryTimeout = DefaultDeliveryTimeout
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	e.runCtx, e.cancelRuns = context.WithCancel(context.Background())
	return e
}

func (e *Engine) now() time.Time { return e.clock().In(e.loc) }

// Location returns the engine's time zone.
func (e *Engine) Location() *time.Location { return e.loc }

// Register adds a job. Each kind may be registered once.
func (e *Engine) Register(job Job, trigger Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := job.Kind()
	if _, exists := e.entries[kind]; exists {
		return fmt.Errorf("job %s already registered", kind)
	}
	ent := &entry{job: job, trigger: trigger, state: StateIdle}
	if e.started {
		ent.nextRunAt = trigger.First(e.now())
	}
	e.entries[kind] = ent
	e.order = append(e.order, kind)
	recordRunning(kind, false)
	e.logger.Info("job registered", slog.String(flintlog.JobKey, string(kind)), "trigger", trigger.String())
	return nil
}

// Start computes first run times and starts the loop. The loop also exits
// when ctx is done, but only Stop cancels running jobs.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return nil
	}
	e.started = true

	now := e.now()
	for _, kind := range e.order {
		ent := e.entries[kind]
		ent.nextRunAt = ent.trigger.First(now)
		e.logger.Info("job scheduled",
			slog.String(flintlog.JobKey, string(kind)),
			"next_run_at", ent.nextRunAt.Format(time.RFC3339))
	}

	go e.loop(ctx)
	return nil
}

// Stop cancels in-flight dispatches, stops the loop and waits for running
// jobs to finish composing and delivering.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	started := e.started
	close(e.stopCh)
	e.mu.Unlock()

	e.cancelRuns()
	if started {
		<-e.doneCh
	}
	e.runs.Wait()
	e.logger.Info("scheduler stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(e.now())
		}
	}
}

// tick starts every due job. It never blocks on a run.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	for _, kind := range e.order {
		ent := e.entries[kind]
		if now.Before(ent.nextRunAt) {
			continue
		}
		ent.nextRunAt = ent.trigger.Next(now)
		logger := e.logger.With(slog.String(flintlog.JobKey, string(kind)))

		if missing := e.missingServers(ent.job); len(missing) > 0 {
			logger.Warn("required servers unavailable; skipping run",
				"missing", missing,
				"next_run_at", ent.nextRunAt.Format(time.RFC3339))
			recordSkip(kind, "server_unavailable")
			e.recordSkippedLocked(kind, now, fmt.Sprintf("servers unavailable: %v", missing), false)
			continue
		}
		if ent.state == StateRunning {
			logger.Info("previous run still in progress; skipping tick",
				"next_run_at", ent.nextRunAt.Format(time.RFC3339))
			recordSkip(kind, "running")
			continue
		}
		e.startLocked(ent, false)
	}
}

// RunNow runs kind immediately and waits for the result. Waiting stops
// when ctx is done; the run itself carries on.
func (e *Engine) RunNow(ctx context.Context, kind Kind) (RunRecord, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return RunRecord{}, ErrStopped
	}
	ent, ok := e.entries[kind]
	if !ok {
		e.mu.Unlock()
		return RunRecord{}, &pkgerrors.NotFoundError{Resource: "job", ID: string(kind)}
	}
	if ent.state == StateRunning {
		e.mu.Unlock()
		return RunRecord{}, ErrJobRunning
	}
	if missing := e.missingServers(ent.job); len(missing) > 0 {
		rec := e.recordSkippedLocked(kind, e.now(), fmt.Sprintf("servers unavailable: %v", missing), true)
		e.mu.Unlock()
		recordSkip(kind, "server_unavailable")
		return rec, nil
	}
	done := e.startLocked(ent, true)
	e.mu.Unlock()

	select {
	case rec := <-done:
		return rec, nil
	case <-ctx.Done():
		return RunRecord{Kind: kind}, ctx.Err()
	}
}

func (e *Engine) missingServers(job Job) []string {
	var missing []string
	for _, name := range job.RequiredServers() {
		if e.servers == nil || !e.servers.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// recordSkippedLocked writes a skipped run to history in the background.
func (e *Engine) recordSkippedLocked(kind Kind, at time.Time, detail string, manual bool) RunRecord {
	rec := RunRecord{
		ID:         uuid.NewString(),
		Kind:       kind,
		StartedAt:  at,
		FinishedAt: at,
		Status:     StatusSkipped,
		Detail:     detail,
		Manual:     manual,
	}
	recordRun(kind, StatusSkipped, 0)
	if e.history != nil {
		e.runs.Add(1)
		go func() {
			defer e.runs.Done()
			e.saveRecord(rec)
		}()
	}
	return rec
}

func (e *Engine) startLocked(ent *entry, manual bool) <-chan RunRecord {
	ent.state = StateRunning
	recordRunning(ent.job.Kind(), true)

	done := make(chan RunRecord, 1)
	e.runs.Add(1)
	go e.execute(ent, uuid.NewString(), manual, done)
	return done
}

func (e *Engine) execute(ent *entry, runID string, manual bool, done chan<- RunRecord) {
	defer e.runs.Done()

	kind := ent.job.Kind()
	logger := flintlog.WithJob(e.logger, string(kind), runID)
	rec := RunRecord{ID: runID, Kind: kind, StartedAt: e.now(), Manual: manual}
	logger.Info("job run started", "manual", manual)

	rec.Status, rec.Detail = e.compose(logger, ent.job, rec.StartedAt)
	rec.FinishedAt = e.now()

	e.mu.Lock()
	ent.state = StateIdle
	ent.lastRunAt = rec.FinishedAt
	ent.lastStatus = rec.Status
	ent.runCount++
	if rec.Status == StatusFailed {
		ent.failures++
	}
	if !ent.nextRunAt.After(rec.FinishedAt) {
		ent.nextRunAt = ent.trigger.Next(rec.FinishedAt)
	}
	next := ent.nextRunAt
	e.mu.Unlock()

	recordRunning(kind, false)
	recordRun(kind, rec.Status, rec.Duration())
	e.saveRecord(rec)

	level := slog.LevelInfo
	if rec.Status == StatusFailed {
		level = slog.LevelError
	} else if rec.Status == StatusPartial {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "job run finished",
		"status", rec.Status,
		"detail", rec.Detail,
		slog.Int64(flintlog.DurationKey, rec.Duration().Milliseconds()),
		"next_run_at", next.Format(time.RFC3339))

	done <- rec
}

// compose runs the compose phase and delivers the artifact under a context
// detached from shutdown.
func (e *Engine) compose(logger *slog.Logger, job Job, now time.Time) (status Status, detail string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", fmt.Sprint(r))
			status, detail = StatusFailed, fmt.Sprintf("panic: %v", r)
		}
	}()

	art, err := job.Compose(e.runCtx, now)
	if err != nil {
		logger.Error("job compose failed", flintlog.Error(err))
		return StatusFailed, err.Error()
	}
	if art == nil {
		return StatusOK, ""
	}
	status, detail = art.Status, art.Detail
	if status == "" {
		status = StatusOK
	}
	if art.Deliver == nil {
		return status, detail
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(e.runCtx), e.deliveryTimeout)
	defer cancel()
	if err := art.Deliver(dctx); err != nil {
		logger.Error("job delivery failed", flintlog.Error(err))
		if detail != "" {
			detail += "; "
		}
		return StatusFailed, detail + "delivery: " + err.Error()
	}
	return status, detail
}

func (e *Engine) saveRecord(rec RunRecord) {
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := e.history.Record(ctx, rec); err != nil {
		e.logger.Warn("recording job run failed",
			slog.String(flintlog.RunIDKey, rec.ID), flintlog.Error(err))
	}
}

// Jobs returns a snapshot of every registered job in registration order.
func (e *Engine) Jobs() []JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]JobStatus, 0, len(e.order))
	for _, kind := range e.order {
		ent := e.entries[kind]
		out = append(out, JobStatus{
			Kind:            kind,
			Trigger:         ent.trigger.String(),
			RequiredServers: ent.job.RequiredServers(),
			State:           ent.state,
			LastRunAt:       ent.lastRunAt,
			NextRunAt:       ent.nextRunAt,
			LastStatus:      ent.lastStatus,
			RunCount:        ent.runCount,
			FailureCount:    ent.failures,
		})
	}
	return out
}

// History returns recent runs, newest first.
func (e *Engine) History(ctx context.Context, kind Kind, limit int) ([]RunRecord, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.Recent(ctx, kind, limit)
}
