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
	"fmt"
	"log/slog"
	"time"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/sink"
	"github.com/tombee/flint/internal/todoist"
)

const (
	// DefaultSyncInterval is the task sync period when none is configured.
	DefaultSyncInterval = time.Hour
	// DefaultSyncFirstDelay postpones the first sync after start.
	DefaultSyncFirstDelay = 30 * time.Second
)

// TaskExporter writes task notes. *todoist.Exporter implements it.
type TaskExporter interface {
	Export(ctx context.Context) (todoist.ExportResult, error)
}

// TaskSyncJob mirrors tasks into the notes folder. It talks to the task
// API directly rather than through an MCP server.
type TaskSyncJob struct {
	exporter TaskExporter
	// chat, when set, is told about failed syncs.
	chat   sink.Chat
	logger *slog.Logger
}

// NewTaskSyncJob creates the sync job. chat may be nil.
func NewTaskSyncJob(exporter TaskExporter, chat sink.Chat, logger *slog.Logger) *TaskSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskSyncJob{exporter: exporter, chat: chat, logger: flintlog.WithComponent(logger, "tasksync")}
}

// Kind implements Job.
func (j *TaskSyncJob) Kind() Kind { return KindTaskSync }

// RequiredServers implements Job.
func (j *TaskSyncJob) RequiredServers() []string { return nil }

// Compose implements Job. Notes are written while composing; only the
// failure notice is left for delivery.
func (j *TaskSyncJob) Compose(ctx context.Context, _ time.Time) (*Artifact, error) {
	res, err := j.exporter.Export(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "task sync failed", flintlog.Error(err))
		art := &Artifact{Status: StatusFailed, Detail: err.Error()}
		if j.chat != nil {
			notice := sink.Message{Kind: string(KindTaskSync), Text: "❌ Todoist sync failed: " + err.Error()}
			art.Deliver = func(ctx context.Context) error { return j.chat.Send(ctx, notice) }
		}
		return art, nil
	}

	art := &Artifact{
		Status: StatusOK,
		Detail: fmt.Sprintf("exported %d, skipped %d, failed %d", res.Exported, res.Skipped, res.Failed),
	}
	if res.Failed > 0 {
		art.Status = StatusPartial
	}
	return art, nil
}
