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
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteHistory stores run records in a SQLite database.
type SQLiteHistory struct {
	db *sql.DB
}

// DefaultHistoryPath is used when no state database is configured.
func DefaultHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "flint", "state.db"), nil
}

// OpenSQLiteHistory opens or creates the database at path and migrates it.
func OpenSQLiteHistory(ctx context.Context, path string) (*SQLiteHistory, error) {
	if path == "" {
		var err error
		if path, err = DefaultHistoryPath(); err != nil {
			return nil, err
		}
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; an in-memory database also needs a single connection to
	// stay the same database.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	h := &SQLiteHistory{db: db}
	if err := h.migrate(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return h, nil
}

func (h *SQLiteHistory) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		manual INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_kind_started ON job_runs(kind, started_at DESC);
	`
	if _, err := h.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record implements HistoryStore. Re-recording an id replaces the row.
func (h *SQLiteHistory) Record(ctx context.Context, rec RunRecord) error {
	manual := 0
	if rec.Manual {
		manual = 1
	}
	_, err := h.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO job_runs (id, kind, started_at, finished_at, status, detail, manual)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		string(rec.Status), rec.Detail, manual,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}
	return nil
}

// Recent implements HistoryStore.
func (h *SQLiteHistory) Recent(ctx context.Context, kind Kind, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, kind, started_at, finished_at, status, detail, manual
	FROM job_runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec               RunRecord
			kindStr, status   string
			started, finished int64
			manual            int
		)
		if err := rows.Scan(&rec.ID, &kindStr, &started, &finished, &status, &rec.Detail, &manual); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Kind = Kind(kindStr)
		rec.Status = Status(status)
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		rec.Manual = manual == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements HistoryStore.
func (h *SQLiteHistory) Close() error { return h.db.Close() }
