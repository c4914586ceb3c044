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
	"sync"
)

// HistoryStore persists run records.
type HistoryStore interface {
	Record(ctx context.Context, rec RunRecord) error
	// Recent returns up to limit records, newest first. An empty kind
	// matches every job.
	Recent(ctx context.Context, kind Kind, limit int) ([]RunRecord, error)
	Close() error
}

// MemoryHistory keeps the most recent records in a ring buffer.
type MemoryHistory struct {
	mu      sync.Mutex
	records []RunRecord
	next    int
	full    bool
}

// NewMemoryHistory creates a store holding at most size records.
func NewMemoryHistory(size int) *MemoryHistory {
	if size <= 0 {
		size = 100
	}
	return &MemoryHistory{records: make([]RunRecord, size)}
}

// Record implements HistoryStore.
func (m *MemoryHistory) Record(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.next] = rec
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent implements HistoryStore.
func (m *MemoryHistory) Recent(_ context.Context, kind Kind, limit int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.records)
	}
	var out []RunRecord
	for i := 1; i <= n; i++ {
		rec := m.records[(m.next-i+len(m.records))%len(m.records)]
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close implements HistoryStore.
func (m *MemoryHistory) Close() error { return nil }
