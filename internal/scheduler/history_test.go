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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRecord(i int, kind Kind) RunRecord {
	start := time.Date(2025, 1, 15, 7, 30, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	return RunRecord{
		ID:         fmt.Sprintf("run-%02d", i),
		Kind:       kind,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Status:     StatusOK,
	}
}

func TestMemoryHistory(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(3)

	recs, err := h.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	for i := range 5 {
		kind := KindAgenda
		if i%2 == 1 {
			kind = KindDiary
		}
		require.NoError(t, h.Record(ctx, runRecord(i, kind)))
	}

	recs, err = h.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"run-04", "run-03", "run-02"}, ids(recs))

	recs, err = h.Recent(ctx, KindAgenda, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-04"}, ids(recs))
	assert.NoError(t, h.Close())
}

func TestSQLiteHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	h, err := OpenSQLiteHistory(ctx, path)
	require.NoError(t, err)

	for i := range 4 {
		kind := KindAgenda
		if i == 2 {
			kind = KindTaskSync
		}
		require.NoError(t, h.Record(ctx, runRecord(i, kind)))
	}

	failed := runRecord(3, KindAgenda)
	failed.Status = StatusFailed
	failed.Detail = "delivery: boom"
	failed.Manual = true
	require.NoError(t, h.Record(ctx, failed))

	recs, err := h.Recent(ctx, KindAgenda, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"run-03", "run-01", "run-00"}, ids(recs))
	assert.Equal(t, StatusFailed, recs[0].Status)
	assert.Equal(t, "delivery: boom", recs[0].Detail)
	assert.True(t, recs[0].Manual)
	assert.Equal(t, 1500*time.Millisecond, recs[0].Duration())
	require.NoError(t, h.Close())

	// Records survive a reopen.
	h, err = OpenSQLiteHistory(ctx, path)
	require.NoError(t, err)
	defer h.Close()
	recs, err = h.Recent(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-03", "run-02"}, ids(recs))
}

func ids(recs []RunRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
