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

package mcp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	mcptest "github.com/tombee/flint/internal/mcp/testing"
)

func desc(name string) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{
		Name:      name,
		Transport: mcp.TransportStdio,
		Enabled:   true,
		Command:   name + "-server",
		Timeout:   time.Minute,
	}
}

func newTestPool(t *testing.T, dialer *mcptest.Dialer) *mcp.Pool {
	t.Helper()
	pool := mcp.NewPool(mcp.PoolConfig{
		Dialer:        dialer.Dial,
		Logger:        flintlog.Discard(),
		ProbeInterval: -1,
		GracePeriod:   100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	return pool
}

func stateOf(t *testing.T, pool *mcp.Pool, name string) mcp.State {
	t.Helper()
	for _, st := range pool.Status() {
		if st.Name == name {
			return st.State
		}
	}
	t.Fatalf("server %q missing from status", name)
	return ""
}

func TestPool_StartIsolatesFailures(t *testing.T) {
	dialer := mcptest.NewDialer()
	dialer.Fail("calendar", errors.New("executable not found"))
	broken := mcptest.NewSession()
	broken.InitializeFunc = func(ctx context.Context) (*mcp.ServerCapabilities, error) {
		return nil, errors.New("bad protocol version")
	}
	dialer.Script("tasks", mcptest.DialResult{Session: broken})

	pool := newTestPool(t, dialer)
	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{
		desc("calendar"), desc("weather"), desc("tasks"),
	}))

	assert.Equal(t, []string{"weather"}, pool.ReadyNames())
	assert.Equal(t, mcp.StateTerminated, stateOf(t, pool, "calendar"))
	assert.Equal(t, mcp.StateTerminated, stateOf(t, pool, "tasks"))
	assert.True(t, broken.Closed(), "session that failed the handshake should be closed")

	_, ok := pool.Get("calendar")
	assert.False(t, ok)
	conn, ok := pool.Get("WEATHER")
	require.True(t, ok)
	assert.Equal(t, "weather", conn.ServerName())
}

func TestPool_StartTwice(t *testing.T) {
	pool := newTestPool(t, mcptest.NewDialer())
	require.NoError(t, pool.Start(context.Background(), nil))
	assert.Error(t, pool.Start(context.Background(), nil))
}

func TestPool_DisabledServerNeverDialed(t *testing.T) {
	dialer := mcptest.NewDialer()
	pool := newTestPool(t, dialer)

	off := desc("notes")
	off.Enabled = false
	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{off, desc("weather")}))

	assert.Equal(t, 0, dialer.Dials("notes"))
	_, ok := pool.Get("notes")
	assert.False(t, ok)

	status := pool.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "notes", status[0].Name)
	assert.False(t, status[0].Enabled)
	assert.Equal(t, mcp.StateTerminated, status[0].State)
	assert.Equal(t, mcp.StateReady, status[1].State)
}

func TestPool_ProbeFailureRestartsOnce(t *testing.T) {
	dialer := mcptest.NewDialer()
	pool := newTestPool(t, dialer)
	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{desc("weather")}))

	first := dialer.Last("weather")
	first.SetPingError(errors.New("no response"))
	pool.ProbeAll(context.Background())

	assert.Equal(t, 2, dialer.Dials("weather"))
	assert.True(t, first.Closed())
	assert.Equal(t, mcp.StateReady, stateOf(t, pool, "weather"))
	assert.Equal(t, 1, pool.Status()[0].Restarts)

	// The restarted session fails before any healthy probe: the episode's
	// budget is spent.
	dialer.Last("weather").SetPingError(errors.New("no response"))
	pool.ProbeAll(context.Background())

	assert.Equal(t, 2, dialer.Dials("weather"))
	assert.Equal(t, mcp.StateTerminated, stateOf(t, pool, "weather"))
	assert.Empty(t, pool.ReadyNames())
}

func TestPool_HealthyProbeResetsRestartBudget(t *testing.T) {
	dialer := mcptest.NewDialer()
	pool := newTestPool(t, dialer)
	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{desc("weather")}))

	dialer.Last("weather").SetPingError(errors.New("no response"))
	pool.ProbeAll(context.Background())
	require.Equal(t, mcp.StateReady, stateOf(t, pool, "weather"))

	pool.ProbeAll(context.Background())

	dialer.Last("weather").SetPingError(errors.New("no response"))
	pool.ProbeAll(context.Background())

	assert.Equal(t, 3, dialer.Dials("weather"))
	assert.Equal(t, mcp.StateReady, stateOf(t, pool, "weather"))
	assert.Equal(t, 2, pool.Status()[0].Restarts)
}

func TestPool_FailedRestartTerminates(t *testing.T) {
	dialer := mcptest.NewDialer()
	first := mcptest.NewSession()
	dialer.Script("calendar",
		mcptest.DialResult{Session: first},
		mcptest.DialResult{Err: errors.New("spawn failed")},
	)

	pool := newTestPool(t, dialer)
	reg := mcp.NewRegistry(pool)
	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{desc("calendar")}))
	require.True(t, reg.Has("calendar"))

	first.SetPingError(errors.New("broken pipe"))
	pool.ProbeAll(context.Background())

	assert.Equal(t, mcp.StateTerminated, stateOf(t, pool, "calendar"))
	assert.False(t, reg.Has("calendar"))
	assert.NotEmpty(t, pool.Status()[0].LastError)
}

func TestPool_Reload(t *testing.T) {
	dialer := mcptest.NewDialer()
	pool := newTestPool(t, dialer)
	reg := mcp.NewRegistry(pool)

	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{
		desc("calendar"), desc("weather"),
	}))
	oldCalendar := dialer.Last("calendar")
	oldWeather := dialer.Last("weather")

	changed := desc("calendar")
	changed.Args = []string{"--verbose"}
	diff, err := pool.Reload(context.Background(), []mcp.ServerDescriptor{changed, desc("tasks")})
	require.NoError(t, err)

	assert.Equal(t, []string{"tasks"}, diff.Added)
	assert.Equal(t, []string{"weather"}, diff.Removed)
	assert.Equal(t, []string{"calendar"}, diff.Changed)

	assert.True(t, oldCalendar.Closed())
	assert.True(t, oldWeather.Closed())
	assert.Equal(t, 2, dialer.Dials("calendar"))
	assert.Equal(t, []string{"calendar", "tasks"}, reg.Commands())

	conn, ok := pool.Get("calendar")
	require.True(t, ok)
	assert.Equal(t, []string{"--verbose"}, conn.Descriptor().Args)
}

func TestPool_ReloadUnchangedIsNoop(t *testing.T) {
	dialer := mcptest.NewDialer()
	pool := newTestPool(t, dialer)
	descs := []mcp.ServerDescriptor{desc("weather")}
	require.NoError(t, pool.Start(context.Background(), descs))

	diff, err := pool.Reload(context.Background(), descs)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Equal(t, 1, dialer.Dials("weather"))
}

func TestPool_StopClosesSessions(t *testing.T) {
	dialer := mcptest.NewDialer()
	pool := newTestPool(t, dialer)
	require.NoError(t, pool.Start(context.Background(), []mcp.ServerDescriptor{desc("weather"), desc("calendar")}))

	require.NoError(t, pool.Stop(context.Background()))

	assert.True(t, dialer.Last("weather").Closed())
	assert.True(t, dialer.Last("calendar").Closed())
	assert.Empty(t, pool.ReadyNames())

	_, err := pool.Reload(context.Background(), nil)
	assert.Error(t, err)
	assert.NoError(t, pool.Stop(context.Background()), "second stop is a no-op")
}
