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
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flint/internal/api"
	"github.com/tombee/flint/internal/commands/shared"
	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
)

const descriptors = `mcps:
  weather:
    type: stdio
    description: Forecasts
    config:
      cmd: uvx
      args: [weather-mcp]
      timeout: 30
      envs:
        API_KEY: secret-value
  calendar:
    type: stdio
    enabled: false
    prompt: Answer briefly.
    config:
      cmd: calendar-mcp
`

type fakeServers struct{}

func (fakeServers) Status() []mcp.ServerStatus {
	started := time.Now().Add(-90 * time.Minute)
	return []mcp.ServerStatus{
		{Name: "weather", Enabled: true, State: mcp.StateReady, PID: 42, Tools: []string{"forecast"}, StartedAt: &started},
		{Name: "calendar", Enabled: true, State: mcp.StateTerminated, LastError: "handshake failed"},
	}
}

// setup writes the descriptor and settings files. addr is the daemon API
// address written to the settings.
func setup(t *testing.T, addr string) string {
	t.Helper()
	dir := t.TempDir()
	descPath := filepath.Join(dir, "mcp.yaml")
	require.NoError(t, os.WriteFile(descPath, []byte(descriptors), 0o600))

	path := filepath.Join(dir, "flint.yaml")
	settings := "timezone: UTC\nmcp:\n  config_path: " + descPath + "\nserver:\n  listen: " + addr + "\n"
	require.NoError(t, os.WriteFile(path, []byte(settings), 0o600))

	for _, key := range []string{"MCP_CONFIG_PATH", "FLINT_LISTEN", "MCP_WEATHER_PROMPT"} {
		t.Setenv(key, "")
	}
	shared.SetFlagsForTest(path, false)
	t.Cleanup(func() { shared.SetFlagsForTest("", false) })
	return descPath
}

func execute(args ...string) (string, error) {
	cmd := NewMCPCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	setup(t, "127.0.0.1:9876")

	out, err := execute("list")
	require.NoError(t, err)
	assert.Contains(t, out, "weather")
	assert.Contains(t, out, "uvx weather-mcp")
	assert.Contains(t, out, "30s")
	assert.NotContains(t, out, "secret-value")
}

func TestList_JSON(t *testing.T) {
	setup(t, "127.0.0.1:9876")
	shared.SetFlagsForTest(shared.GetConfigPath(), true)

	out, err := execute("list")
	require.NoError(t, err)

	var body struct {
		Servers []descriptorView `json:"servers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Servers, 2)
	assert.Equal(t, "weather", body.Servers[0].Name)
	assert.Equal(t, []string{"API_KEY"}, body.Servers[0].EnvKeys)
	assert.Equal(t, 30, body.Servers[0].TimeoutSeconds)
	assert.False(t, body.Servers[1].Enabled)
	assert.True(t, body.Servers[1].HasPrompt)
	assert.NotContains(t, out, "secret-value")
}

func TestValidate(t *testing.T) {
	descPath := setup(t, "127.0.0.1:9876")

	out, err := execute("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid: 2 servers, 1 enabled")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mcps:\n  x:\n    type: sse\n    cmd: y\n"), 0o600))
	_, err = execute("validate", bad)
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))

	_, err = execute("validate", descPath)
	assert.NoError(t, err)
}

func TestStatus(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{}, api.Deps{Servers: fakeServers{}}, flintlog.Discard())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	setup(t, srv.Listener.Addr().String())

	out, err := execute("status")
	require.NoError(t, err)
	assert.Contains(t, out, "weather")
	assert.Contains(t, out, "ready")
	assert.Contains(t, out, "1h30m")
	assert.Contains(t, out, "handshake failed")

	out, err = execute("status", "Weather")
	require.NoError(t, err)
	assert.Contains(t, out, "PID:       42")
	assert.Contains(t, out, "- forecast")

	_, err = execute("status", "todoist")
	assert.Equal(t, shared.ExitFailed, shared.ExitCode(err))
}

func TestStatus_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(nil)
	addr := srv.Listener.Addr().String()
	srv.Close()
	setup(t, addr)

	_, err := execute("status")
	assert.Equal(t, shared.ExitUnavailable, shared.ExitCode(err))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h30m"},
		{50 * time.Hour, "2d2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
