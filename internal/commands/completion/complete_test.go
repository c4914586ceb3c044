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


package completion

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flint/internal/commands/shared"
)

const descriptors = `mcps:
  weather:
    type: stdio
    description: Forecasts
    config:
      cmd: weather-mcp
  calendar:
    type: stdio
    config:
      cmd: calendar-mcp
  old:
    type: stdio
    enabled: false
    config:
      cmd: old-mcp
`

func writeSettings(t *testing.T, mode os.FileMode) {
	t.Helper()
	dir := t.TempDir()
	mcpPath := filepath.Join(dir, "mcp.yaml")
	require.NoError(t, os.WriteFile(mcpPath, []byte(descriptors), 0o600))

	path := filepath.Join(dir, "flint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\nmcp:\n  config_path: "+mcpPath+"\n"), mode))
	require.NoError(t, os.Chmod(path, mode))

	t.Setenv("MCP_CONFIG_PATH", "")
	shared.SetFlagsForTest(path, false)
	t.Cleanup(func() { shared.SetFlagsForTest("", false) })
}

func TestCompleteServerNames(t *testing.T) {
	writeSettings(t, 0o600)

	names, directive := CompleteServerNames(nil, nil, "")
	assert.Equal(t, []string{"calendar", "weather\tForecasts"}, names)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	names, _ = CompleteServerNames(nil, []string{"weather"}, "")
	assert.Empty(t, names)

	names, _ = CompleteCommands(nil, nil, "")
	assert.Len(t, names, 3)
	assert.Contains(t, names[2], "list_mcps")
}

func TestCompleteServerNames_OpenPermissions(t *testing.T) {
	writeSettings(t, 0o644)

	names, _ := CompleteServerNames(nil, nil, "")
	assert.Empty(t, names)
}

func TestCompleteJobKinds(t *testing.T) {
	kinds, _ := CompleteJobKinds(nil, nil, "")
	assert.Len(t, kinds, 3)

	kinds, _ = CompleteJobArg(nil, []string{"daily_diary"}, "")
	assert.Empty(t, kinds)
}

func TestSafeCompletionWrapper(t *testing.T) {
	results, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Empty(t, results)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	results, _ = SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	assert.NotNil(t, results)
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "flint"}
	root.AddCommand(NewCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"completion", "bash"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "flint")

	root.SetArgs([]string{"completion", "tcsh"})
	assert.Error(t, root.Execute())
}
