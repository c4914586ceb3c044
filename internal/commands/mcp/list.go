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
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/config"
	"github.com/tombee/flint/internal/mcp"
)

// newMCPListCommand creates the 'mcp list' command.
func newMCPListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured MCP servers",
		Long: `List the servers in the descriptor file (MCP_CONFIG_PATH). Nothing is
started; use 'flint mcp status' for live state.`,
		Example: `  # List configured servers
  flint mcp list

  # Extract enabled server names for scripting
  flint mcp list --json | jq -r '.servers[] | select(.enabled) | .name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			return runMCPList(cmd.OutOrStdout(), cfg)
		},
	}
}

type descriptorView struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Enabled        bool     `json:"enabled"`
	Transport      string   `json:"transport"`
	Command        string   `json:"command"`
	Args           []string `json:"args,omitempty"`
	EnvKeys        []string `json:"env_keys,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	HasPrompt      bool     `json:"has_prompt"`
}

func runMCPList(out io.Writer, cfg *config.Config) error {
	descs, err := mcp.LoadDescriptorFile(cfg.MCP.ConfigPath, os.LookupEnv)
	if err != nil {
		return shared.NewConfigError("failed to load descriptors", err)
	}

	views := make([]descriptorView, 0, len(descs))
	for _, d := range descs {
		views = append(views, descriptorView{
			Name:           d.Name,
			Description:    d.Description,
			Enabled:        d.Enabled,
			Transport:      string(d.Transport),
			Command:        d.Command,
			Args:           d.Args,
			EnvKeys:        envKeys(d.Env),
			TimeoutSeconds: int(d.Timeout / time.Second),
			HasPrompt:      d.PromptOverride != "",
		})
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{"servers": views})
	}

	if len(views) == 0 {
		fmt.Fprintf(out, "No MCP servers in %s.\n", cfg.MCP.ConfigPath)
		return nil
	}

	fmt.Fprintln(out, shared.Header.Render(fmt.Sprintf("%-20s %-8s %-8s %-30s %s", "NAME", "ENABLED", "TIMEOUT", "COMMAND", "DESCRIPTION")))
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, v := range views {
		fmt.Fprintf(out, "%-20s %-8s %-8s %-30s %s\n",
			truncate(v.Name, 20),
			yesNo(v.Enabled),
			time.Duration(v.TimeoutSeconds)*time.Second,
			truncate(strings.Join(append([]string{v.Command}, v.Args...), " "), 30),
			v.Description,
		)
	}
	return nil
}
