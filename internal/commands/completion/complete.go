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
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/config"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/scheduler"
)

// CheckFilePermissions reports whether path is private to its owner
// (mode <= 0600). Missing files count as private.
func CheckFilePermissions(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Mode().Perm() <= 0o600
}

// loadConfig loads the settings for completion. Settings files readable by
// others are skipped since they may hold tokens.
func loadConfig() (*config.Config, error) {
	path := config.ResolvePath(shared.GetConfigPath())
	if path != "" && !CheckFilePermissions(path) {
		return nil, nil
	}
	return config.Load(path)
}

// SafeCompletionWrapper wraps a completion function with panic recovery.
// Returns an empty list on panic.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}

// CompleteServerNames completes the first argument with the enabled
// servers from the descriptor file.
func CompleteServerNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		cfg, err := loadConfig()
		if err != nil || cfg == nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		descs, err := mcp.LoadDescriptorFile(cfg.MCP.ConfigPath, os.LookupEnv)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		var names []string
		for _, d := range descs {
			if !d.Enabled {
				continue
			}
			if d.Description != "" {
				names = append(names, d.Name+"\t"+d.Description)
			} else {
				names = append(names, d.Name)
			}
		}
		sort.Strings(names)
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteCommands is CompleteServerNames plus the list_mcps command.
func CompleteCommands(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	names, directive := CompleteServerNames(cmd, args, toComplete)
	if len(args) > 0 {
		return names, directive
	}
	return append(names, mcp.ListCommand+"\tList the enabled servers"), directive
}

// CompleteJobKinds completes scheduled job kinds.
func CompleteJobKinds(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			string(scheduler.KindAgenda) + "\tMorning weather and calendar summary",
			string(scheduler.KindDiary) + "\tDiary section of the daily note",
			string(scheduler.KindTaskSync) + "\tTodoist tasks mirrored into notes",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteJobArg completes the single job kind argument of 'jobs run'.
func CompleteJobArg(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return CompleteJobKinds(cmd, args, toComplete)
}
