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


package main

import (
	"context"

	"github.com/tombee/flint/internal/cli"
	"github.com/tombee/flint/internal/commands/ask"
	"github.com/tombee/flint/internal/commands/completion"
	"github.com/tombee/flint/internal/commands/diary"
	"github.com/tombee/flint/internal/commands/jobs"
	"github.com/tombee/flint/internal/commands/mcp"
	"github.com/tombee/flint/internal/commands/serve"
	"github.com/tombee/flint/internal/commands/todoist"
	versioncmd "github.com/tombee/flint/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Daemon
	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(jobs.NewCommand())
	rootCmd.AddCommand(mcp.NewMCPCommand())

	// One-off requests
	rootCmd.AddCommand(ask.NewCommand())
	rootCmd.AddCommand(diary.NewCommand())
	rootCmd.AddCommand(todoist.NewCommand())

	rootCmd.AddCommand(completion.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		cli.HandleExitError(err)
	}
}
