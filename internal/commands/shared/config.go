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

package shared

import (
	"log/slog"

	"github.com/tombee/flint/internal/client"
	"github.com/tombee/flint/internal/config"
	flintlog "github.com/tombee/flint/internal/log"
)

// LoadConfig loads the settings file named by --config, FLINT_CONFIG or the
// default location, overlaid by the environment.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(GetConfigPath()))
	if err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}
	return cfg, nil
}

// NewLogger builds a logger from cfg. --verbose forces debug level and
// --quiet keeps only errors.
func NewLogger(cfg *config.Config) *slog.Logger {
	lc := cfg.Logging()
	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "error"
	}
	return flintlog.New(lc)
}

// NewCLILogger builds the logger for one-shot commands: text on stderr at
// warn level unless --verbose is set.
func NewCLILogger(cfg *config.Config) *slog.Logger {
	lc := cfg.Logging()
	lc.Format = flintlog.FormatText
	lc.Level = "warn"
	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "error"
	}
	return flintlog.New(lc)
}

// DaemonAddr is --addr, or the configured listen address.
func DaemonAddr(cfg *config.Config) string {
	if addr := GetAddr(); addr != "" {
		return addr
	}
	return cfg.Server.Listen
}

// NewClient creates an API client for the daemon.
func NewClient(cfg *config.Config, logger *slog.Logger) (*client.Client, error) {
	c, err := client.New(DaemonAddr(cfg), client.WithLogger(logger))
	if err != nil {
		return nil, NewConfigError("invalid daemon address", err)
	}
	return c, nil
}
