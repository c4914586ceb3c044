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

// Package shared holds the global flags, exit codes and helpers every flint
// command uses.
package shared

// Global flag values - set by root command
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	configFlag  string
	addrFlag    string
	jqFlag      string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Flags points at the global flag values for binding by the root command.
type Flags struct {
	Verbose *bool
	Quiet   *bool
	JSON    *bool
	Config  *string
	Addr    *string
	JQ      *string
}

// RegisterFlagPointers returns pointers to flag variables for binding.
func RegisterFlagPointers() Flags {
	return Flags{
		Verbose: &verboseFlag,
		Quiet:   &quietFlag,
		JSON:    &jsonFlag,
		Config:  &configFlag,
		Addr:    &addrFlag,
		JQ:      &jqFlag,
	}
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verboseFlag
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quietFlag
}

// GetJSON reports whether output should be JSON. --jq implies --json.
func GetJSON() bool {
	return jsonFlag || jqFlag != ""
}

// GetJQ returns the --jq expression
func GetJQ() string {
	return jqFlag
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	return configFlag
}

// GetAddr returns the daemon address flag value
func GetAddr() string {
	return addrFlag
}

// SetFlagsForTest sets the config path and JSON mode for tests.
func SetFlagsForTest(configPath string, json bool) {
	configFlag = configPath
	jsonFlag = json
	jqFlag = ""
}

// SetJQForTest sets the --jq expression for tests.
func SetJQForTest(expr string) {
	jqFlag = expr
}
