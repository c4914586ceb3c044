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
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// DefaultRequestTimeout applies when a descriptor does not set timeout.
const DefaultRequestTimeout = 300 * time.Second

// EnvLookup resolves environment variables. os.LookupEnv satisfies it.
type EnvLookup func(key string) (string, bool)

// ServerDescriptor is the validated, immutable description of one tool
// server. It is produced by LoadDescriptors and never mutated afterwards.
type ServerDescriptor struct {
	// Name is the normalized (lower-case) server name. It doubles as the
	// chat command name.
	Name        string
	Description string
	Transport   Transport
	Enabled     bool

	Command string
	Args    []string
	// Env holds resolved variables passed to the subprocess.
	Env map[string]string

	// PromptOverride is prepended to every request routed to this server.
	PromptOverride string

	// Timeout bounds a single dispatch.
	Timeout time.Duration
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (d ServerDescriptor) EnvList() []string {
	out := make([]string, 0, len(d.Env))
	for k, v := range d.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

type rawLaunch struct {
	Cmd     string            `yaml:"cmd"`
	Args    []string          `yaml:"args"`
	Envs    map[string]string `yaml:"envs"`
	EnvKeys []string          `yaml:"env_keys"`
	Timeout int               `yaml:"timeout"`
}

type rawServer struct {
	Type        string    `yaml:"type"`
	Enabled     *bool     `yaml:"enabled"`
	Description string    `yaml:"description"`
	Prompt      string    `yaml:"prompt"`
	Config      rawLaunch `yaml:"config"`

	// The launch block may also sit directly under the server entry.
	rawLaunch `yaml:",inline"`
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDescriptorFile reads path and parses it with LoadDescriptors.
func LoadDescriptorFile(path string, lookup EnvLookup) ([]ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pkgerrors.ConfigError{Key: "mcps", Reason: fmt.Sprintf("cannot read %s", path), Cause: err}
	}
	return LoadDescriptors(data, lookup)
}

// LoadDescriptors parses the `mcps` section of a flint config document.
// It has no side effects and may be called again on reload; descriptors are
// returned in document order. Every validation failure is a
// *errors.ConfigError whose Key names the offending server.
func LoadDescriptors(raw []byte, lookup EnvLookup) ([]ServerDescriptor, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var doc struct {
		MCPs yaml.Node `yaml:"mcps"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &pkgerrors.ConfigError{Key: "mcps", Reason: "invalid YAML", Cause: err}
	}
	if doc.MCPs.Kind == 0 {
		return nil, nil
	}
	if doc.MCPs.Kind != yaml.MappingNode {
		return nil, &pkgerrors.ConfigError{Key: "mcps", Reason: "must be a mapping of server name to settings"}
	}

	seen := make(map[string]string)
	var out []ServerDescriptor
	for i := 0; i+1 < len(doc.MCPs.Content); i += 2 {
		rawName := doc.MCPs.Content[i].Value
		name := NormalizeName(rawName)
		key := "mcps." + rawName

		if err := ValidateServerName(name); err != nil {
			return nil, &pkgerrors.ConfigError{Key: key, Reason: err.Error()}
		}
		if prev, dup := seen[name]; dup {
			return nil, &pkgerrors.ConfigError{
				Key:    key,
				Reason: fmt.Sprintf("duplicate server name %q (already defined as %q)", name, prev),
			}
		}
		seen[name] = rawName

		var rs rawServer
		if err := doc.MCPs.Content[i+1].Decode(&rs); err != nil {
			return nil, &pkgerrors.ConfigError{Key: key, Reason: "invalid server entry", Cause: err}
		}

		desc, err := buildDescriptor(name, rs, lookup)
		if err != nil {
			return nil, &pkgerrors.ConfigError{Key: key, Reason: err.Error()}
		}
		out = append(out, desc)
	}
	return out, nil
}

func buildDescriptor(name string, rs rawServer, lookup EnvLookup) (ServerDescriptor, error) {
	launch := rs.Config
	if launch.Cmd == "" && len(launch.Args) == 0 {
		launch = rs.rawLaunch
	}

	desc := ServerDescriptor{
		Name:        name,
		Description: rs.Description,
		Transport:   Transport(strings.ToLower(rs.Type)),
		Enabled:     rs.Enabled == nil || *rs.Enabled,
		Command:     strings.TrimSpace(launch.Cmd),
		Args:        launch.Args,
		Env:         make(map[string]string),
		Timeout:     DefaultRequestTimeout,
	}
	if desc.Transport == "" {
		desc.Transport = TransportStdio
	}
	if desc.Transport != TransportStdio {
		return desc, fmt.Errorf("unsupported transport %q", rs.Type)
	}
	if desc.Command == "" {
		return desc, fmt.Errorf("cmd is required for %s transport", desc.Transport)
	}
	if launch.Timeout < 0 {
		return desc, fmt.Errorf("timeout must be positive, got %d", launch.Timeout)
	}
	if launch.Timeout > 0 {
		desc.Timeout = time.Duration(launch.Timeout) * time.Second
	}

	if len(launch.Envs) > 0 {
		for k, v := range launch.Envs {
			resolved, err := resolveEnvRefs(v, lookup)
			if err != nil {
				return desc, fmt.Errorf("envs.%s: %w", k, err)
			}
			desc.Env[k] = resolved
		}
	} else {
		for _, k := range launch.EnvKeys {
			v, ok := lookup(k)
			if !ok {
				slog.Warn("environment variable listed in env_keys is not set", "server", name, "key", k)
				continue
			}
			desc.Env[k] = v
		}
	}

	desc.PromptOverride = rs.Prompt
	if v, ok := lookup(PromptEnvKey(name)); ok && v != "" {
		desc.PromptOverride = v
	}

	return desc, nil
}

func resolveEnvRefs(value string, lookup EnvLookup) (string, error) {
	var missing string
	resolved := envRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
		key := envRefPattern.FindStringSubmatch(ref)[1]
		v, ok := lookup(key)
		if !ok && missing == "" {
			missing = key
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("environment variable %s is not set", missing)
	}
	return resolved, nil
}

// NormalizeName lower-cases and trims a server or command name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PromptEnvKey returns the environment variable that overrides the prompt
// for a server, e.g. "google-calendar" -> "MCP_GOOGLE_CALENDAR_PROMPT".
func PromptEnvKey(name string) string {
	key := strings.ToUpper(NormalizeName(name))
	key = strings.NewReplacer("-", "_", ".", "_").Replace(key)
	return "MCP_" + key + "_PROMPT"
}

// DescriptorDiff lists server names by the action a reload requires.
type DescriptorDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the diff requires no action.
func (d DescriptorDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffDescriptors compares two descriptor sets by name.
func DiffDescriptors(old, next []ServerDescriptor) DescriptorDiff {
	oldByName := make(map[string]ServerDescriptor, len(old))
	for _, d := range old {
		oldByName[d.Name] = d
	}

	var diff DescriptorDiff
	seen := make(map[string]bool, len(next))
	for _, d := range next {
		seen[d.Name] = true
		prev, ok := oldByName[d.Name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, d.Name)
		case !reflect.DeepEqual(prev, d):
			diff.Changed = append(diff.Changed, d.Name)
		}
	}
	for _, d := range old {
		if !seen[d.Name] {
			diff.Removed = append(diff.Removed, d.Name)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}
