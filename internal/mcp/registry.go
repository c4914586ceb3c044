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
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// CommandBinding maps a chat command to a server by name. It never holds the
// connection itself; dispatch resolves the name through the pool each time.
type CommandBinding struct {
	Command      string `json:"command"`
	Server       string `json:"server"`
	Description  string `json:"description,omitempty"`
	PromptPrefix string `json:"-"`
}

// Registry is the command table derived from the pool's Ready set. It is
// rebuilt whenever the pool reports a change.
type Registry struct {
	pool *Pool

	mu       sync.RWMutex
	bindings map[string]CommandBinding
	ordered  []string
}

// NewRegistry builds the table from pool and subscribes to its changes.
func NewRegistry(pool *Pool) *Registry {
	r := &Registry{pool: pool}
	r.Rebuild()
	pool.Subscribe(r.Rebuild)
	return r
}

// Rebuild recomputes the table from the pool.
func (r *Registry) Rebuild() {
	bindings := make(map[string]CommandBinding)
	for _, name := range r.pool.ReadyNames() {
		c, ok := r.pool.Get(name)
		if !ok {
			continue
		}
		desc := c.Descriptor()
		bindings[name] = CommandBinding{
			Command:      name,
			Server:       name,
			Description:  desc.Description,
			PromptPrefix: desc.PromptOverride,
		}
	}

	ordered := make([]string, 0, len(bindings))
	for name := range bindings {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	r.mu.Lock()
	r.bindings = bindings
	r.ordered = ordered
	r.mu.Unlock()
}

// Commands returns the command names in sorted order.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Bindings returns every binding in command order.
func (r *Registry) Bindings() []CommandBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CommandBinding, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.bindings[name])
	}
	return out
}

// Resolve maps a command, with or without a leading slash and in any case,
// to its binding.
func (r *Registry) Resolve(command string) (CommandBinding, error) {
	name := NormalizeName(strings.TrimPrefix(strings.TrimSpace(command), "/"))

	r.mu.RLock()
	b, ok := r.bindings[name]
	r.mu.RUnlock()
	if !ok {
		return CommandBinding{}, &pkgerrors.NotFoundError{Resource: "command", ID: name}
	}
	return b, nil
}

// Has reports whether server is currently in the live set.
func (r *Registry) Has(server string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[NormalizeName(server)]
	return ok
}
