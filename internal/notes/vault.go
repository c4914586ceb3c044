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

package notes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	flintlog "github.com/tombee/flint/internal/log"
)

// Vault reads and writes notes under a root directory. Every overwrite of
// an existing note is logged as a unified diff first.
type Vault struct {
	root   string
	dryRun bool
	logger *slog.Logger
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithDryRun makes the vault compute and log changes without writing.
func WithDryRun(dryRun bool) VaultOption {
	return func(v *Vault) { v.dryRun = dryRun }
}

// NewVault creates a vault rooted at root. The directory is created on the
// first write.
func NewVault(root string, logger *slog.Logger, opts ...VaultOption) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Vault{root: root, logger: flintlog.WithComponent(logger, "notes")}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Root returns the vault directory.
func (v *Vault) Root() string { return v.root }

// WriteResult describes the outcome of a Write.
type WriteResult struct {
	Path    string
	Created bool
	Changed bool
	// Diff is the unified diff against the previous content, empty for new
	// or unchanged files.
	Diff   string
	DryRun bool
}

func (v *Vault) resolve(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("note path %q escapes the vault", name)
	}
	return filepath.Join(v.root, clean), nil
}

// ReadFile implements sink.File.
func (v *Vault) ReadFile(name string) ([]byte, error) {
	path, err := v.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile implements sink.File.
func (v *Vault) WriteFile(ctx context.Context, name string, data []byte) error {
	_, err := v.Write(ctx, name, data)
	return err
}

// Write stores data under name unless the content is unchanged.
func (v *Vault) Write(ctx context.Context, name string, data []byte) (WriteResult, error) {
	path, err := v.resolve(name)
	if err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{Path: path, DryRun: v.dryRun}

	old, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		res.Created, res.Changed = true, true
	case err != nil:
		return res, fmt.Errorf("reading %s: %w", path, err)
	case bytes.Equal(old, data):
		v.logger.DebugContext(ctx, "note unchanged", "file", name)
		return res, nil
	default:
		res.Changed = true
		res.Diff = UnifiedDiff(name, string(old), string(data))
		if res.Diff != "" {
			v.logger.InfoContext(ctx, "note content diff before writing", "file", name, "diff", res.Diff)
		}
	}

	if v.dryRun {
		v.logger.InfoContext(ctx, "dry run; note not written", "file", name)
		return res, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return res, err
	}
	v.logger.InfoContext(ctx, "note written", "file", name, "created", res.Created)
	return res, nil
}

// UnifiedDiff renders a unified diff between two versions of name.
func UnifiedDiff(name, before, after string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
