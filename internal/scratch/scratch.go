// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scratch implements the scratch-directory discipline of
// spec.md §4.5: an ephemeral, guaranteed-cleaned-up workspace for caches
// that don't back a filesystem location, or a persistent, never-deleted
// "run/" subdirectory for caches that do. It's grounded on
// templates/common/tempdir's DirTracker, adapted from "track many dirs for
// one whole-process cleanup pass" to "acquire and release exactly one
// scratch dir per Step.run invocation."
package scratch

import (
	"fmt"
	"path/filepath"

	"github.com/abcxyz/stepgraph/internal/fsabs"
)

// namePart identifies scratch directories in a process's temp dir listing,
// mirroring tempdir.ScratchDirNamePart's naming convention. MkdirTemp
// replaces the "*" with a random string.
const namePart = "-*.temp"

// Tracker acquires scratch directories on behalf of Step.run.
type Tracker struct {
	fs fsabs.FS
}

// NewTracker returns a Tracker backed by fs.
func NewTracker(fs fsabs.FS) *Tracker {
	return &Tracker{fs: fs}
}

// Ephemeral creates a fresh directory named "<fingerprint>-XXXX.temp" under
// base and returns its path along with a cleanup function. The caller must
// invoke cleanup exactly once, on every exit path from run (success or
// failure) — this is what makes the directory ephemeral.
func (t *Tracker) Ephemeral(base, fingerprint string) (path string, cleanup func() error, err error) {
	dir, err := t.fs.MkdirTemp(base, fingerprint+namePart)
	if err != nil {
		return "", nil, fmt.Errorf("scratch: creating ephemeral directory: %w", err)
	}
	return dir, func() error {
		if rmErr := t.fs.RemoveAll(dir); rmErr != nil {
			return fmt.Errorf("scratch: removing ephemeral directory %s: %w", dir, rmErr)
		}
		return nil
	}, nil
}

// Persistent ensures "<stepDir>/run/" exists and returns its path. Creation
// is idempotent; the core never deletes this directory, since a persistent
// cache's whole point is to support resuming work across process restarts.
func (t *Tracker) Persistent(stepDir string) (string, error) {
	dir := filepath.Join(stepDir, "run")
	if err := t.fs.MkdirAll(dir, fsabs.OwnerRWXPerms); err != nil {
		return "", fmt.Errorf("scratch: creating persistent directory %s: %w", dir, err)
	}
	return dir, nil
}
