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

// Package stepcache implements the two StepCache variants of spec.md
// §4.6-§4.8: an in-memory cache and a directory-backed cache with an
// atomic commit-by-rename write path and a weak in-process layer over the
// directory. It's grounded on the original source's MemoryStepCache and
// DirectoryStepCache classes almost line for line.
package stepcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"weak"

	"github.com/benbjohnson/clock"

	"github.com/abcxyz/stepgraph/internal/format"
	"github.com/abcxyz/stepgraph/internal/fsabs"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
)

// Result boxes a cached value. Go has no equivalent of Python's
// weakref.WeakValueDictionary for arbitrary copy-semantics values, so the
// weak in-process layer needs something with a stable address to hold a
// weak.Pointer to; every cache variant hands back and accepts *Result
// rather than bare "any" so that identity is well defined.
type Result struct {
	Value any
}

// Fingerprinted is the minimal view of a Step that StepCache needs: its
// fingerprint and whether it resolved to cacheable. Package step's *Step
// satisfies this.
type Fingerprinted interface {
	Fingerprint() string
	CacheResults() bool
}

// Cache is the abstract StepCache of spec.md §4.6.
type Cache interface {
	// Contains reports whether step's result is already cached.
	Contains(step Fingerprinted) (bool, error)
	// Get returns step's cached result, failing with a *stepgraphlog.CacheMissError
	// if absent.
	Get(step Fingerprinted) (*Result, error)
	// Put stores value as step's result. It is a silent no-op (with a
	// warning) if step resolved to uncacheable.
	Put(ctx context.Context, step Fingerprinted, value *Result) error
	// PathForStep returns the filesystem location backing step's result,
	// or "", false if this cache variant isn't filesystem-backed.
	PathForStep(step Fingerprinted) (string, bool)
	// Len returns the number of cached entries.
	Len() int
}

// Memory is a process-local mapping fingerprint -> result.
type Memory struct {
	mu      sync.RWMutex
	results map[string]*Result
	warn    *stepgraphlog.Tracker
}

var _ Cache = (*Memory)(nil)

// NewMemory returns an empty Memory cache. warn is used to emit the
// at-most-once "skipping cache write for uncacheable step" warning; pass
// nil to use a private tracker.
func NewMemory(warn *stepgraphlog.Tracker) *Memory {
	if warn == nil {
		warn = stepgraphlog.NewTracker()
	}
	return &Memory{results: make(map[string]*Result), warn: warn}
}

// Contains implements Cache.
func (m *Memory) Contains(step Fingerprinted) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.results[step.Fingerprint()]
	return ok, nil
}

// Get implements Cache.
func (m *Memory) Get(step Fingerprinted) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[step.Fingerprint()]
	if !ok {
		return nil, &stepgraphlog.CacheMissError{Fingerprint: step.Fingerprint()}
	}
	return r, nil
}

// Put implements Cache.
func (m *Memory) Put(ctx context.Context, step Fingerprinted, value *Result) error {
	if !step.CacheResults() {
		m.warn.WarnOnce(ctx, "memory-skip:"+step.Fingerprint(),
			"skipping cache write: step is not marked cacheable", "fingerprint", step.Fingerprint())
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[step.Fingerprint()] = value
	return nil
}

// PathForStep implements Cache: a memory cache never backs a filesystem
// location.
func (m *Memory) PathForStep(step Fingerprinted) (string, bool) { return "", false }

// Len implements Cache.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// metadata is the on-disk commit marker, spec.md §4.3 ("metadata.json schema").
type metadata struct {
	Step     string `json:"step"`
	Checksum string `json:"checksum"`
	CachedAt string `json:"cached_at,omitempty"`
}

const metadataFileName = "metadata.json"

// Directory is a StepCache backed by a root directory, plus a weak
// in-process layer keyed by fingerprint so repeated in-process fetches
// don't re-deserialize from disk.
type Directory struct {
	root   string
	fs     fsabs.FS
	format format.Format
	clock  clock.Clock
	warn   *stepgraphlog.Tracker

	mu   sync.Mutex
	weak map[string]weak.Pointer[Result]
}

var _ Cache = (*Directory)(nil)

// NewDirectory returns a Directory cache rooted at root. fmtImpl is the Format
// used to serialize/deserialize results; clk is the clock used to stamp
// cached_at (pass clock.New() in production, a clock.Mock in tests).
func NewDirectory(root string, fs fsabs.FS, fmtImpl format.Format, clk clock.Clock, warn *stepgraphlog.Tracker) *Directory {
	if clk == nil {
		clk = clock.New()
	}
	if warn == nil {
		warn = stepgraphlog.NewTracker()
	}
	return &Directory{
		root:   root,
		fs:     fs,
		format: fmtImpl,
		clock:  clk,
		warn:   warn,
		weak:   make(map[string]weak.Pointer[Result]),
	}
}

// PathForStep implements Cache: the per-fingerprint directory.
func (d *Directory) PathForStep(step Fingerprinted) (string, bool) {
	return filepath.Join(d.root, step.Fingerprint()), true
}

// Contains implements Cache.
func (d *Directory) Contains(step Fingerprinted) (bool, error) {
	fp := step.Fingerprint()
	if d.weakGet(fp) != nil {
		return true, nil
	}
	metaPath := filepath.Join(d.root, fp, metadataFileName)
	ok, err := fsabs.Exists(d.fs, metaPath)
	if err != nil {
		return false, fmt.Errorf("stepcache: checking %s: %w", metaPath, err)
	}
	return ok, nil
}

// Get implements Cache.
func (d *Directory) Get(step Fingerprinted) (*Result, error) {
	fp := step.Fingerprint()
	if r := d.weakGet(fp); r != nil {
		return r, nil
	}

	dir := filepath.Join(d.root, fp)
	metaPath := filepath.Join(dir, metadataFileName)
	ok, err := fsabs.Exists(d.fs, metaPath)
	if err != nil {
		return nil, fmt.Errorf("stepcache: checking %s: %w", metaPath, err)
	}
	if !ok {
		return nil, &stepgraphlog.CacheMissError{Fingerprint: fp}
	}

	value, err := d.format.Read(dir)
	if err != nil {
		return nil, fmt.Errorf("stepcache: reading cached result for %s: %w", fp, err)
	}
	r := &Result{Value: value}
	d.weakPut(fp, r)
	return r, nil
}

// Put implements Cache. See spec.md §4.8 for the step-by-step commit
// protocol this follows.
func (d *Directory) Put(ctx context.Context, step Fingerprinted, value *Result) error {
	if !step.CacheResults() {
		d.warn.WarnOnce(ctx, "directory-skip:"+step.Fingerprint(),
			"skipping cache write: step is not marked cacheable", "fingerprint", step.Fingerprint())
		return nil
	}

	fp := step.Fingerprint()
	dir := filepath.Join(d.root, fp)
	if err := d.fs.MkdirAll(dir, fsabs.OwnerRWXPerms); err != nil {
		return fmt.Errorf("stepcache: creating %s: %w", dir, err)
	}

	metaPath := filepath.Join(dir, metadataFileName)
	if exists, err := fsabs.Exists(d.fs, metaPath); err != nil {
		return fmt.Errorf("stepcache: checking %s: %w", metaPath, err)
	} else if exists {
		return &stepgraphlog.CacheWriteCollisionError{Fingerprint: fp}
	}

	if err := d.format.Write(value.Value, dir); err != nil {
		return fmt.Errorf("stepcache: writing result for %s: %w", fp, err)
	}

	checksum, err := d.format.Checksum(dir)
	if err != nil {
		return fmt.Errorf("stepcache: checksumming result for %s: %w", fp, err)
	}

	meta := metadata{Step: fp, Checksum: checksum, CachedAt: d.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00")}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("stepcache: marshaling metadata for %s: %w", fp, err)
	}

	tempPath := metaPath + ".temp"
	if err := d.fs.WriteFile(tempPath, metaBytes, 0o600); err != nil {
		return fmt.Errorf("stepcache: writing %s: %w", tempPath, err)
	}

	d.weakPut(fp, value)

	if err := d.fs.Rename(tempPath, metaPath); err != nil {
		_ = d.fs.Remove(tempPath) // best-effort cleanup; the original error is what matters
		return fmt.Errorf("stepcache: committing %s: %w", metaPath, err)
	}

	return nil
}

// Len implements Cache by counting committed metadata.json files under root.
func (d *Directory) Len() int {
	entries, err := fs.ReadDir(d.fs, d.root)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ok, _ := fsabs.Exists(d.fs, filepath.Join(d.root, e.Name(), metadataFileName)); ok {
			n++
		}
	}
	return n
}

func (d *Directory) weakGet(fp string) *Result {
	d.mu.Lock()
	wp, ok := d.weak[fp]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return wp.Value()
}

func (d *Directory) weakPut(fp string, r *Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.weak[fp] = weak.Make(r)
}
