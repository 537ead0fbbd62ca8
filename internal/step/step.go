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

// Package step implements the Step abstraction of spec.md §3-§4: a typed
// computation node that holds kwargs, computes a content-addressed
// fingerprint, discovers its dependencies, and materializes its result
// through a StepCache with a scratch-directory-scoped run. It's grounded on
// the Step class in the original source, almost module-for-module.
package step

import (
	"context"
	"crypto/rand"
	"fmt"
	"iter"
	"os"
	"regexp"
	"slices"
	"sync"

	"github.com/abcxyz/stepgraph/internal/fingerprint"
	"github.com/abcxyz/stepgraph/internal/format"
	"github.com/abcxyz/stepgraph/internal/fsabs"
	"github.com/abcxyz/stepgraph/internal/rule"
	"github.com/abcxyz/stepgraph/internal/scratch"
	"github.com/abcxyz/stepgraph/internal/stepcache"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
	"github.com/abcxyz/stepgraph/internal/stepkind"
	"github.com/abcxyz/stepgraph/internal/tristate"
	"github.com/abcxyz/stepgraph/internal/value"
)

// versionPattern constrains a step class's VERSION token, per spec.md §4.1.
var versionPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Step is a single computation node. The zero value is not usable; build
// one with New.
type Step struct {
	kind   stepkind.Kind
	kwargs value.KwargMap

	name           string
	cacheResults   bool
	produceResults bool
	format         format.Format
	scratchBase    string
	scratch        *scratch.Tracker
	warn           *stepgraphlog.Tracker

	fpOnce sync.Once
	fp     string

	mu      sync.Mutex
	running bool
	tempDir string
}

var _ value.StepRef = (*Step)(nil)
var _ stepcache.Fingerprinted = (*Step)(nil)

// Option configures a Step at construction time.
type Option func(*options)

type options struct {
	name           string
	hasName        bool
	cacheChoice    tristate.Choice
	format         format.Format
	produceResults bool
	scratchBase    string
	scratchFS      fsabs.FS
	warn           *stepgraphlog.Tracker
}

// WithName overrides the default name (the fingerprint).
func WithName(name string) Option {
	return func(o *options) { o.name, o.hasName = name, true }
}

// WithCacheResults supplies the user's explicit cache_results choice.
func WithCacheResults(want bool) Option {
	return func(o *options) {
		if want {
			o.cacheChoice = tristate.ChoiceTrue
		} else {
			o.cacheChoice = tristate.ChoiceFalse
		}
	}
}

// WithFormat overrides the class's DefaultFormat.
func WithFormat(f format.Format) Option {
	return func(o *options) { o.format = f }
}

// WithProduceResults marks this step as a terminal workflow output.
func WithProduceResults(v bool) Option {
	return func(o *options) { o.produceResults = v }
}

// WithScratchBase overrides the directory ephemeral scratch dirs are
// created under. Defaults to os.TempDir().
func WithScratchBase(dir string) Option {
	return func(o *options) { o.scratchBase = dir }
}

// WithScratchFS overrides the filesystem scratch directories are created
// on. Defaults to the real OS filesystem; tests can inject fsabs.ErrorFS.
func WithScratchFS(fs fsabs.FS) Option {
	return func(o *options) { o.scratchFS = fs }
}

// WithWarnTracker supplies a shared warning tracker so that "caching a
// non-deterministic step"-style warnings are deduplicated across every
// Step in a resolved graph, not just within one Step's lifetime.
func WithWarnTracker(t *stepgraphlog.Tracker) Option {
	return func(o *options) { o.warn = t }
}

// New constructs a Step of the given kind with the given kwargs. It
// resolves the cache_results policy (spec.md §4.2), validates VERSION, and
// evaluates any CEL rules the kind declares (SPEC_FULL.md §4.3a).
func New(ctx context.Context, kind stepkind.Kind, kwargs value.KwargMap, opts ...Option) (*Step, error) {
	if v := kind.Version(); v != "" && !versionPattern.MatchString(v) {
		return nil, stepgraphlog.NewConfigurationError("step class %q: VERSION %q doesn't match %s", kind.Tag(), v, versionPattern.String())
	}

	cfg := options{
		cacheChoice: tristate.ChoiceUnset,
		scratchBase: os.TempDir(),
		scratchFS:   &fsabs.RealFS{},
		warn:        stepgraphlog.NewTracker(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	f := cfg.format
	if f == nil {
		f = kind.DefaultFormat()
	}

	s := &Step{
		kind:           kind,
		kwargs:         kwargs,
		produceResults: cfg.produceResults,
		format:         f,
		scratchBase:    cfg.scratchBase,
		scratch:        scratch.NewTracker(cfg.scratchFS),
		warn:           cfg.warn,
	}

	name := s.Fingerprint()
	if cfg.hasName {
		name = cfg.name
	}
	s.name = name

	cacheResults, err := tristate.Resolve(name, cfg.cacheChoice, kind.Deterministic(), kind.Cacheable(), func(key, msg string) {
		cfg.warn.WarnOnce(ctx, key, msg, "step", name)
	})
	if err != nil {
		return nil, err
	}
	s.cacheResults = cacheResults

	if rules := kind.Rules(); len(rules) > 0 {
		validationView, err := value.ReplaceKwargs(kwargs, func(r value.StepRef) (any, error) {
			// Rule validation runs before any dependency has executed, so an
			// embedded step can only be represented by its fingerprint, not
			// its eventual result.
			return r.Fingerprint(), nil
		})
		if err != nil {
			return nil, fmt.Errorf("step %q: building rule-validation view of kwargs: %w", name, err)
		}
		if err := rule.Validate(ctx, name, rules, validationView); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Name returns the step's human-readable label.
func (s *Step) Name() string { return s.name }

// CacheResults reports the resolved cache_results policy.
func (s *Step) CacheResults() bool { return s.cacheResults }

// ProduceResults reports whether this step is marked as a terminal output.
func (s *Step) ProduceResults() bool { return s.produceResults }

// Deterministic reports the step class's DETERMINISTIC flag.
func (s *Step) Deterministic() bool { return s.kind.Deterministic() }

// Fingerprint returns the step's content-addressed id, computing and
// memoizing it on first call. Per spec.md §4.1, a deterministic step's
// fingerprint is a pure function of its class tag, version, and kwargs with
// every embedded step replaced by its own fingerprint; a non-deterministic
// step's fingerprint incorporates fresh randomness, stable only for the
// lifetime of this instance.
func (s *Step) Fingerprint() string {
	s.fpOnce.Do(func() {
		tag := stepkind.FullTag(s.kind)
		var h string
		if s.kind.Deterministic() {
			h = fingerprint.HashKwargs(s.kwargs, func(r value.StepRef) string { return r.Fingerprint() })
		} else {
			var b [32]byte
			if _, err := rand.Read(b[:]); err != nil {
				// crypto/rand.Read on a fixed-size buffer cannot fail on any
				// platform Go supports; if it ever does, there's no sane
				// fallback short of panicking, since this fingerprint is the
				// step's only identity.
				panic(fmt.Sprintf("step: reading random bytes for non-deterministic fingerprint: %v", err))
			}
			h = fingerprint.HashBytes(b[:])
		}
		s.fp = tag + "-" + h
	})
	return s.fp
}

// Dependencies returns the steps reachable by a one-level traversal of
// kwargs (spec.md §4.3).
func (s *Step) Dependencies() []*Step {
	refs := s.kwargs.Dependencies()
	out := make([]*Step, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.(*Step)) //nolint:forcetypeassert // every StepRef in this package's graphs is a *Step
	}
	return out
}

// RecursiveDependencies returns the transitive closure of Dependencies,
// excluding s itself, deduplicated by fingerprint.
func (s *Step) RecursiveDependencies() []*Step {
	seen := map[string]struct{}{s.Fingerprint(): {}}
	var out []*Step
	var walk func(st *Step)
	walk = func(st *Step) {
		for _, d := range st.Dependencies() {
			fp := d.Fingerprint()
			if _, ok := seen[fp]; ok {
				continue
			}
			seen[fp] = struct{}{}
			out = append(out, d)
			walk(d)
		}
	}
	walk(s)
	return out
}

// TempDir returns the scratch directory valid only during an active Run
// invocation, and false outside of one.
func (s *Step) TempDir() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tempDir == "" {
		return "", false
	}
	return s.tempDir, true
}

// Result materializes s against cache, per the algorithm of spec.md §4.4.
// If cache is nil, the process-wide default in-memory cache is used.
func (s *Step) Result(ctx context.Context, cache stepcache.Cache) (any, error) {
	if cache == nil {
		cache = DefaultCache()
	}

	if r, err := cache.Get(s); err == nil {
		return r.Value, nil
	} else if !stepgraphlog.IsCacheMiss(err) {
		return nil, err
	}

	effective, err := value.ReplaceKwargs(s.kwargs, func(r value.StepRef) (any, error) {
		dep := r.(*Step) //nolint:forcetypeassert
		return dep.Result(ctx, cache)
	})
	if err != nil {
		return nil, fmt.Errorf("step %q: materializing dependency results: %w", s.name, err)
	}

	result, err := s.runInScratch(ctx, cache, effective)
	if err != nil {
		return nil, err
	}

	if s.cacheResults {
		if seq, ok := result.(iter.Seq[any]); ok {
			result = slices.Collect(seq)
		}
		if err := cache.Put(ctx, s, &stepcache.Result{Value: result}); err != nil {
			return nil, fmt.Errorf("step %q: writing to cache: %w", s.name, err)
		}
	}

	return result, nil
}

// EnsureResult is Result without a return value; it requires cache_results
// to have resolved true (spec.md §4.3).
func (s *Step) EnsureResult(ctx context.Context, cache stepcache.Cache) error {
	if !s.cacheResults {
		return stepgraphlog.NewConfigurationError("step %q: ensure_result requires cache_results=true", s.name)
	}
	if cache == nil {
		cache = DefaultCache()
	}
	if _, err := cache.Get(s); err == nil {
		return nil
	} else if !stepgraphlog.IsCacheMiss(err) {
		return err
	}
	_, err := s.Result(ctx, cache)
	return err
}

// runInScratch acquires a scratch directory (spec.md §4.5), enforces the
// single-run-at-a-time guard, and invokes the underlying Kind's Run.
func (s *Step) runInScratch(ctx context.Context, cache stepcache.Cache, kwargs map[string]any) (any, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, &stepgraphlog.RunReentrancyError{StepName: s.name}
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.tempDir = ""
		s.mu.Unlock()
	}()

	var dir string
	var cleanup func() error
	if path, ok := cache.PathForStep(s); ok {
		persisted, err := s.scratch.Persistent(path)
		if err != nil {
			return nil, fmt.Errorf("step %q: acquiring persistent scratch dir: %w", s.name, err)
		}
		dir = persisted
	} else {
		ephemeral, c, err := s.scratch.Ephemeral(s.scratchBase, s.Fingerprint())
		if err != nil {
			return nil, fmt.Errorf("step %q: acquiring ephemeral scratch dir: %w", s.name, err)
		}
		dir, cleanup = ephemeral, c
	}

	s.mu.Lock()
	s.tempDir = dir
	s.mu.Unlock()

	if cleanup != nil {
		defer cleanup() //nolint:errcheck // best-effort; the run's own error (if any) takes precedence
	}

	return s.kind.Run(ctx, kwargs, dir)
}

var (
	defaultCacheOnce sync.Once
	defaultCache     stepcache.Cache
)

// DefaultCache returns the process-wide default in-memory cache. Design
// notes (spec.md §9) call this out as a convenience, not the only path:
// callers should generally pass an explicit cache to Result/EnsureResult.
func DefaultCache() stepcache.Cache {
	defaultCacheOnce.Do(func() {
		defaultCache = stepcache.NewMemory(nil)
	})
	return defaultCache
}

// DryRunEntry is one emitted row of a DryRun traversal: a step's name and
// whether it was already cached when visited.
type DryRunEntry struct {
	Name          string
	AlreadyCached bool
}

// DryRun walks s's dependency graph depth-first, dependencies before
// dependents, matching the "always walk dependencies first" resolution of
// spec.md §9's open question. alreadyCached is both input and output: a
// step present in it on entry is reported as already cached, and every step
// is added to it after emission so that a later, overlapping DryRun call
// (e.g. from a sibling root sharing a dependency) reports it as cached too.
// s itself is always emitted, even if alreadyCached[s.Fingerprint()] was
// already true on entry — only its dependencies are skipped in that case,
// since they were already walked and emitted by whichever call set the
// entry.
func (s *Step) DryRun(cache stepcache.Cache, alreadyCached map[string]bool) []DryRunEntry {
	if alreadyCached == nil {
		alreadyCached = make(map[string]bool)
	}

	fp := s.Fingerprint()
	if alreadyCached[fp] {
		return []DryRunEntry{{Name: s.name, AlreadyCached: true}}
	}

	var out []DryRunEntry
	for _, dep := range s.Dependencies() {
		out = append(out, dep.DryRun(cache, alreadyCached)...)
	}

	cached := alreadyCached[fp]
	if !cached && cache != nil {
		if ok, _ := cache.Contains(s); ok {
			cached = true
		}
	}
	alreadyCached[fp] = true

	return append(out, DryRunEntry{Name: s.name, AlreadyCached: cached})
}
