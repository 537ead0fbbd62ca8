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

// Package resolver implements the two-queue fixpoint graph resolver of
// spec.md §4.9: it turns a mapping of step name to raw parameter tree into
// a resolved DAG of *step.Step, deferring entries that reference
// not-yet-resolved sibling steps until a later pass, and failing with a
// configuration error if a full pass makes no progress (a cycle, or a
// reference to a step that's never defined). Grounded on
// step_graph_from_params in the original source, which this follows nearly
// line for line in control flow.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/jinzhu/copier"

	"github.com/abcxyz/stepgraph/internal/registry"
	"github.com/abcxyz/stepgraph/internal/step"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
	"github.com/abcxyz/stepgraph/internal/stepkind"
	"github.com/abcxyz/stepgraph/internal/value"
)

// refClassTag is the step class name special-cased by the resolver as an
// explicit forward reference, per spec.md §4.10.
const refClassTag = "ref"

// RawKind tags which alternative of RawValue is populated.
type RawKind int

const (
	// RawPrimitive holds a scalar decoded from the configuration: string,
	// bool, int (int64 or uint64 if too large), float64, or nil.
	RawPrimitive RawKind = iota
	// RawSequence holds an ordered list of raw values.
	RawSequence
	// RawSet holds an order-insensitive collection of raw values (a YAML
	// sequence tagged !set).
	RawSet
	// RawMapping holds a string-keyed map of raw values with no "type" key
	// (an ordinary nested mapping, not an inline step definition).
	RawMapping
	// RawStepDef holds a nested mapping with a "type" key: an inline step
	// definition, parsed recursively as part of its containing step.
	RawStepDef
)

// RawValue is one node of the configuration tree the resolver consumes,
// before any step names have been resolved to *step.Step references.
type RawValue struct {
	Kind RawKind

	Prim any
	Seq  []RawValue
	Map  map[string]RawValue // RawMapping
	Def  *StepDef            // RawStepDef
}

// StepDef is one step's raw definition: the "type" field naming a
// registered class, plus every other key as a constructor kwarg.
type StepDef struct {
	Type           string
	CacheResults   *bool // nil means "unset" (spec.md §4.2's C=unset)
	ProduceResults bool
	Kwargs         map[string]RawValue
}

// Option configures a Resolve call.
type Option func(*config)

type config struct {
	engineVersion *semver.Version
	warn          *stepgraphlog.Tracker
}

// WithEngineVersion supplies the running engine's version, checked against
// any EngineVersionConstraint a resolved step class declares
// (SPEC_FULL.md §4.9a).
func WithEngineVersion(v *semver.Version) Option {
	return func(c *config) { c.engineVersion = v }
}

// WithWarnTracker supplies a shared warning tracker, so that the
// at-most-once "cached step depends on a non-deterministic step" warning
// (spec.md §4.9 step 3) is deduplicated across repeated Resolve calls that
// share a tracker.
func WithWarnTracker(t *stepgraphlog.Tracker) Option {
	return func(c *config) { c.warn = t }
}

// Resolve turns raw, a mapping of step name to raw parameter tree, into a
// resolved DAG of steps.
func Resolve(ctx context.Context, raw map[string]StepDef, reg registry.Registry, opts ...Option) (map[string]*step.Step, error) {
	cfg := config{warn: stepgraphlog.NewTracker()}
	for _, o := range opts {
		o(&cfg)
	}

	unparsed := make(map[string]StepDef, len(raw))
	for name, def := range raw {
		unparsed[name] = def
	}
	deferred := make(map[string]StepDef)
	resolved := make(map[string]*step.Step, len(raw))
	progress := 0

	for len(unparsed) > 0 || len(deferred) > 0 {
		if len(unparsed) == 0 {
			if progress == 0 {
				return nil, stepgraphlog.NewConfigurationError(
					"cannot resolve steps %s: cycle or missing reference", strings.Join(sortedKeys(deferred), ", "))
			}
			unparsed, deferred = deferred, make(map[string]StepDef)
			progress = 0
			continue
		}

		name := sortedKeys(unparsed)[0]
		def := unparsed[name]
		delete(unparsed, name)

		if _, ok := resolved[name]; ok {
			return nil, stepgraphlog.NewConfigurationError("duplicate step name %q", name)
		}

		backup, err := deepCopyStepDef(def)
		if err != nil {
			return nil, fmt.Errorf("resolver: backing up params for step %q: %w", name, err)
		}

		st, err := constructNamed(ctx, name, def, resolved, reg, &cfg)
		if err != nil {
			var missing *stepgraphlog.MissingStepError
			if errors.As(err, &missing) {
				deferred[name] = backup
				continue
			}
			return nil, err
		}

		resolved[name] = st
		progress++
	}

	warnNonDeterministicCachedDependency(ctx, resolved, cfg.warn)

	return resolved, nil
}

func constructNamed(ctx context.Context, name string, def StepDef, resolved map[string]*step.Step, reg registry.Registry, cfg *config) (*step.Step, error) {
	kind, err := reg.ResolveClassName(def.Type, cfg.engineVersion)
	if err != nil {
		return nil, err
	}

	kwargs, err := buildKwargs(ctx, def.Kwargs, kind.Schema(), resolved, reg, cfg)
	if err != nil {
		return nil, err
	}

	opts := []step.Option{step.WithName(name), step.WithProduceResults(def.ProduceResults), step.WithWarnTracker(cfg.warn)}
	if def.CacheResults != nil {
		opts = append(opts, step.WithCacheResults(*def.CacheResults))
	}

	return step.New(ctx, kind, kwargs, opts...)
}

func buildKwargs(ctx context.Context, raw map[string]RawValue, schema map[string]stepkind.ParamKind, resolved map[string]*step.Step, reg registry.Registry, cfg *config) (value.KwargMap, error) {
	out := make(value.KwargMap, len(raw))
	for name, rv := range raw {
		pk := stepkind.ParamAny
		if schema != nil {
			pk = schema[name]
		}
		v, err := convert(ctx, rv, pk, resolved, reg, cfg)
		if err != nil {
			return nil, fmt.Errorf("kwarg %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func convert(ctx context.Context, rv RawValue, pk stepkind.ParamKind, resolved map[string]*step.Step, reg registry.Registry, cfg *config) (value.Value, error) {
	switch rv.Kind {
	case RawPrimitive:
		if str, ok := rv.Prim.(string); ok && pk == stepkind.ParamStep {
			st, ok := resolved[str]
			if !ok {
				return value.Value{}, &stepgraphlog.MissingStepError{Ref: str}
			}
			return value.Ref(st), nil
		}
		return value.Primitive(rv.Prim), nil

	case RawSequence:
		items := make([]value.Value, len(rv.Seq))
		for i, e := range rv.Seq {
			cv, err := convert(ctx, e, stepkind.ParamAny, resolved, reg, cfg)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = cv
		}
		return value.Sequence(items...), nil

	case RawSet:
		items := make([]value.Value, len(rv.Seq))
		for i, e := range rv.Seq {
			cv, err := convert(ctx, e, stepkind.ParamAny, resolved, reg, cfg)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = cv
		}
		return value.Set(items...), nil

	case RawMapping:
		m := make(map[string]value.Value, len(rv.Map))
		for k, e := range rv.Map {
			cv, err := convert(ctx, e, stepkind.ParamAny, resolved, reg, cfg)
			if err != nil {
				return value.Value{}, err
			}
			m[k] = cv
		}
		return value.Mapping(m), nil

	case RawStepDef:
		if rv.Def.Type == refClassTag {
			refName, err := refTarget(*rv.Def)
			if err != nil {
				return value.Value{}, err
			}
			st, ok := resolved[refName]
			if !ok {
				return value.Value{}, &stepgraphlog.MissingStepError{Ref: refName}
			}
			return value.Ref(st), nil
		}

		kind, err := reg.ResolveClassName(rv.Def.Type, cfg.engineVersion)
		if err != nil {
			return value.Value{}, err
		}
		kwargs, err := buildKwargs(ctx, rv.Def.Kwargs, kind.Schema(), resolved, reg, cfg)
		if err != nil {
			return value.Value{}, err
		}
		opts := []step.Option{step.WithProduceResults(rv.Def.ProduceResults), step.WithWarnTracker(cfg.warn)}
		if rv.Def.CacheResults != nil {
			opts = append(opts, step.WithCacheResults(*rv.Def.CacheResults))
		}
		st, err := step.New(ctx, kind, kwargs, opts...)
		if err != nil {
			return value.Value{}, err
		}
		return value.Ref(st), nil

	default:
		return value.Value{}, fmt.Errorf("resolver: unknown raw kind %d", rv.Kind)
	}
}

// refTarget extracts the single "ref" kwarg from an inline {type: ref, ...}
// definition (spec.md §4.10).
func refTarget(def StepDef) (string, error) {
	rv, ok := def.Kwargs["ref"]
	if !ok {
		return "", stepgraphlog.NewConfigurationError(`step class %q requires a "ref" kwarg`, refClassTag)
	}
	str, ok := rv.Prim.(string)
	if rv.Kind != RawPrimitive || !ok {
		return "", stepgraphlog.NewConfigurationError(`step class %q: "ref" kwarg must be a string`, refClassTag)
	}
	return str, nil
}

// warnNonDeterministicCachedDependency implements spec.md §4.9 step 3: warn,
// at most once per resolver run, for the first cached step found to
// transitively depend on a non-deterministic step.
func warnNonDeterministicCachedDependency(ctx context.Context, resolved map[string]*step.Step, warn *stepgraphlog.Tracker) {
	for _, name := range sortedStepNames(resolved) {
		st := resolved[name]
		if !st.CacheResults() {
			continue
		}
		for _, dep := range st.RecursiveDependencies() {
			if !dep.Deterministic() {
				warn.WarnOnce(ctx, "nondeterministic-dependency",
					"a step is set to cache results but transitively depends on a non-deterministic step; this will produce confusing results",
					"step", st.Name(), "dependency", dep.Name())
				return
			}
		}
	}
}

func deepCopyStepDef(def StepDef) (StepDef, error) {
	var out StepDef
	if err := copier.CopyWithOption(&out, &def, copier.Option{DeepCopy: true}); err != nil {
		return StepDef{}, fmt.Errorf("copier: %w", err)
	}
	return out, nil
}

func sortedKeys(m map[string]StepDef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStepNames(m map[string]*step.Step) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
