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

// Package value defines the tagged-variant input tree that a Step's kwargs
// are built from: primitives, ordered sequences, unordered sets, string-keyed
// mappings, and references to other steps. This is the Go-native
// re-architecture of the dynamic-kwargs model described in spec.md §9 ("Dynamic
// kwargs as a typed input tree").
package value

import (
	"fmt"
	"sort"
)

// Kind tags which alternative of the Value union is populated.
type Kind int

const (
	// KindPrimitive holds a scalar: string, bool, an integer, float64, or nil.
	KindPrimitive Kind = iota
	// KindSequence holds an order-sensitive list of Values.
	KindSequence
	// KindSet holds an order-insensitive collection of Values.
	KindSet
	// KindMapping holds a string-keyed map of Values.
	KindMapping
	// KindStep holds a reference to another Step in the graph. The
	// concrete step type lives in package step; Value only needs to know
	// about a minimal interface to avoid an import cycle (step depends on
	// value, not the other way around).
	KindStep
)

// StepRef is the minimal view of a graph node that package value needs:
// enough to discover dependencies and to fingerprint a kwargs tree without
// importing package step (which itself builds on package value).
type StepRef interface {
	// Fingerprint returns the dependency's stable content-addressed id.
	Fingerprint() string
}

// Value is a tagged union: exactly one of the typed fields is meaningful,
// selected by Kind. It is intentionally a plain struct rather than an
// interface hierarchy — callers pattern-match on Kind, mirroring how the
// original Python implementation pattern-matched on isinstance(o, ...).
type Value struct {
	Kind Kind

	Prim any // KindPrimitive
	Seq  []Value
	Set  []Value
	Map  map[string]Value
	Step StepRef // KindStep
}

// Primitive wraps a scalar value.
func Primitive(v any) Value { return Value{Kind: KindPrimitive, Prim: v} }

// Sequence wraps an ordered list of values.
func Sequence(vs ...Value) Value { return Value{Kind: KindSequence, Seq: vs} }

// Set wraps an unordered collection of values.
func Set(vs ...Value) Value { return Value{Kind: KindSet, Set: vs} }

// Mapping wraps a string-keyed map of values.
func Mapping(m map[string]Value) Value { return Value{Kind: KindMapping, Map: m} }

// Ref wraps a reference to another step.
func Ref(s StepRef) Value { return Value{Kind: KindStep, Step: s} }

// KwargMap is the kwargs carried by a Step: a string-keyed map of Values
// (the top level is always a mapping, matching the original's use of
// **kwargs).
type KwargMap map[string]Value

// Dependencies returns the set of step references reachable by a one-level
// traversal of the kwargs (recursing through sequences, sets, and mappings,
// but not through strings — spec.md §4.3 calls this out explicitly, since in
// the original Python a bare string is technically iterable and would cause
// infinite recursion if treated as a container).
func (k KwargMap) Dependencies() []StepRef {
	var out []StepRef
	seen := make(map[string]struct{})
	var walk func(v Value)
	walk = func(v Value) {
		switch v.Kind {
		case KindStep:
			fp := v.Step.Fingerprint()
			if _, ok := seen[fp]; !ok {
				seen[fp] = struct{}{}
				out = append(out, v.Step)
			}
		case KindSequence:
			for _, e := range v.Seq {
				walk(e)
			}
		case KindSet:
			for _, e := range v.Set {
				walk(e)
			}
		case KindMapping:
			keys := make([]string, 0, len(v.Map))
			for key := range v.Map {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				walk(v.Map[key])
			}
		case KindPrimitive:
			// Strings are not traversed as containers of characters.
		}
	}
	for _, key := range sortedKeys(k) {
		walk(k[key])
	}
	return out
}

func sortedKeys(k KwargMap) []string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Replace deeply copies v, replacing every KindStep leaf with the Value
// produced by replaceStep. This implements the "effective kwargs" step of
// materialization (spec.md §4.4 step 3): each embedded Step is replaced by
// its own result before run() is invoked.
func Replace(v Value, replaceStep func(StepRef) (any, error)) (any, error) {
	switch v.Kind {
	case KindPrimitive:
		return v.Prim, nil
	case KindStep:
		return replaceStep(v.Step)
	case KindSequence:
		out := make([]any, len(v.Seq))
		for i, e := range v.Seq {
			r, err := Replace(e, replaceStep)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case KindSet:
		out := make([]any, len(v.Set))
		for i, e := range v.Set {
			r, err := Replace(e, replaceStep)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case KindMapping:
		out := make(map[string]any, len(v.Map))
		for _, key := range sortedMapKeys(v.Map) {
			r, err := Replace(v.Map[key], replaceStep)
			if err != nil {
				return nil, err
			}
			out[key] = r
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.Kind)
	}
}

// ReplaceKwargs applies Replace across an entire kwargs map, returning a
// plain map[string]any suitable for passing to a step kind's Run method.
func ReplaceKwargs(k KwargMap, replaceStep func(StepRef) (any, error)) (map[string]any, error) {
	out := make(map[string]any, len(k))
	for _, key := range sortedKeys(k) {
		r, err := Replace(k[key], replaceStep)
		if err != nil {
			return nil, fmt.Errorf("kwarg %q: %w", key, err)
		}
		out[key] = r
	}
	return out, nil
}

func sortedMapKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
