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

// Package builtin provides a small set of toy step kinds used by this
// module's own tests and registered by the stepgraph binary. Concrete step
// implementations are an external collaborator per spec.md §1 ("concrete user step
// implementations" are out of scope); these exist solely to exercise the
// engine end to end, grounded on spec.md §8's end-to-end scenarios (the A/B
// chain, the Id cycle-detection steps, the lazy-iterator result).
package builtin

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
	"github.com/abcxyz/stepgraph/internal/stepkind"
)

// Const always returns the value of its "value" kwarg, unchanged.
type Const struct{ stepkind.Base }

func (Const) Tag() string           { return "const" }
func (Const) Deterministic() bool   { return true }
func (Const) Run(_ context.Context, kwargs map[string]any, _ string) (any, error) {
	return kwargs["value"], nil
}

// AddOne returns its "x" kwarg, as a float64, plus one. It exists to mirror
// spec.md §8 scenario 1 exactly: "B (deterministic, takes x, returns x+1)".
type AddOne struct{ stepkind.Base }

func (AddOne) Tag() string         { return "addone" }
func (AddOne) Deterministic() bool { return true }
func (AddOne) Schema() map[string]stepkind.ParamKind {
	return map[string]stepkind.ParamKind{"x": stepkind.ParamStep}
}
func (AddOne) Run(_ context.Context, kwargs map[string]any, _ string) (any, error) {
	x, err := toFloat64(kwargs["x"])
	if err != nil {
		return nil, fmt.Errorf("addone: %w", err)
	}
	return x + 1, nil
}

// Id returns its "x" kwarg unchanged. Used as the minimal step class for
// spec.md §8 scenario 3's cycle-detection test, where two Id steps
// reference each other's "x".
type Id struct{ stepkind.Base } //nolint:revive // matches spec.md's own naming

func (Id) Tag() string         { return "id" }
func (Id) Deterministic() bool { return true }
func (Id) Schema() map[string]stepkind.ParamKind {
	return map[string]stepkind.ParamKind{"x": stepkind.ParamStep}
}
func (Id) Run(_ context.Context, kwargs map[string]any, _ string) (any, error) {
	return kwargs["x"], nil
}

// Ref is spec.md §4.10's RefStep: a placeholder whose sole kwarg, "ref", is
// declared ParamStep so the resolver always resolves it to the named
// sibling step, even when it appears as a nested {type: ref, ref: "name"}
// value rather than a bare string in a ParamStep-schema'd kwarg slot. Its
// Run is never reachable in a correctly-resolved graph: by the time a
// Ref's "ref" kwarg has been turned into a real Step reference, nothing
// ever calls Run on the Ref itself except a caller who directly requests
// its result, which Run rejects.
type Ref struct{ stepkind.Base }

func (Ref) Tag() string         { return "ref" }
func (Ref) Deterministic() bool { return true }
func (Ref) Schema() map[string]stepkind.ParamKind {
	return map[string]stepkind.ParamKind{"ref": stepkind.ParamStep}
}
func (Ref) Run(_ context.Context, _ map[string]any, _ string) (any, error) {
	return nil, stepgraphlog.NewConfigurationError("ref: a reference step was never eliminated by the resolver and cannot run")
}

// Concat joins the strings in its "parts" kwarg with no separator.
type Concat struct{ stepkind.Base }

func (Concat) Tag() string         { return "concat" }
func (Concat) Deterministic() bool { return true }
func (Concat) Run(_ context.Context, kwargs map[string]any, _ string) (any, error) {
	raw, _ := kwargs["parts"].([]any)
	parts := make([]string, len(raw))
	for i, p := range raw {
		s, ok := p.(string)
		if !ok {
			return nil, stepgraphlog.NewConfigurationError("concat: part %d is %T, not a string", i, p)
		}
		parts[i] = s
	}
	return strings.Join(parts, ""), nil
}

// Failing always fails. Used to exercise the execution-failure path
// (spec.md §7 error kind 5): the scratch directory must still be cleaned
// up (ephemeral) or retained (persistent), and no cache entry committed.
type Failing struct{ stepkind.Base }

func (Failing) Tag() string         { return "failing" }
func (Failing) Deterministic() bool { return true }
func (Failing) Run(_ context.Context, _ map[string]any, _ string) (any, error) {
	return nil, fmt.Errorf("failing: this step always fails")
}

// LazySeq returns an iter.Seq[any] over its "values" kwarg rather than a
// concrete slice, to exercise spec.md §8 scenario 6: a single-pass iterator
// result must be materialized into an ordered sequence before caching.
type LazySeq struct{ stepkind.Base }

func (LazySeq) Tag() string         { return "lazyseq" }
func (LazySeq) Deterministic() bool { return true }
func (LazySeq) Run(_ context.Context, kwargs map[string]any, _ string) (any, error) {
	values, _ := kwargs["values"].([]any)
	return iter.Seq[any](func(yield func(any) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}), nil
}

// SortedKeys returns the sorted keys of its "mapping" kwarg, demonstrating
// a step that consumes a value.KindMapping-shaped kwarg.
type SortedKeys struct{ stepkind.Base }

func (SortedKeys) Tag() string         { return "sorted-keys" }
func (SortedKeys) Deterministic() bool { return true }
func (SortedKeys) Run(_ context.Context, kwargs map[string]any, _ string) (any, error) {
	m, _ := kwargs["mapping"].(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
