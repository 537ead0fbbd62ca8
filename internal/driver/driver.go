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

// Package driver implements the demand-driven execution driver of spec.md
// §2/§5: given a resolved DAG of steps, it materializes the results of
// whichever steps are marked as terminal outputs (produce_results), or an
// explicitly named subset, and can instead describe what a run would do
// without doing it (dry_run).
package driver

import (
	"context"
	"fmt"
	"sort"

	"github.com/abcxyz/stepgraph/internal/step"
	"github.com/abcxyz/stepgraph/internal/stepcache"
)

// Output is one named step's materialized result.
type Output struct {
	Name  string
	Value any
}

// Run materializes the result of every step in names, or, if names is
// empty, every step marked produce_results, in sorted-name order. Each
// step's dependency chain runs strictly before it, per spec.md §5's
// ordering guarantee; independent roots run in the deterministic order
// given by sorted name.
func Run(ctx context.Context, steps map[string]*step.Step, cache stepcache.Cache, names ...string) ([]Output, error) {
	roots, err := rootsOrAll(steps, names)
	if err != nil {
		return nil, err
	}

	out := make([]Output, 0, len(roots))
	for _, name := range roots {
		v, err := steps[name].Result(ctx, cache)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
		out = append(out, Output{Name: name, Value: v})
	}
	return out, nil
}

// DryRun describes, without executing anything, the order in which Run
// would materialize names (or every produce_results step), and which of
// those steps are already cached.
func DryRun(steps map[string]*step.Step, cache stepcache.Cache, names ...string) ([]step.DryRunEntry, error) {
	roots, err := rootsOrAll(steps, names)
	if err != nil {
		return nil, err
	}

	alreadyCached := make(map[string]bool)
	var out []step.DryRunEntry
	for _, name := range roots {
		out = append(out, steps[name].DryRun(cache, alreadyCached)...)
	}
	return out, nil
}

func rootsOrAll(steps map[string]*step.Step, names []string) ([]string, error) {
	if len(names) > 0 {
		for _, n := range names {
			if _, ok := steps[n]; !ok {
				return nil, fmt.Errorf("driver: no such step %q", n)
			}
		}
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		return sorted, nil
	}

	var roots []string
	for name, st := range steps {
		if st.ProduceResults() {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots, nil
}
