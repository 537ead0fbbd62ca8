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

// Package rule implements the optional per-kwarg CEL validation rules
// described in SPEC_FULL.md §4.3a: a step class may attach zero or more
// rules to a kwarg name, each a CEL boolean expression evaluated with that
// kwarg (and its siblings) bound as variables. A rule that doesn't evaluate
// to true is a configuration error naming the step, the kwarg, and the
// rule's message.
//
// This is grounded on templates/utils/cel.go's celCompile/celEval pair, but
// the teacher's Scope only ever binds strings (template variables are always
// strings); a step's kwargs can be any value.Value primitive, sequence, set,
// or mapping, so rules here bind cel.DynType variables instead and let the
// CEL runtime's native type adapter do the rest.
package rule

import (
	"context"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/cel-go/cel"

	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
)

// Rule is a single validation constraint attached to a kwarg name.
type Rule struct {
	// Kwarg is the name of the kwarg this rule validates. It is also bound
	// as a CEL variable under this name, along with every other kwarg
	// passed to the step, so a rule can reference sibling values (e.g.
	// "start_index < end_index").
	Kwarg string
	// Expr is the CEL boolean expression to evaluate.
	Expr string
	// Message is included in the error when Expr does not evaluate to true.
	Message string
}

// Validate compiles and evaluates every rule in rules against kwargs, in
// order. kwargs is the full set of kwargs for the step with every embedded
// step already replaced by a plain value (step.New passes each embedded
// step's fingerprint), so that rules can reference sibling values.
// stepName is used only to produce a readable error.
func Validate(ctx context.Context, stepName string, rules []Rule, kwargs map[string]any) error {
	if len(rules) == 0 {
		return nil
	}

	celOpts := make([]cel.EnvOption, 0, len(kwargs))
	for name := range kwargs {
		celOpts = append(celOpts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(celOpts...)
	if err != nil {
		return stepgraphlog.WrapConfigurationError(err, "step %q: failed configuring CEL environment", stepName)
	}

	for _, r := range rules {
		if err := validateOne(ctx, env, stepName, r, kwargs); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(ctx context.Context, env *cel.Env, stepName string, r Rule, kwargs map[string]any) error {
	startedAt := time.Now()

	ast, issues := env.Compile(r.Expr)
	if err := issues.Err(); err != nil {
		return stepgraphlog.WrapConfigurationError(err, "step %q: kwarg %q: rule expression %q failed to compile", stepName, r.Kwarg, r.Expr)
	}

	prog, err := env.Program(ast)
	if err != nil {
		return stepgraphlog.WrapConfigurationError(err, "step %q: kwarg %q: rule expression %q failed to construct a program", stepName, r.Kwarg, r.Expr)
	}

	out, _, err := prog.Eval(kwargs)
	if err != nil {
		return stepgraphlog.WrapConfigurationError(err, "step %q: kwarg %q: rule expression %q failed to evaluate", stepName, r.Kwarg, r.Expr)
	}

	logger := logging.FromContext(ctx).With("logger", "rule.Validate")
	logger.DebugContext(ctx, "rule evaluation time",
		"step", stepName, "kwarg", r.Kwarg,
		"duration_usec", time.Since(startedAt).Microseconds())

	passed, ok := out.Value().(bool)
	if !ok {
		return stepgraphlog.NewConfigurationError("step %q: kwarg %q: rule expression %q must evaluate to a bool, got %T", stepName, r.Kwarg, r.Expr, out.Value())
	}
	if !passed {
		if r.Message != "" {
			return stepgraphlog.NewConfigurationError("step %q: kwarg %q: %s", stepName, r.Kwarg, r.Message)
		}
		return stepgraphlog.NewConfigurationError("step %q: kwarg %q: rule %q was not satisfied", stepName, r.Kwarg, r.Expr)
	}
	return nil
}
