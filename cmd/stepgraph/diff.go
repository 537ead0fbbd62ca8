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

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/stepgraph/internal/step"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
)

// DiffCommand resolves two workflow files and prints a line-level diff of
// their step summaries, so a reviewer can see which steps' fingerprints
// changed (and so would be re-run) between two revisions of a workflow.
type DiffCommand struct {
	cli.BaseCommand
}

func (c *DiffCommand) Desc() string {
	return "show which steps changed fingerprint between two workflow files"
}

func (c *DiffCommand) Help() string {
	return `
Usage: {{ COMMAND }} <old-workflow-file> <new-workflow-file>

Resolves both workflow files and prints a line diff of each step's name,
class, and fingerprint. A step whose fingerprint is unchanged would be
served from cache on the next run; a changed or added/removed line means it
would be (re)run.`
}

func (c *DiffCommand) Flags() *cli.FlagSet {
	return c.NewFlagSet()
}

func (c *DiffCommand) Run(ctx context.Context, args []string) error {
	if err := c.Flags().Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	rest := c.Flags().Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: diff <old-workflow-file> <new-workflow-file>")
	}

	warn := stepgraphlog.NewTracker()
	oldSteps, err := loadAndResolve(ctx, rest[0], warn)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", rest[0], err)
	}
	newSteps, err := loadAndResolve(ctx, rest[1], warn)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", rest[1], err)
	}

	dmp := diffmatchpatch.New()
	oldText := summarizeSteps(oldSteps)
	newText := summarizeSteps(newSteps)

	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	fmt.Fprint(c.Stdout(), dmp.DiffPrettyText(diffs))
	return nil
}

func summarizeSteps(steps map[string]*step.Step) string {
	var b strings.Builder
	for _, name := range sortedStepNames(steps) {
		st := steps[name]
		fmt.Fprintf(&b, "%s\ttag=%s\tfingerprint=%s\n", name, stepTag(st), st.Fingerprint())
	}
	return b.String()
}
