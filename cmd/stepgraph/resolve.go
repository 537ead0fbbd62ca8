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
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/stepgraph/internal/step"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
)

// ResolveCommand loads and resolves a workflow file, printing a summary of
// every step without running or caching anything.
type ResolveCommand struct {
	cli.BaseCommand
	flags commonFlags
}

func (c *ResolveCommand) Desc() string {
	return "resolve a workflow file into a step graph and print a summary"
}

func (c *ResolveCommand) Help() string {
	return `
Usage: {{ COMMAND }} <workflow-file>

Loads and resolves the given workflow YAML file into a DAG of steps, failing
with a configuration error if it contains a cycle or a reference to an
undefined step. Prints each step's name, class, fingerprint, and cache/output
settings; nothing is run.`
}

func (c *ResolveCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()
	c.flags.Register(set)
	return set
}

func (c *ResolveCommand) Run(ctx context.Context, args []string) error {
	if err := c.Flags().Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	warn := stepgraphlog.NewTracker()
	steps, err := loadAndResolve(ctx, c.flags.Workflow, warn)
	if err != nil {
		return err
	}

	cache, err := newCache(c.flags.CacheDir, warn)
	if err != nil {
		return err
	}

	// Only color the "cached" column when writing to an actual terminal.
	var green, yellow func(a ...interface{}) string
	if c.Stdout() == os.Stdout && isatty.IsTerminal(os.Stdout.Fd()) {
		green = color.New(color.FgGreen).SprintFunc()
		yellow = color.New(color.FgYellow).SprintFunc()
	} else {
		green = fmt.Sprint
		yellow = fmt.Sprint
	}

	for _, name := range sortedStepNames(steps) {
		st := steps[name]
		cached, _ := cache.Contains(st)
		cachedStr := yellow("no")
		if cached {
			cachedStr = green("yes")
		}
		fmt.Fprintf(c.Stdout(), "%s\ttag=%s\tfingerprint=%s\tcache=%t\tproduce=%t\tcached=%s\n",
			name, stepTag(st), st.Fingerprint(), st.CacheResults(), st.ProduceResults(), cachedStr)
	}
	return nil
}

func sortedStepNames(steps map[string]*step.Step) []string {
	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stepTag reports the fingerprint's class tag portion for display: everything
// before the final "-<hash>" segment, so it includes the class's VERSION when
// one is declared. It falls back to the fingerprint itself if it has no
// separator.
func stepTag(st *step.Step) string {
	fp := st.Fingerprint()
	for i := len(fp) - 1; i >= 0; i-- {
		if fp[i] == '-' {
			return fp[:i]
		}
	}
	return fp
}
