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

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/stepgraph/internal/driver"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
)

// DryRunCommand prints the order Run would materialize steps in, and which
// are already cached, without running anything.
type DryRunCommand struct {
	cli.BaseCommand
	flags commonFlags
	only  []string
}

func (c *DryRunCommand) Desc() string {
	return "print the run order and cache status of a workflow without executing it"
}

func (c *DryRunCommand) Help() string {
	return `
Usage: {{ COMMAND }} <workflow-file>

Resolves the given workflow and prints, in dependency order, the steps that a
"run" would materialize and whether each is already present in the cache.
Defaults to every step marked produce_results; pass --only to restrict to a
subset.`
}

func (c *DryRunCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()
	c.flags.Register(set)

	f := set.NewSection("DRY RUN OPTIONS")
	f.StringSliceVar(&cli.StringSliceVar{
		Name:   "only",
		Target: &c.only,
		Usage:  "Restrict to these step names instead of every produce_results step; may be repeated.",
	})
	return set
}

func (c *DryRunCommand) Run(ctx context.Context, args []string) error {
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

	entries, err := driver.DryRun(steps, cache, c.only...)
	if err != nil {
		return err //nolint:wrapcheck
	}

	var green, yellow func(a ...interface{}) string
	if c.Stdout() == os.Stdout && isatty.IsTerminal(os.Stdout.Fd()) {
		green = color.New(color.FgGreen).SprintFunc()
		yellow = color.New(color.FgYellow).SprintFunc()
	} else {
		green = fmt.Sprint
		yellow = fmt.Sprint
	}

	for _, e := range entries {
		cachedStr := yellow("no")
		if e.AlreadyCached {
			cachedStr = green("yes")
		}
		fmt.Fprintf(c.Stdout(), "%s\tcached=%s\n", e.Name, cachedStr)
	}
	return nil
}
