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

	"gopkg.in/yaml.v3"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/stepgraph/internal/driver"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
)

// RunCommand resolves a workflow and materializes the results of its
// produce_results steps (or an explicitly named subset), caching results per
// each step's cache_results setting.
type RunCommand struct {
	cli.BaseCommand
	flags commonFlags
	only  []string
}

func (c *RunCommand) Desc() string {
	return "resolve a workflow and materialize its output steps"
}

func (c *RunCommand) Help() string {
	return `
Usage: {{ COMMAND }} <workflow-file>

Resolves the given workflow file and runs every step marked produce_results
(or, with --only, just the named steps), printing each result as YAML.
Dependencies run first; a step already present in the cache is read from
there instead of being run again.`
}

func (c *RunCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()
	c.flags.Register(set)

	f := set.NewSection("RUN OPTIONS")
	f.StringSliceVar(&cli.StringSliceVar{
		Name:   "only",
		Target: &c.only,
		Usage:  "Restrict to these step names instead of every produce_results step; may be repeated.",
	})
	return set
}

func (c *RunCommand) Run(ctx context.Context, args []string) error {
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

	outputs, err := driver.Run(ctx, steps, cache, c.only...)
	if err != nil {
		return err //nolint:wrapcheck
	}

	for _, o := range outputs {
		b, err := yaml.Marshal(o.Value)
		if err != nil {
			return fmt.Errorf("marshaling result of %q: %w", o.Name, err)
		}
		fmt.Fprintf(c.Stdout(), "%s:\n", o.Name)
		for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
			fmt.Fprintf(c.Stdout(), "  %s\n", line)
		}
	}
	return nil
}
