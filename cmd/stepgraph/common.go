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

	"github.com/Masterminds/semver/v3"
	"github.com/benbjohnson/clock"
	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/stepgraph/internal/configyaml"
	"github.com/abcxyz/stepgraph/internal/format"
	"github.com/abcxyz/stepgraph/internal/fsabs"
	"github.com/abcxyz/stepgraph/internal/registry"
	"github.com/abcxyz/stepgraph/internal/resolver"
	"github.com/abcxyz/stepgraph/internal/step"
	"github.com/abcxyz/stepgraph/internal/stepcache"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
	"github.com/abcxyz/stepgraph/internal/stepkind"
	"github.com/abcxyz/stepgraph/internal/stepkind/builtin"
)

// engineVersionStr is the semver this build of the engine presents to
// EngineVersionConstraint checks. A host embedding the engine with its own
// class registry would set this to its own release version instead.
const engineVersionStr = "1.0.0"

// defaultCacheDir is where the directory-backed cache lives when the user
// doesn't override --cache-dir.
const defaultCacheDir = ".stepgraph-cache"

// commonFlags are shared by every subcommand that loads and resolves a
// workflow file.
type commonFlags struct {
	// Workflow is the path to the workflow YAML file (positional arg 0).
	Workflow string

	// CacheDir is the root of the directory-backed result cache. An empty
	// string selects the in-memory cache instead (results don't survive
	// past the process).
	CacheDir string
}

func (c *commonFlags) Register(set *cli.FlagSet) {
	f := set.NewSection("STEPGRAPH OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "cache-dir",
		Example: defaultCacheDir,
		Default: defaultCacheDir,
		Target:  &c.CacheDir,
		Predict: predict.Dirs("*"),
		Usage:   "Root directory of the persistent result cache. Pass an empty string to use an in-memory cache that doesn't survive the process.",
	})

	set.AfterParse(func(existingErr error) error {
		c.Workflow = set.Arg(0)
		if c.Workflow == "" {
			return fmt.Errorf("missing <workflow-file> argument")
		}
		return nil
	})
}

// newRegistry builds the registry.StaticRegistry of step classes this
// binary ships with. A host embedding the engine would build its own
// registry instead of calling this.
func newRegistry() *registry.StaticRegistry {
	kinds := map[string]stepkind.Kind{
		builtin.Const{}.Tag():      builtin.Const{},
		builtin.AddOne{}.Tag():     builtin.AddOne{},
		builtin.Id{}.Tag():         builtin.Id{},
		builtin.Ref{}.Tag():        builtin.Ref{},
		builtin.Concat{}.Tag():     builtin.Concat{},
		builtin.Failing{}.Tag():    builtin.Failing{},
		builtin.LazySeq{}.Tag():    builtin.LazySeq{},
		builtin.SortedKeys{}.Tag(): builtin.SortedKeys{},
	}
	return registry.NewStaticRegistry(kinds)
}

// newCache builds the cache variant named by dir: a Directory cache rooted
// at dir if non-empty, otherwise a process-local Memory cache.
func newCache(dir string, warn *stepgraphlog.Tracker) (stepcache.Cache, error) {
	if dir == "" {
		return stepcache.NewMemory(warn), nil
	}
	fs := &fsabs.RealFS{}
	if err := fs.MkdirAll(dir, fsabs.OwnerRWXPerms); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return stepcache.NewDirectory(dir, fs, &format.Default{}, clock.New(), warn), nil
}

// loadAndResolve reads the workflow file at path and resolves it into a DAG
// of *step.Step, using this binary's built-in class registry and engine
// version.
func loadAndResolve(ctx context.Context, path string, warn *stepgraphlog.Tracker) (map[string]*step.Step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	raw, err := configyaml.Decode(f, path)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	engineVersion, err := semver.NewVersion(engineVersionStr)
	if err != nil {
		return nil, fmt.Errorf("parsing engine version %q: %w", engineVersionStr, err)
	}

	steps, err := resolver.Resolve(ctx, raw, newRegistry(),
		resolver.WithEngineVersion(engineVersion), resolver.WithWarnTracker(warn))
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return steps, nil
}
