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
	"io/fs"
	"path/filepath"

	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/stepgraph/internal/fsabs"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
)

// cacheFlags is shared by the cache subcommands.
type cacheFlags struct {
	CacheDir string
}

func (c *cacheFlags) Register(set *cli.FlagSet) {
	f := set.NewSection("CACHE OPTIONS")
	f.StringVar(&cli.StringVar{
		Name:    "cache-dir",
		Example: defaultCacheDir,
		Default: defaultCacheDir,
		Target:  &c.CacheDir,
		Predict: predict.Dirs("*"),
		Usage:   "Root directory of the persistent result cache.",
	})
}

// CacheLsCommand lists the fingerprints present in a directory-backed cache.
type CacheLsCommand struct {
	cli.BaseCommand
	flags cacheFlags
}

func (c *CacheLsCommand) Desc() string { return "list the entries in the directory result cache" }

func (c *CacheLsCommand) Help() string {
	return `
Usage: {{ COMMAND }}

Lists every fingerprint with a committed result under --cache-dir.`
}

func (c *CacheLsCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()
	c.flags.Register(set)
	return set
}

func (c *CacheLsCommand) Run(ctx context.Context, args []string) error {
	if err := c.Flags().Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	warn := stepgraphlog.NewTracker()
	cache, err := newCache(c.flags.CacheDir, warn)
	if err != nil {
		return err
	}

	realFS := &fsabs.RealFS{}
	entries, err := fs.ReadDir(realFS, c.flags.CacheDir)
	if err != nil {
		fmt.Fprintf(c.Stdout(), "(empty: %s does not exist yet)\n", c.flags.CacheDir)
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(c.flags.CacheDir, e.Name(), "metadata.json")
		if ok, _ := fsabs.Exists(realFS, metaPath); ok {
			fmt.Fprintln(c.Stdout(), e.Name())
		}
	}
	fmt.Fprintf(c.Stdout(), "%d entries total\n", cache.Len())
	return nil
}

// CacheRmCommand removes one or every entry from a directory-backed cache.
type CacheRmCommand struct {
	cli.BaseCommand
	flags       cacheFlags
	fingerprint string
}

func (c *CacheRmCommand) Desc() string { return "remove entries from the directory result cache" }

func (c *CacheRmCommand) Help() string {
	return `
Usage: {{ COMMAND }} [<fingerprint>]

Removes the cache entry for <fingerprint>, or every entry under --cache-dir
if no fingerprint is given.`
}

func (c *CacheRmCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()
	c.flags.Register(set)
	set.AfterParse(func(existingErr error) error {
		c.fingerprint = set.Arg(0)
		return nil
	})
	return set
}

func (c *CacheRmCommand) Run(ctx context.Context, args []string) error {
	if err := c.Flags().Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	realFS := &fsabs.RealFS{}
	if c.fingerprint == "" {
		if err := realFS.RemoveAll(c.flags.CacheDir); err != nil {
			return fmt.Errorf("removing %s: %w", c.flags.CacheDir, err)
		}
		fmt.Fprintf(c.Stdout(), "removed all entries under %s\n", c.flags.CacheDir)
		return nil
	}

	dir := filepath.Join(c.flags.CacheDir, c.fingerprint)
	if err := realFS.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	fmt.Fprintf(c.Stdout(), "removed %s\n", c.fingerprint)
	return nil
}
