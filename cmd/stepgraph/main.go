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

// Package main is the stepgraph command-line entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/stepgraph/internal/version"
)

const (
	defaultLogLevel  = logging.LevelWarning
	defaultLogFormat = logging.FormatText
)

var rootCmd = func() *cli.RootCommand {
	return &cli.RootCommand{
		Name:    version.Name,
		Version: version.HumanVersion,
		Commands: map[string]cli.CommandFactory{
			"resolve": func() cli.Command {
				return &ResolveCommand{}
			},
			"dry-run": func() cli.Command {
				return &DryRunCommand{}
			},
			"run": func() cli.Command {
				return &RunCommand{}
			},
			"diff": func() cli.Command {
				return &DiffCommand{}
			},
			"cache": func() cli.Command {
				return &cli.RootCommand{
					Name:        "cache",
					Description: "subcommands for inspecting and clearing the on-disk result cache",
					Commands: map[string]cli.CommandFactory{
						"ls": func() cli.Command {
							return &CacheLsCommand{}
						},
						"rm": func() cli.Command {
							return &CacheRmCommand{}
						},
					},
				}
			},
		},
	}
}

func main() {
	ctx, done := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer done()

	setLogEnvVars()
	ctx = logging.WithLogger(ctx, logging.NewFromEnv("STEPGRAPH_"))

	if err := rootCmd().Run(ctx, os.Args[1:]); err != nil {
		done()
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func setLogEnvVars() {
	if os.Getenv("STEPGRAPH_LOG_FORMAT") == "" {
		os.Setenv("STEPGRAPH_LOG_FORMAT", string(defaultLogFormat))
	}
	if os.Getenv("STEPGRAPH_LOG_LEVEL") == "" {
		os.Setenv("STEPGRAPH_LOG_LEVEL", defaultLogLevel.String())
	}
}
