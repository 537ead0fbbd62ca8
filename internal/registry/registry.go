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

// Package registry resolves a step class name (the string a workflow
// configuration names in its "type" field) to a stepkind.Kind. The
// original source's Step.from_params leans on AllenNLP's Registrable
// (as_registrable().list_available()/resolve_class_name()); this is the Go
// re-expression of that lookup, shaped like cmd/abc/abc.go's
// map[string]cli.CommandFactory command tree.
package registry

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
	"github.com/abcxyz/stepgraph/internal/stepkind"
)

// Registry resolves class names to Kinds.
type Registry interface {
	// ListAvailable returns every registered class name, sorted.
	ListAvailable() []string
	// ResolveClassName returns the Kind registered under name, or an error
	// naming the available alternatives if it isn't registered, or if it's
	// registered but declares an EngineVersionConstraint that engineVersion
	// doesn't satisfy.
	ResolveClassName(name string, engineVersion *semver.Version) (stepkind.Kind, error)
}

// StaticRegistry is a Registry backed by a fixed map, built once at
// startup. This is the only Registry implementation the engine ships; a
// caller embedding the engine in a larger program is free to supply its
// own.
type StaticRegistry struct {
	kinds map[string]stepkind.Kind
}

var _ Registry = (*StaticRegistry)(nil)

// NewStaticRegistry builds a registry from a name-to-Kind map. The map is
// copied, so later changes to kinds do not affect the registry.
func NewStaticRegistry(kinds map[string]stepkind.Kind) *StaticRegistry {
	cp := make(map[string]stepkind.Kind, len(kinds))
	for name, k := range kinds {
		cp[name] = k
	}
	return &StaticRegistry{kinds: cp}
}

// ListAvailable implements Registry.
func (r *StaticRegistry) ListAvailable() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveClassName implements Registry.
func (r *StaticRegistry) ResolveClassName(name string, engineVersion *semver.Version) (stepkind.Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, stepgraphlog.NewConfigurationError("unknown step class %q; available classes are %v", name, r.ListAvailable())
	}

	if constraint := k.EngineVersionConstraint(); constraint != nil && engineVersion != nil {
		if !constraint.Check(engineVersion) {
			return nil, stepgraphlog.NewConfigurationError(
				"step class %q requires engine version %s, but the running engine is %s",
				name, constraint.String(), engineVersion.String())
		}
	}

	return k, nil
}
