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

// Package stepkind defines the Kind interface: the per-class contract a
// concrete step implementation satisfies (spec.md §3, "Step class"). The
// engine itself never implements a Kind — spec.md places "concrete user
// step implementations" out of scope — but it needs the interface to drive
// resolution, fingerprinting, and execution uniformly across whatever Kinds
// a caller registers.
package stepkind

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/abcxyz/stepgraph/internal/format"
	"github.com/abcxyz/stepgraph/internal/rule"
	"github.com/abcxyz/stepgraph/internal/tristate"
)

// Kind is a step class: the template from which individual Step instances
// are constructed. Tag, Deterministic, and Cacheable correspond to the
// CLASS_TAG, DETERMINISTIC, and CACHEABLE constants of spec.md §3/§4.2.
type Kind interface {
	// Tag is the CLASS_TAG used as the first segment of every fingerprint
	// this Kind produces.
	Tag() string
	// Deterministic reports whether two instances constructed with equal
	// kwargs always produce equal results.
	Deterministic() bool
	// Cacheable reports the class's CACHEABLE tri-state (spec.md §4.2):
	// Unspecified if the class declares no opinion.
	Cacheable() tristate.Tristate
	// Version is the class's VERSION string, or "" if unversioned. It's
	// folded into the CLASS_TAG segment of the fingerprint as "Tag-Version".
	Version() string
	// Rules returns the per-kwarg CEL validation rules attached to this
	// class, if any (SPEC_FULL.md §4.3a). May return nil.
	Rules() []rule.Rule
	// DefaultFormat is the Format used to serialize this class's results
	// when no format is explicitly specified for a directory cache.
	DefaultFormat() format.Format
	// EngineVersionConstraint is the semver range of engine versions this
	// class is compatible with (SPEC_FULL.md §4.9a), or nil if
	// unconstrained.
	EngineVersionConstraint() *semver.Constraints
	// Run executes the step's logic against its effective kwargs (every
	// embedded step already replaced by its result) and either a fresh or
	// resumed scratch directory.
	Run(ctx context.Context, kwargs map[string]any, scratchDir string) (any, error)
	// Schema declares, for kwarg names where it matters, whether a bare
	// string value should be accepted literally or always resolved as a
	// reference to another step's name (spec.md §4.9, "a kwarg annotated as
	// type A is actually accepted as Step<A> | A"). A kwarg absent from the
	// map defaults to ParamAny, which never attempts ref resolution: per
	// spec.md's boundary-behavior clause, a string kwarg that isn't declared
	// ParamStep is always taken literally, whether it's annotated as a plain
	// string or left unrestricted. Only a kwarg explicitly declared
	// ParamStep has its bare-string value looked up as a step name.
	Schema() map[string]ParamKind
}

// ParamKind disambiguates how the resolver should treat a bare string kwarg
// value for a given parameter name.
type ParamKind int

const (
	// ParamAny always treats a bare string value as a literal, the same as
	// ParamString. It's the default for any kwarg a Kind's Schema doesn't
	// mention, and exists as a separate name from ParamString only to mark
	// "this kwarg's type was left unrestricted" at the call site, per
	// spec.md's own distinction between "annotated string" and "annotated
	// Any" parameters — the resolver treats the two identically.
	ParamAny ParamKind = iota
	// ParamString always treats the value as a literal string, never a
	// step reference.
	ParamString
	// ParamStep always treats a bare string value as a reference to
	// another step's name; a dangling reference is a configuration error
	// rather than silently falling back to a literal.
	ParamStep
)

// Base is embeddable by concrete Kind implementations that want sane
// defaults for the optional parts of the interface (no rules, no version
// constraint, unspecified cacheability, the default serialization format).
// This mirrors the original source's pattern of class-level constants that
// default to None/False unless a subclass overrides them.
type Base struct{}

// Cacheable implements Kind with the "no opinion" default.
func (Base) Cacheable() tristate.Tristate { return tristate.Unspecified }

// Version implements Kind with the "unversioned" default.
func (Base) Version() string { return "" }

// Rules implements Kind with the "no rules" default.
func (Base) Rules() []rule.Rule { return nil }

// DefaultFormat implements Kind with the engine's default gzip+YAML format.
func (Base) DefaultFormat() format.Format { return format.Default{} }

// EngineVersionConstraint implements Kind with the "unconstrained" default.
func (Base) EngineVersionConstraint() *semver.Constraints { return nil }

// Schema implements Kind with the "no declared schema" default: every kwarg
// is treated as ParamAny.
func (Base) Schema() map[string]ParamKind { return nil }

// FullTag returns the fingerprint class-tag segment for k: its Tag, with
// "-VERSION" appended if Version is non-empty, per spec.md §4.1.
func FullTag(k Kind) string {
	if v := k.Version(); v != "" {
		return k.Tag() + "-" + v
	}
	return k.Tag()
}
