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

// Package configyaml decodes a workflow configuration file into the raw
// parameter tree resolver.Resolve consumes. Configuration loading is an
// external collaborator per spec.md §1 ("the configuration loader that
// yields the raw nested mapping consumed by the resolver"); this is the
// one loader the engine ships with, grounded on templates/model/decode's
// kind/api_version-tagged YAML decoding.
package configyaml

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/abcxyz/stepgraph/internal/resolver"
)

// setTag marks a YAML sequence as order-insensitive (a resolver.RawSet
// rather than a resolver.RawSequence).
const setTag = "!set"

// SupportedKind is the required value of a workflow file's "kind" field.
const SupportedKind = "Workflow"

type workflowFile struct {
	APIVersion string    `yaml:"api_version"`
	Kind       string    `yaml:"kind"`
	Steps      yaml.Node `yaml:"steps"`
}

// Decode reads a workflow YAML document from r and returns its steps as a
// raw parameter tree, keyed by step name. filename is used only to
// annotate errors.
func Decode(r io.Reader, filename string) (map[string]resolver.StepDef, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("configyaml: reading %s: %w", filename, err)
	}

	var wf workflowFile
	if err := yaml.Unmarshal(buf, &wf); err != nil {
		return nil, fmt.Errorf("configyaml: parsing %s: %w", filename, err)
	}

	if wf.Kind != "" && wf.Kind != SupportedKind {
		return nil, fmt.Errorf("configyaml: %s: kind %q is not %q", filename, wf.Kind, SupportedKind)
	}
	if wf.Steps.Kind != yaml.MappingNode {
		return nil, fmt.Errorf(`configyaml: %s: "steps" must be a mapping from step name to step definition`, filename)
	}

	out := make(map[string]resolver.StepDef, len(wf.Steps.Content)/2)
	for i := 0; i+1 < len(wf.Steps.Content); i += 2 {
		name := wf.Steps.Content[i].Value
		def, err := stepDefFromNode(wf.Steps.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("configyaml: %s: step %q: %w", filename, name, err)
		}
		out[name] = def
	}
	return out, nil
}

func stepDefFromNode(n *yaml.Node) (resolver.StepDef, error) {
	if n.Kind != yaml.MappingNode {
		return resolver.StepDef{}, fmt.Errorf("a step definition must be a mapping, line %d", n.Line)
	}

	def := resolver.StepDef{Kwargs: map[string]resolver.RawValue{}}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		valNode := n.Content[i+1]

		switch key {
		case "type":
			def.Type = valNode.Value
		case "cache_results":
			var b bool
			if err := valNode.Decode(&b); err != nil {
				return resolver.StepDef{}, fmt.Errorf("cache_results: %w", err)
			}
			def.CacheResults = &b
		case "produce_results":
			var b bool
			if err := valNode.Decode(&b); err != nil {
				return resolver.StepDef{}, fmt.Errorf("produce_results: %w", err)
			}
			def.ProduceResults = b
		default:
			rv, err := nodeToRawValue(valNode)
			if err != nil {
				return resolver.StepDef{}, fmt.Errorf("kwarg %q: %w", key, err)
			}
			def.Kwargs[key] = rv
		}
	}

	if def.Type == "" {
		return resolver.StepDef{}, fmt.Errorf(`missing required "type" field, line %d`, n.Line)
	}
	return def, nil
}

func nodeToRawValue(n *yaml.Node) (resolver.RawValue, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return resolver.RawValue{}, fmt.Errorf("decoding scalar at line %d: %w", n.Line, err)
		}
		return resolver.RawValue{Kind: resolver.RawPrimitive, Prim: v}, nil

	case yaml.SequenceNode:
		items := make([]resolver.RawValue, len(n.Content))
		for i, c := range n.Content {
			rv, err := nodeToRawValue(c)
			if err != nil {
				return resolver.RawValue{}, err
			}
			items[i] = rv
		}
		if n.Tag == setTag {
			return resolver.RawValue{Kind: resolver.RawSet, Seq: items}, nil
		}
		return resolver.RawValue{Kind: resolver.RawSequence, Seq: items}, nil

	case yaml.MappingNode:
		if hasTypeKey(n) {
			def, err := stepDefFromNode(n)
			if err != nil {
				return resolver.RawValue{}, err
			}
			return resolver.RawValue{Kind: resolver.RawStepDef, Def: &def}, nil
		}
		m := make(map[string]resolver.RawValue, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			rv, err := nodeToRawValue(n.Content[i+1])
			if err != nil {
				return resolver.RawValue{}, err
			}
			m[n.Content[i].Value] = rv
		}
		return resolver.RawValue{Kind: resolver.RawMapping, Map: m}, nil

	default:
		return resolver.RawValue{}, fmt.Errorf("unsupported YAML node kind at line %d", n.Line)
	}
}

func hasTypeKey(n *yaml.Node) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "type" {
			return true
		}
	}
	return false
}
