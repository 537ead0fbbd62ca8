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

// Package tristate implements the CACHEABLE tri-state and the
// cache_results resolution table from spec.md §4.2.
package tristate

import "github.com/abcxyz/stepgraph/internal/stepgraphlog"

// Tristate is a three-valued boolean: Unspecified means "the step class
// didn't declare a CACHEABLE constant at all."
type Tristate int

const (
	Unspecified Tristate = iota
	True
	False
)

// FromBool lifts a plain bool into a Tristate.
func FromBool(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// Choice is the user's explicit cache_results selection, if any, passed to
// Step's constructor.
type Choice int

const (
	ChoiceUnset Choice = iota
	ChoiceTrue
	ChoiceFalse
)

// Resolve implements the table in spec.md §4.2. stepName is used only to
// produce a readable error/warning.
func Resolve(stepName string, choice Choice, deterministic bool, cacheable Tristate, warn func(key, msg string)) (bool, error) {
	switch choice {
	case ChoiceTrue:
		if cacheable == False {
			return false, stepgraphlog.NewConfigurationError("step %q: not a cacheable step", stepName)
		}
		if !deterministic {
			warn("cache-nondeterministic:"+stepName, "step "+stepName+" is going to be cached despite not being deterministic")
		}
		return true, nil
	case ChoiceFalse:
		return false, nil
	case ChoiceUnset:
		switch {
		case !deterministic && cacheable == Unspecified:
			return false, nil
		case deterministic && cacheable == Unspecified:
			return true, nil
		case !deterministic && cacheable == False:
			return false, nil
		case deterministic && cacheable == False:
			return false, nil
		case !deterministic && cacheable == True:
			warn("cacheable-nondeterministic:"+stepName, "step "+stepName+" is set to be cacheable despite not being deterministic")
			return true, nil
		case deterministic && cacheable == True:
			return true, nil
		default:
			return false, stepgraphlog.NewConfigurationError("step %q: DETERMINISTIC or CACHEABLE are set to an invalid value", stepName)
		}
	default:
		return false, stepgraphlog.NewConfigurationError("step %q: cache_results parameter is set to an invalid value", stepName)
	}
}
