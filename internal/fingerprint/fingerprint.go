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

// Package fingerprint computes the content-addressed "unique id" described
// in spec.md §4.1: a stable hash of a step's kwargs with every embedded step
// replaced by its own fingerprint, order-insensitive for sets and mappings,
// order-sensitive for sequences.
//
// There's no third-party library in the teacher corpus that hashes an
// arbitrary tagged tree like this — golang.org/x/mod/sumdb/dirhash (used by
// internal/format for checksums) only hashes directory byte contents, and
// cel-go evaluates expressions rather than hashing values — so this is
// hand-rolled canonicalization over the stdlib crypto/sha256, in the spirit
// of the canonicalizeStepDef/ComputeStepKey pair this package is grounded on.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/abcxyz/stepgraph/internal/value"
)

// Length is the number of hex characters kept from the underlying SHA-256
// digest, per spec.md §4.1 ("the first 32 characters").
const Length = 32

// Hash returns the first Length hex characters of the canonical content
// hash of v, with every embedded step reference replaced by its own
// fingerprint (fingerprintStep).
func Hash(v value.Value, fingerprintStep func(value.StepRef) string) string {
	h := sha256.New()
	writeCanonical(h, v, fingerprintStep)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:Length]
}

// HashKwargs is Hash applied across an entire kwargs mapping.
func HashKwargs(k value.KwargMap, fingerprintStep func(value.StepRef) string) string {
	return Hash(value.Mapping(k), fingerprintStep)
}

// HashBytes hashes an arbitrary byte string, truncated to Length hex chars.
// Used for the non-deterministic-step fallback: fresh random bits hashed
// once and memoized for the step's lifetime (spec.md §4.1).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:Length]
}

// writeCanonical writes a tag-prefixed, deterministically-ordered encoding
// of v into h. Each node is tagged with its kind so that, e.g., an empty
// sequence and an empty set never collide.
func writeCanonical(h io.Writer, v value.Value, fingerprintStep func(value.StepRef) string) {
	switch v.Kind {
	case value.KindPrimitive:
		fmt.Fprintf(h, "P(%#v)", v.Prim) //nolint:errcheck
	case value.KindStep:
		fmt.Fprintf(h, "R(%s)", fingerprintStep(v.Step)) //nolint:errcheck
	case value.KindSequence:
		fmt.Fprintf(h, "L[%d](", len(v.Seq)) //nolint:errcheck
		for _, e := range v.Seq {
			writeCanonical(h, e, fingerprintStep)
		}
		fmt.Fprint(h, ")") //nolint:errcheck
	case value.KindSet:
		// Order-insensitive: hash each member independently, sort the
		// resulting digests, then fold them in. This is what makes set
		// membership, not insertion order, the thing that affects the hash.
		digests := make([]string, len(v.Set))
		for i, e := range v.Set {
			digests[i] = Hash(e, fingerprintStep)
		}
		sort.Strings(digests)
		fmt.Fprintf(h, "S[%d](", len(digests)) //nolint:errcheck
		for _, d := range digests {
			fmt.Fprint(h, d) //nolint:errcheck
		}
		fmt.Fprint(h, ")") //nolint:errcheck
	case value.KindMapping:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(h, "M[%d](", len(keys)) //nolint:errcheck
		for _, k := range keys {
			fmt.Fprintf(h, "%q:", k) //nolint:errcheck
			writeCanonical(h, v.Map[k], fingerprintStep)
		}
		fmt.Fprint(h, ")") //nolint:errcheck
	}
}
