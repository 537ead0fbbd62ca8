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

package stepgraphlog

import (
	"context"
	"sync"

	"github.com/abcxyz/pkg/logging"
)

// WarnOnce logs a WARN-level message through the context logger, but only
// the first time it's called for a given (tracker, key) pair. The spec
// calls for several warnings ("caching a non-deterministic step", "a cached
// step transitively depending on a non-deterministic step") to be emitted
// at most once per distinct occurrence within a run; a Tracker scopes that
// "once" to whatever lifetime its owner (a resolver run, a cache instance)
// has.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTracker returns a Tracker with no warnings yet emitted.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// WarnOnce logs msg at WARN via the context logger the first time it's
// called with a given key; subsequent calls with the same key are no-ops.
func (t *Tracker) WarnOnce(ctx context.Context, key, msg string, kv ...any) {
	t.mu.Lock()
	_, already := t.seen[key]
	if !already {
		t.seen[key] = struct{}{}
	}
	t.mu.Unlock()

	if already {
		return
	}
	logging.FromContext(ctx).WarnContext(ctx, msg, kv...)
}
