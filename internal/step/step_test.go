package step

import (
	"context"
	"errors"
	"testing"

	"github.com/abcxyz/stepgraph/internal/stepcache"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
	"github.com/abcxyz/stepgraph/internal/stepkind"
	"github.com/abcxyz/stepgraph/internal/stepkind/builtin"
	"github.com/abcxyz/stepgraph/internal/value"
)

func TestFingerprintDeterministicStableAndKwargSensitive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(int64(1))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(int64(1))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("two deterministic steps with identical kwargs should fingerprint equal: %s != %s", a.Fingerprint(), b.Fingerprint())
	}

	c, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(int64(2))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("steps with different kwargs should fingerprint differently")
	}
}

func TestFingerprintNonDeterministicVariesPerInstance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(ctx, nondeterministicConst{}, value.KwargMap{"value": value.Primitive(int64(1))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(ctx, nondeterministicConst{}, value.KwargMap{"value": value.Primitive(int64(1))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("two non-deterministic steps should never share a fingerprint")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Error("a non-deterministic step's own fingerprint must be stable across repeated calls")
	}
}

func TestDependenciesAndRecursiveDependencies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	leaf, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(int64(41))})
	if err != nil {
		t.Fatalf("New leaf: %v", err)
	}
	mid, err := New(ctx, builtin.AddOne{}, value.KwargMap{"x": value.Ref(leaf)})
	if err != nil {
		t.Fatalf("New mid: %v", err)
	}
	top, err := New(ctx, builtin.AddOne{}, value.KwargMap{"x": value.Ref(mid)})
	if err != nil {
		t.Fatalf("New top: %v", err)
	}

	deps := top.Dependencies()
	if len(deps) != 1 || deps[0] != mid {
		t.Fatalf("Dependencies() = %v, want [mid]", deps)
	}

	rdeps := top.RecursiveDependencies()
	if len(rdeps) != 2 {
		t.Fatalf("RecursiveDependencies() = %v, want 2 entries", rdeps)
	}
}

func TestResultCachesAndMaterializesDependencies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := stepcache.NewMemory(nil)

	a, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(41.0)}, WithCacheResults(true))
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New(ctx, builtin.AddOne{}, value.KwargMap{"x": value.Ref(a)}, WithCacheResults(true))
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	got, err := b.Result(ctx, cache)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got != 42.0 {
		t.Errorf("Result() = %v, want 42.0", got)
	}

	if ok, _ := cache.Contains(a); !ok {
		t.Error("dependency a should be cached after resolving b")
	}
	if ok, _ := cache.Contains(b); !ok {
		t.Error("b should be cached after Result")
	}

	got2, err := b.Result(ctx, cache)
	if err != nil {
		t.Fatalf("second Result: %v", err)
	}
	if got2 != 42.0 {
		t.Errorf("second Result() = %v, want 42.0", got2)
	}
}

func TestResultMaterializesLazySequenceBeforeCaching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := stepcache.NewMemory(nil)

	values := []any{"a", "b", "c"}
	s, err := New(ctx, builtin.LazySeq{}, value.KwargMap{"values": value.Sequence(
		value.Primitive(values[0]), value.Primitive(values[1]), value.Primitive(values[2]),
	)}, WithCacheResults(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := s.Result(ctx, cache)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	slice, ok := got.([]any)
	if !ok {
		t.Fatalf("Result() = %#v (%T), want a materialized []any", got, got)
	}
	if len(slice) != 3 || slice[0] != "a" || slice[1] != "b" || slice[2] != "c" {
		t.Errorf("Result() = %v, want [a b c]", slice)
	}

	cached, err := cache.Get(s)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := cached.Value.([]any); !ok {
		t.Errorf("cached value should be a materialized []any, got %T", cached.Value)
	}
}

func TestResultPropagatesRunFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := stepcache.NewMemory(nil)

	s, err := New(ctx, builtin.Failing{}, value.KwargMap{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Result(ctx, cache); err == nil {
		t.Fatal("Result should propagate the kind's Run error")
	}
	if ok, _ := cache.Contains(s); ok {
		t.Error("a failed run must not be cached")
	}
}

func TestEnsureResultRequiresCacheResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := stepcache.NewMemory(nil)

	s, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(1)}, WithCacheResults(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.EnsureResult(ctx, cache); err == nil {
		t.Fatal("EnsureResult on a step with cache_results=false should fail")
	}
}

func TestDryRunReportsCachedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := stepcache.NewMemory(nil)

	a, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(41.0)}, WithCacheResults(true))
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New(ctx, builtin.AddOne{}, value.KwargMap{"x": value.Ref(a)}, WithCacheResults(true))
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	entries := b.DryRun(cache, nil)
	if len(entries) != 2 {
		t.Fatalf("DryRun() = %v, want 2 entries", entries)
	}
	if entries[0].Name != a.Name() || entries[0].AlreadyCached {
		t.Errorf("DryRun()[0] = %+v, want a not cached", entries[0])
	}
	if entries[1].Name != b.Name() || entries[1].AlreadyCached {
		t.Errorf("DryRun()[1] = %+v, want b not cached", entries[1])
	}

	if _, err := b.Result(ctx, cache); err != nil {
		t.Fatalf("Result: %v", err)
	}

	entries2 := b.DryRun(cache, nil)
	for _, e := range entries2 {
		if !e.AlreadyCached {
			t.Errorf("after Result, DryRun entry %+v should report cached", e)
		}
	}
}

func TestDryRunEmitsSelfEvenWhenAlreadyCachedOnEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := stepcache.NewMemory(nil)

	shared, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(41.0)})
	if err != nil {
		t.Fatalf("New shared: %v", err)
	}
	b, err := New(ctx, builtin.AddOne{}, value.KwargMap{"x": value.Ref(shared)})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	c, err := New(ctx, builtin.AddOne{}, value.KwargMap{"x": value.Ref(shared)})
	if err != nil {
		t.Fatalf("New c: %v", err)
	}

	alreadyCached := make(map[string]bool)
	firstRoot := b.DryRun(cache, alreadyCached)
	if len(firstRoot) != 2 {
		t.Fatalf("first root DryRun() = %v, want 2 entries", firstRoot)
	}

	// c shares "shared" with b; reusing the same alreadyCached map must still
	// report "shared" for c's root instead of silently dropping it.
	secondRoot := c.DryRun(cache, alreadyCached)
	if len(secondRoot) != 2 {
		t.Fatalf("second root DryRun() = %v, want 2 entries (shared dep + c itself), got %d", secondRoot, len(secondRoot))
	}
	if secondRoot[0].Name != shared.Name() || !secondRoot[0].AlreadyCached {
		t.Errorf("secondRoot[0] = %+v, want the shared dependency reported as already cached", secondRoot[0])
	}
	if secondRoot[1].Name != c.Name() {
		t.Errorf("secondRoot[1] = %+v, want c itself", secondRoot[1])
	}
}

func TestRunInScratchRejectsReentrancy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := stepcache.NewMemory(nil)

	s, err := New(ctx, builtin.Const{}, value.KwargMap{"value": value.Primitive(1)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	_, err = s.runInScratch(ctx, cache, map[string]any{"value": 1})
	var reentrant *stepgraphlog.RunReentrancyError
	if err == nil {
		t.Fatal("runInScratch while already running should fail")
	}
	if !errors.As(err, &reentrant) {
		t.Errorf("runInScratch error = %v, want a RunReentrancyError", err)
	}
}

// nondeterministicConst is a local test-only Kind (package builtin's Kinds
// are all deterministic) used to exercise the non-deterministic fingerprint
// path.
type nondeterministicConst struct{ stepkind.Base }

func (nondeterministicConst) Tag() string         { return "nondeterministic-const" }
func (nondeterministicConst) Deterministic() bool { return false }
func (nondeterministicConst) Run(_ context.Context, kwargs map[string]any, _ string) (any, error) {
	return kwargs["value"], nil
}
