package resolver

import (
	"context"
	"testing"

	"github.com/abcxyz/stepgraph/internal/registry"
	"github.com/abcxyz/stepgraph/internal/stepgraphlog"
	"github.com/abcxyz/stepgraph/internal/stepkind"
	"github.com/abcxyz/stepgraph/internal/stepkind/builtin"
)

func prim(v any) RawValue { return RawValue{Kind: RawPrimitive, Prim: v} }

func seq(vs ...RawValue) RawValue { return RawValue{Kind: RawSequence, Seq: vs} }

func builtinRegistry() *registry.StaticRegistry {
	return registry.NewStaticRegistry(map[string]stepkind.Kind{
		"const":   builtin.Const{},
		"addone":  builtin.AddOne{},
		"id":      builtin.Id{},
		"ref":     builtin.Ref{},
		"concat":  builtin.Concat{},
		"failing": builtin.Failing{},
	})
}

func TestResolveBasicChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := builtinRegistry()

	raw := map[string]StepDef{
		"a": {Type: "const", Kwargs: map[string]RawValue{"value": prim(41.0)}},
		"b": {Type: "addone", Kwargs: map[string]RawValue{"x": prim("a")}},
	}

	resolved, err := Resolve(ctx, raw, reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("Resolve() = %v, want 2 steps", resolved)
	}
	b, ok := resolved["b"]
	if !ok {
		t.Fatal(`expected step "b" in resolved graph`)
	}
	deps := b.Dependencies()
	if len(deps) != 1 || deps[0] != resolved["a"] {
		t.Errorf("b's dependencies = %v, want [a]", deps)
	}
}

func TestResolveForwardReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := builtinRegistry()

	raw := map[string]StepDef{
		"first": {
			Type: "concat",
			Kwargs: map[string]RawValue{
				"parts": seq(
					prim("prefix-"),
					RawValue{Kind: RawStepDef, Def: &StepDef{Type: "ref", Kwargs: map[string]RawValue{"ref": prim("second")}}},
				),
			},
		},
		"second": {Type: "const", Kwargs: map[string]RawValue{"value": prim("suffix")}},
	}

	resolved, err := Resolve(ctx, raw, reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	first := resolved["first"]
	deps := first.Dependencies()
	if len(deps) != 1 || deps[0] != resolved["second"] {
		t.Errorf("first's dependencies = %v, want [second]", deps)
	}
}

func TestResolveCycleIsAConfigurationError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := builtinRegistry()

	raw := map[string]StepDef{
		"a": {Type: "id", Kwargs: map[string]RawValue{"x": prim("b")}},
		"b": {Type: "id", Kwargs: map[string]RawValue{"x": prim("a")}},
	}

	_, err := Resolve(ctx, raw, reg)
	if err == nil {
		t.Fatal("Resolve on a two-step cycle should fail")
	}
	var cfgErr *stepgraphlog.ConfigurationError
	if !isConfigurationError(err, &cfgErr) {
		t.Errorf("Resolve() error = %v, want a ConfigurationError", err)
	}
}

func TestResolveMissingReferenceIsAConfigurationError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := builtinRegistry()

	raw := map[string]StepDef{
		"a": {Type: "id", Kwargs: map[string]RawValue{"x": prim("nonexistent")}},
	}

	if _, err := Resolve(ctx, raw, reg); err == nil {
		t.Fatal("Resolve referencing an undefined step should fail")
	}
}

func TestResolveUnknownClassFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := builtinRegistry()

	raw := map[string]StepDef{
		"a": {Type: "no-such-class", Kwargs: map[string]RawValue{}},
	}

	if _, err := Resolve(ctx, raw, reg); err == nil {
		t.Fatal("Resolve with an unregistered class should fail")
	}
}

func TestResolveParamAnyNeverResolvesBareString(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := builtinRegistry()

	raw := map[string]StepDef{
		"a":     {Type: "const", Kwargs: map[string]RawValue{"value": prim(1.0)}},
		"value": {Type: "const", Kwargs: map[string]RawValue{"value": prim("a")}},
	}

	resolved, err := Resolve(ctx, raw, reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	v := resolved["value"]
	if len(v.Dependencies()) != 0 {
		t.Error("a ParamAny kwarg holding a bare string must never resolve as a step reference")
	}
}

func isConfigurationError(err error, target **stepgraphlog.ConfigurationError) bool {
	e, ok := err.(*stepgraphlog.ConfigurationError)
	if !ok {
		return false
	}
	*target = e
	return true
}
