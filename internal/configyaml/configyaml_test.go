package configyaml

import (
	"strings"
	"testing"

	"github.com/abcxyz/stepgraph/internal/resolver"
)

func TestDecodeBasicWorkflow(t *testing.T) {
	t.Parallel()

	doc := `
api_version: stepgraph/v1
kind: Workflow
steps:
  a:
    type: const
    cache_results: true
    value: 41
  b:
    type: addone
    produce_results: true
    x: a
`
	steps, err := Decode(strings.NewReader(doc), "test.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("Decode() = %v, want 2 steps", steps)
	}

	a := steps["a"]
	if a.Type != "const" {
		t.Errorf("a.Type = %q, want const", a.Type)
	}
	if a.CacheResults == nil || !*a.CacheResults {
		t.Errorf("a.CacheResults = %v, want true", a.CacheResults)
	}
	if a.Kwargs["value"].Kind != resolver.RawPrimitive || a.Kwargs["value"].Prim != 41 {
		t.Errorf("a.Kwargs[value] = %+v, want primitive 41", a.Kwargs["value"])
	}

	b := steps["b"]
	if !b.ProduceResults {
		t.Error("b.ProduceResults = false, want true")
	}
	if b.Kwargs["x"].Kind != resolver.RawPrimitive || b.Kwargs["x"].Prim != "a" {
		t.Errorf("b.Kwargs[x] = %+v, want primitive \"a\"", b.Kwargs["x"])
	}
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	t.Parallel()

	doc := `
kind: NotAWorkflow
steps:
  a:
    type: const
    value: 1
`
	if _, err := Decode(strings.NewReader(doc), "test.yaml"); err == nil {
		t.Fatal("Decode should reject a document whose kind isn't Workflow")
	}
}

func TestDecodeRequiresTypeField(t *testing.T) {
	t.Parallel()

	doc := `
kind: Workflow
steps:
  a:
    value: 1
`
	if _, err := Decode(strings.NewReader(doc), "test.yaml"); err == nil {
		t.Fatal("Decode should reject a step definition with no \"type\" field")
	}
}

func TestDecodeSetTagProducesRawSet(t *testing.T) {
	t.Parallel()

	doc := `
kind: Workflow
steps:
  a:
    type: sorted-keys
    mapping: {}
    tags: !set
      - x
      - y
`
	steps, err := Decode(strings.NewReader(doc), "test.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if steps["a"].Kwargs["tags"].Kind != resolver.RawSet {
		t.Errorf("tags kwarg kind = %v, want RawSet", steps["a"].Kwargs["tags"].Kind)
	}
}

func TestDecodeSequenceIsOrderSensitive(t *testing.T) {
	t.Parallel()

	doc := `
kind: Workflow
steps:
  a:
    type: concat
    parts:
      - "x"
      - "y"
`
	steps, err := Decode(strings.NewReader(doc), "test.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	parts := steps["a"].Kwargs["parts"]
	if parts.Kind != resolver.RawSequence {
		t.Errorf("parts kwarg kind = %v, want RawSequence", parts.Kind)
	}
	if len(parts.Seq) != 2 || parts.Seq[0].Prim != "x" || parts.Seq[1].Prim != "y" {
		t.Errorf("parts = %+v, want [x y] in order", parts.Seq)
	}
}

func TestDecodeInlineStepDefinition(t *testing.T) {
	t.Parallel()

	doc := `
kind: Workflow
steps:
  first:
    type: concat
    parts:
      - "prefix-"
      - type: ref
        ref: second
  second:
    type: const
    value: suffix
`
	steps, err := Decode(strings.NewReader(doc), "test.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	parts := steps["first"].Kwargs["parts"]
	if len(parts.Seq) != 2 {
		t.Fatalf("parts = %+v, want 2 entries", parts.Seq)
	}
	inline := parts.Seq[1]
	if inline.Kind != resolver.RawStepDef {
		t.Fatalf("parts[1].Kind = %v, want RawStepDef", inline.Kind)
	}
	if inline.Def.Type != "ref" {
		t.Errorf("parts[1].Def.Type = %q, want ref", inline.Def.Type)
	}
	if inline.Def.Kwargs["ref"].Prim != "second" {
		t.Errorf("parts[1].Def.Kwargs[ref] = %+v, want primitive \"second\"", inline.Def.Kwargs["ref"])
	}
}

func TestDecodeNestedMappingWithoutTypeKey(t *testing.T) {
	t.Parallel()

	doc := `
kind: Workflow
steps:
  a:
    type: sorted-keys
    mapping:
      one: 1
      two: 2
`
	steps, err := Decode(strings.NewReader(doc), "test.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	mapping := steps["a"].Kwargs["mapping"]
	if mapping.Kind != resolver.RawMapping {
		t.Fatalf("mapping.Kind = %v, want RawMapping", mapping.Kind)
	}
	if mapping.Map["one"].Prim != 1 || mapping.Map["two"].Prim != 2 {
		t.Errorf("mapping = %+v, want one=1 two=2", mapping.Map)
	}
}
