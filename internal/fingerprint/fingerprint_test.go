package fingerprint

import (
	"testing"

	"github.com/abcxyz/stepgraph/internal/value"
)

type fakeStepRef struct{ fp string }

func (f fakeStepRef) Fingerprint() string { return f.fp }

func noSteps(value.StepRef) string { panic("no step refs expected in this test") }

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	v := value.Mapping(map[string]value.Value{
		"a": value.Primitive(1),
		"b": value.Sequence(value.Primitive("x"), value.Primitive("y")),
	})

	h1 := Hash(v, noSteps)
	h2 := Hash(v, noSteps)
	if h1 != h2 {
		t.Errorf("Hash is not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != Length {
		t.Errorf("Hash length = %d, want %d", len(h1), Length)
	}
}

func TestHashMapKeyOrderInsensitive(t *testing.T) {
	t.Parallel()

	v1 := value.Mapping(map[string]value.Value{"a": value.Primitive(1), "b": value.Primitive(2)})
	v2 := value.Mapping(map[string]value.Value{"b": value.Primitive(2), "a": value.Primitive(1)})

	if Hash(v1, noSteps) != Hash(v2, noSteps) {
		t.Error("Hash should be insensitive to Go map iteration order")
	}
}

func TestHashSequenceOrderSensitive(t *testing.T) {
	t.Parallel()

	v1 := value.Sequence(value.Primitive("x"), value.Primitive("y"))
	v2 := value.Sequence(value.Primitive("y"), value.Primitive("x"))

	if Hash(v1, noSteps) == Hash(v2, noSteps) {
		t.Error("Hash of a sequence should depend on element order")
	}
}

func TestHashSetOrderInsensitive(t *testing.T) {
	t.Parallel()

	v1 := value.Set(value.Primitive("x"), value.Primitive("y"))
	v2 := value.Set(value.Primitive("y"), value.Primitive("x"))

	if Hash(v1, noSteps) != Hash(v2, noSteps) {
		t.Error("Hash of a set should not depend on element order")
	}
}

func TestHashSequenceVsSetNeverCollide(t *testing.T) {
	t.Parallel()

	seq := value.Sequence(value.Primitive("x"), value.Primitive("y"))
	set := value.Set(value.Primitive("x"), value.Primitive("y"))

	if Hash(seq, noSteps) == Hash(set, noSteps) {
		t.Error("an empty/equal-content sequence and set must not hash the same")
	}
}

func TestHashStepRefDelegatesToFingerprintStep(t *testing.T) {
	t.Parallel()

	fingerprintStep := func(s value.StepRef) string { return s.Fingerprint() }
	v1 := value.Ref(fakeStepRef{fp: "dep-one"})
	v2 := value.Ref(fakeStepRef{fp: "dep-two"})

	if Hash(v1, fingerprintStep) == Hash(v2, fingerprintStep) {
		t.Error("two refs to differently-fingerprinted steps must hash differently")
	}
}

func TestHashBytesDeterministic(t *testing.T) {
	t.Parallel()

	b := []byte("some random bits")
	if HashBytes(b) != HashBytes(b) {
		t.Error("HashBytes should be a pure function of its input")
	}
	if len(HashBytes(b)) != Length {
		t.Errorf("HashBytes length = %d, want %d", len(HashBytes(b)), Length)
	}
}

func TestHashKwargsMatchesHashOfMapping(t *testing.T) {
	t.Parallel()

	k := value.KwargMap{"a": value.Primitive(1)}
	want := Hash(value.Mapping(k), noSteps)
	if got := HashKwargs(k, noSteps); got != want {
		t.Errorf("HashKwargs() = %s, want %s", got, want)
	}
}
