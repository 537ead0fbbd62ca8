package format

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var f Default

	want := map[string]any{
		"name":  "widget",
		"count": 3,
		"tags":  []any{"a", "b"},
	}

	if err := f.Write(want, dir); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := f.Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultChecksumStableAcrossRewrites(t *testing.T) {
	t.Parallel()

	var f Default
	dirA := t.TempDir()
	dirB := t.TempDir()

	if err := f.Write("same content", dirA); err != nil {
		t.Fatalf("Write dirA: %v", err)
	}
	if err := f.Write("same content", dirB); err != nil {
		t.Fatalf("Write dirB: %v", err)
	}

	sumA, err := f.Checksum(dirA)
	if err != nil {
		t.Fatalf("Checksum dirA: %v", err)
	}
	sumB, err := f.Checksum(dirB)
	if err != nil {
		t.Fatalf("Checksum dirB: %v", err)
	}
	if sumA != sumB {
		t.Errorf("Checksum should depend only on content, not directory identity: %s != %s", sumA, sumB)
	}

	if err := f.Write("different content", dirB); err != nil {
		t.Fatalf("rewrite dirB: %v", err)
	}
	sumB2, err := f.Checksum(dirB)
	if err != nil {
		t.Fatalf("Checksum dirB after rewrite: %v", err)
	}
	if sumA == sumB2 {
		t.Error("Checksum should change when content changes")
	}
}
