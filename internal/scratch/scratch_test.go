package scratch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abcxyz/stepgraph/internal/fsabs"
)

func TestEphemeralCreatesAndCleansUp(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	tr := NewTracker(&fsabs.RealFS{})

	dir, cleanup, err := tr.Ephemeral(base, "deadbeef")
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("scratch dir should exist after Ephemeral: %v", err)
	}
	if filepath.Dir(dir) != base {
		t.Errorf("scratch dir %s should live directly under base %s", dir, base)
	}

	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("scratch dir should be removed after cleanup, stat err = %v", err)
	}
}

func TestPersistentIsIdempotentAndNeverCleaned(t *testing.T) {
	t.Parallel()

	stepDir := t.TempDir()
	tr := NewTracker(&fsabs.RealFS{})

	dir1, err := tr.Persistent(stepDir)
	if err != nil {
		t.Fatalf("Persistent (first call): %v", err)
	}

	marker := filepath.Join(dir1, "marker.txt")
	if err := os.WriteFile(marker, []byte("hello"), 0o600); err != nil {
		t.Fatalf("writing marker: %v", err)
	}

	dir2, err := tr.Persistent(stepDir)
	if err != nil {
		t.Fatalf("Persistent (second call): %v", err)
	}
	if dir1 != dir2 {
		t.Errorf("Persistent should return the same path across calls: %s != %s", dir1, dir2)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Errorf("Persistent must not disturb existing contents: %v", err)
	}
}
