package runtimedir_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/consolekit-go/ckd/internal/runtimedir"
)

func TestEnsureAndTeardown(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p := runtimedir.New(root, false, 0)

	dir, err := p.Ensure(1000, 1000)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	want := filepath.Join(root, "1000")
	if dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("dir not created: %v", err)
	}

	if err := p.Teardown(1000); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("dir still exists after teardown")
	}
}

func TestPathDeterministic(t *testing.T) {
	t.Parallel()

	p := runtimedir.New("/run/user", false, 0)
	if got, want := p.Path(42), "/run/user/42"; got != want {
		t.Errorf("Path(42) = %q, want %q", got, want)
	}
}
