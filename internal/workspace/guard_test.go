package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hayahq/haya/internal/errdefs"
)

func TestResolveInsideRoot(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(file, []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}

	g, err := NewGuard([]string{root})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	got, err := g.Resolve(file)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := filepath.EvalSymlinks(file)
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	g, err := NewGuard([]string{root})
	if err != nil {
		t.Fatal(err)
	}

	tests := []string{
		filepath.Join(root, "..", "outside.txt"),
		"/etc/passwd",
		filepath.Dir(root),
	}
	for _, path := range tests {
		_, err := g.Resolve(path)
		var violation *errdefs.WorkspaceViolationError
		if !errors.As(err, &violation) {
			t.Errorf("Resolve(%q) err = %v, want WorkspaceViolationError", path, err)
		}
	}
}

func TestResolveSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	g, err := NewGuard([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Resolve(link); err == nil {
		t.Error("Resolve followed a symlink out of the root without error")
	}
}

func TestResolveNewFile(t *testing.T) {
	root := t.TempDir()
	g, err := NewGuard([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "sub", "new.txt")
	if _, err := g.Resolve(path); err != nil {
		t.Errorf("Resolve for a not-yet-created file under the root: %v", err)
	}
}

func TestEmptyRootsDenyEverything(t *testing.T) {
	g, err := NewGuard(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Resolve(t.TempDir()); err == nil {
		t.Error("guard with no roots allowed a path")
	}
}
