// Package workspace confines file-touching tools to a set of allowed roots.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hayahq/haya/internal/errdefs"
)

// Guard validates that paths stay under the allowed roots. Roots are
// resolved through symlinks once at construction; candidate paths are
// resolved per check so a symlink inside a root cannot escape it.
type Guard struct {
	roots []string
}

// NewGuard resolves each root and builds a guard. A root that does not
// exist is an error; an empty root set denies every path.
func NewGuard(roots []string) (*Guard, error) {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %s: %w", root, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("resolve root %s: %w", root, err)
		}
		resolved = append(resolved, real)
	}
	return &Guard{roots: resolved}, nil
}

// Roots returns the resolved allowed roots.
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Resolve returns the symlink-resolved absolute path if it lies under an
// allowed root, or a WorkspaceViolationError. For paths that do not exist
// yet, the nearest existing ancestor is resolved instead so a new file can
// still be created inside a root.
func (g *Guard) Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &errdefs.WorkspaceViolationError{Path: path}
	}
	real, err := resolveExisting(abs)
	if err != nil {
		return "", &errdefs.WorkspaceViolationError{Path: path}
	}
	for _, root := range g.roots {
		if real == root || inside(root, real) {
			return real, nil
		}
	}
	return "", &errdefs.WorkspaceViolationError{Path: path}
}

// resolveExisting resolves symlinks for the longest existing prefix of abs
// and rejoins the non-existent remainder.
func resolveExisting(abs string) (string, error) {
	remainder := ""
	current := abs
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(real, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func inside(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
