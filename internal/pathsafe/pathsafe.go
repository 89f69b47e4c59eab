// Package pathsafe centralises the single path-containment check every
// component that touches the project directory routes through.
package pathsafe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a candidate path resolves outside the
// project root, whether by traversal (`../`) or by a symlink.
var ErrEscapesRoot = errors.New("pathsafe: path escapes project root")

// ValidateProjectDir checks that dir exists, is a directory, and is an
// absolute path. Relative project roots are rejected outright: every other
// primitive in this package assumes root is already absolute.
func ValidateProjectDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("pathsafe: empty project directory")
	}
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("pathsafe: project directory %q must be absolute", dir)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("pathsafe: resolve project directory: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("pathsafe: stat project directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("pathsafe: %q is not a directory", dir)
	}
	return resolved, nil
}

// ResolveInside joins root and p, then verifies the result is lexically and
// symlink-wise contained in root. p may reference a path that does not yet
// exist (e.g. a file about to be created); only the deepest existing
// ancestor is symlink-resolved.
func ResolveInside(root, p string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("pathsafe: root %q must be absolute", root)
	}
	joined := filepath.Join(root, p)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", ErrEscapesRoot
	}

	resolved, err := resolveExistingPrefix(joined)
	if err != nil {
		return "", fmt.Errorf("pathsafe: resolve %q: %w", p, err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		return "", fmt.Errorf("pathsafe: resolve root: %w", err)
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return "", ErrEscapesRoot
	}
	return joined, nil
}

// resolveExistingPrefix walks up from p until it finds an ancestor that
// exists, resolves symlinks on that ancestor, then re-appends the
// not-yet-existing suffix unresolved.
func resolveExistingPrefix(p string) (string, error) {
	suffix := ""
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}
