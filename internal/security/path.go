// Package security provides path validation used to confine agent tool
// access to a configured folder scope (CWE-22 path traversal prevention).
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutOfScope indicates a path resolved outside the allowed folder scope.
var ErrOutOfScope = errors.New("path outside allowed scope")

// Scope validates file paths against an allow-list of root directories.
// An empty allow-list permits only the vault root it was created with.
type Scope struct {
	roots []string
}

// NewScope creates a Scope rooted at vaultRoot plus any additional allowed
// directories. All roots are resolved to absolute paths up front.
func NewScope(vaultRoot string, extra ...string) (*Scope, error) {
	if vaultRoot == "" {
		return nil, fmt.Errorf("vault root is required")
	}

	roots := make([]string, 0, len(extra)+1)
	for _, dir := range append([]string{vaultRoot}, extra...) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving scope root %s: %w", dir, err)
		}
		roots = append(roots, filepath.Clean(abs))
	}

	return &Scope{roots: roots}, nil
}

// Validate cleans and resolves path and reports whether it lies within the
// scope. It returns the safe absolute path, following symlinks so that a
// link inside the scope cannot point execution outside it. Paths that do
// not exist yet are accepted if their lexical location is in scope, which
// allows tools to create new files.
func (s *Scope) Validate(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !s.contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrOutOfScope, abs)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// New file: lexical check above is all we can do.
			return abs, nil
		}
		return "", fmt.Errorf("resolving symlinks: %w", err)
	}

	if real != abs && !s.contains(real) {
		return "", fmt.Errorf("%w: symlink target %s", ErrOutOfScope, real)
	}

	return real, nil
}

// contains reports whether abs is equal to or below one of the scope roots.
func (s *Scope) contains(abs string) bool {
	withSep := filepath.Clean(abs) + string(filepath.Separator)
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(withSep, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Roots returns a copy of the allowed root directories.
func (s *Scope) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}
