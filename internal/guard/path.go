package guard

import (
	"path/filepath"
	"strings"
)

// PathJail confines file operations to a workspace root.
type PathJail struct {
	root string
}

// NewPathJail creates a jail rooted at the given workspace directory.
// The root is made absolute once at construction.
func NewPathJail(workspace string) *PathJail {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		abs = filepath.Clean(workspace)
	}
	return &PathJail{root: abs}
}

// Root returns the absolute workspace root.
func (j *PathJail) Root() string {
	return j.root
}

// SafePath resolves a user-supplied path against the workspace root and
// returns its absolute form. It rejects NUL bytes and any path whose
// normalized absolute form escapes the root. Absolute inputs are allowed
// only when they satisfy the same containment check.
func (j *PathJail) SafePath(userPath string) (string, error) {
	if strings.ContainsRune(userPath, 0) {
		return "", Securityf("path contains NUL byte")
	}

	p := userPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(j.root, p)
	}
	p = filepath.Clean(p)

	if p == j.root {
		return p, nil
	}
	if !strings.HasPrefix(p, j.root+string(filepath.Separator)) {
		return "", Securityf("path escapes workspace: %s", userPath)
	}
	return p, nil
}

// Contains reports whether an already-absolute path lies within the jail.
func (j *PathJail) Contains(abs string) bool {
	abs = filepath.Clean(abs)
	return abs == j.root || strings.HasPrefix(abs, j.root+string(filepath.Separator))
}
