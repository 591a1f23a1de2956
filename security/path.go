// Package security keeps file arguments inside the workspace root.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetCleanAbsPath returns path as a cleaned absolute path.
func GetCleanAbsPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// IsWithinAllowedDirectory reports whether path is baseDir or below it.
// Symlinks are resolved for the portion of each path that exists, so a link
// inside the root pointing outside of it is rejected.
func IsWithinAllowedDirectory(path, baseDir string) bool {
	p, err := GetCleanAbsPath(path)
	if err != nil {
		return false
	}
	base, err := GetCleanAbsPath(baseDir)
	if err != nil {
		return false
	}
	p = resolveExisting(p)
	base = resolveExisting(base)

	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-appends the missing tail.
func resolveExisting(p string) string {
	tail := ""
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return p
			}
			return filepath.Join(resolved, tail)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		tail = filepath.Join(filepath.Base(cur), tail)
		cur = parent
	}
}
