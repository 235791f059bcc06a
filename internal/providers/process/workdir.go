package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// canonicalRoot returns the absolute, symlink-free form of root.
func canonicalRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to stat project root %q: %w", resolved, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project root %q is not a directory", resolved)
	}
	return resolved, nil
}

// ResolveWorkingDir maps a caller supplied ref to a directory inside the
// project root. An empty ref is the root. Relative refs are joined onto the
// root; absolute refs are accepted only when they already lie inside it.
func (s *Spawner) ResolveWorkingDir(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.ContainsRune(ref, 0) {
		return "", fmt.Errorf("%w: ref contains NUL", ErrPathEscape)
	}

	var candidate string
	switch {
	case ref == "":
		candidate = s.root
	case filepath.IsAbs(ref):
		candidate = filepath.Clean(ref)
	default:
		candidate = filepath.Join(s.root, ref)
	}

	// Lexical check first so "../../etc" fails without touching the disk.
	if !within(s.root, candidate) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, ref)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %w: %q", ErrPathEscape, ErrWorkingDirNotFound, ref)
		}
		return "", fmt.Errorf("%w: %q: %v", ErrPathEscape, ref, err)
	}
	if !within(s.root, resolved) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrPathEscape, ref, resolved)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrPathEscape, ref, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", ErrPathEscape, ref)
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
