package squash

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolve maps a requested filename to a path confined to dir. Directory
// components of requested are dropped; hidden names and names that would still
// land outside dir fail with ErrPathTraversal.
func Resolve(dir, requested string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(requested, `\`, "/"))
	if name == "" || name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, requested)
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory %s: %w", dir, err)
	}
	resolved, err := filepath.Abs(filepath.Join(root, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", requested, err)
	}

	if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, requested)
	}
	return resolved, nil
}
