package fstools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that resolve outside the backend root.
var ErrOutsideRoot = errors.New("path is outside the workspace root")

// Backend resolves tool paths against a root directory.
type Backend struct {
	root        string
	virtualMode bool
}

// NewBackend creates a backend rooted at root (the working directory when empty).
func NewBackend(root string, virtualMode bool) (*Backend, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}
	return &Backend{root: abs, virtualMode: virtualMode}, nil
}

// Root returns the absolute root directory.
func (b *Backend) Root() string {
	return b.root
}

// VirtualMode reports whether paths are confined to the root.
func (b *Backend) VirtualMode() bool {
	return b.virtualMode
}

// Resolve maps a tool path to a filesystem path.
func (b *Backend) Resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "/"
	}
	if strings.Contains(p, "://") {
		return "", fmt.Errorf("path must be a local file")
	}

	if !b.virtualMode {
		if filepath.IsAbs(p) {
			return filepath.Clean(p), nil
		}
		return filepath.Join(b.root, p), nil
	}

	if strings.HasPrefix(p, "~") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, p)
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrOutsideRoot, p)
		}
	}

	full := filepath.Join(b.root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
	rel, err := filepath.Rel(b.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, p)
	}
	return full, nil
}

// Display maps a filesystem path back to the form shown to the model.
func (b *Backend) Display(full string) string {
	if !b.virtualMode {
		return full
	}
	rel, err := filepath.Rel(b.root, full)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
