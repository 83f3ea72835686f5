// Package staging hands out isolated scratch directories for in-flight uploads.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"caff_back/failure"
)

const dirMode = 0o700

// Manager allocates staging directories under a single root.
type Manager struct {
	root string
}

// NewManager ensures root exists and returns a manager for it.
func NewManager(root string) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("staging: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("staging: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, failure.New(failure.IOFailure, fmt.Errorf("staging: create root: %w", err))
	}
	return &Manager{root: abs}, nil
}

// Root returns the directory all handles live under.
func (m *Manager) Root() string {
	return m.root
}

// Allocate creates a fresh directory named by a random UUID. Two calls never
// return the same directory.
func (m *Manager) Allocate() (*Handle, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	// Mkdir fails on an existing path, so a collision surfaces as an error
	// instead of two uploads sharing a directory.
	if err := os.Mkdir(dir, dirMode); err != nil {
		return nil, failure.New(failure.IOFailure, fmt.Errorf("staging: allocate: %w", err))
	}
	return &Handle{id: id, path: dir}, nil
}

// Handle is one allocated staging directory.
type Handle struct {
	id   string
	path string

	once sync.Once
	err  error
}

// ID returns the directory's unique name.
func (h *Handle) ID() string { return h.id }

// Path returns the absolute directory path.
func (h *Handle) Path() string { return h.path }

// Join returns a path inside the directory.
func (h *Handle) Join(elem ...string) string {
	return filepath.Join(append([]string{h.path}, elem...)...)
}

// Release removes the directory and everything in it. Repeated calls return
// the outcome of the first.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if err := os.RemoveAll(h.path); err != nil {
			h.err = failure.New(failure.IOFailure, fmt.Errorf("staging: release %s: %w", h.id, err))
		}
	})
	return h.err
}
