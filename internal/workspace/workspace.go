// Package workspace manages the Sanduku runtime directory structure.
// Every session gets its own directory under the workspace root; it is
// the only host path a sandboxed command can write to, and it survives
// across commands within the session.
//
// Default workspace: ~/.sanduku/workspace (configurable via config or
// SANDUKU_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".sanduku/workspace"

// Workspace manages all Sanduku runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.sanduku/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// SessionsDir returns <root>/sessions/. Per-session working directories.
func (w *Workspace) SessionsDir() string {
	return w.dir("sessions")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Session paths ---

// SessionDir returns <root>/sessions/<sessionID>/, created on first use.
// This is the directory mounted at /workspace inside a container session
// and used as the working directory of a subprocess session.
func (w *Workspace) SessionDir(sessionID string) string {
	p := filepath.Join(w.SessionsDir(), sanitizeName(sessionID))
	_ = w.ensureDir(p, 0750)
	return p
}

// RemoveSession deletes one session's working directory.
func (w *Workspace) RemoveSession(sessionID string) error {
	p := filepath.Join(w.SessionsDir(), sanitizeName(sessionID))
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("removing session dir %s: %w", p, err)
	}
	w.mu.Lock()
	delete(w.created, p)
	w.mu.Unlock()
	return nil
}

// --- Cleanup ---

// CleanSessions removes all session working directories.
func (w *Workspace) CleanSessions() error {
	dir := filepath.Join(w.Root, "sessions")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading sessions dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing session entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard workspace directories.
// Call this during first startup.
func (w *Workspace) EnsureAll() error {
	dirs := []string{
		w.SessionsDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
