package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Workspace is a request-scoped temp directory. Nothing in it outlives the
// request.
type Workspace struct {
	dir     string
	once    sync.Once
	err     error
	removed bool
	mu      sync.Mutex
}

func NewWorkspace(baseDir string) (*Workspace, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace base: %w", err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, "loqa_req_*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string { return w.dir }

// WriteFile stores data under name inside the workspace and returns its path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		return "", fmt.Errorf("workspace already released")
	}
	path := filepath.Join(w.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write workspace file: %w", err)
	}
	return path, nil
}

// Release removes the directory. Later calls return the first result.
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.removed = true
		w.err = os.RemoveAll(w.dir)
	})
	return w.err
}
