// Package workspace manages the single-use directory a run works in.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Workspace is an ephemeral directory owned by exactly one run.
type Workspace struct {
	root string

	once     sync.Once
	closeErr error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// New creates the workspace for runID under baseDir. An empty baseDir uses
// the system temporary directory.
func New(baseDir, runID string) (*Workspace, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	root := filepath.Join(baseDir, "run-"+runID)
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ws := &Workspace{root: root}
	for _, dir := range []string{ws.Source(), ws.Env()} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	return ws, nil
}

func (w *Workspace) Root() string { return w.root }

// Source is where the repository snapshot is placed.
func (w *Workspace) Source() string { return filepath.Join(w.root, "src") }

// Env is where the interpreter environment is provisioned.
func (w *Workspace) Env() string { return filepath.Join(w.root, "env") }

// Close removes the workspace. Calling it more than once is safe.
func (w *Workspace) Close() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.root); err != nil {
			w.closeErr = fmt.Errorf("remove workspace: %w", err)
		}
	})
	return w.closeErr
}
