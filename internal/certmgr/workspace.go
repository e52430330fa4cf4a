package certmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	certderrors "certd/internal/errors"
)

const (
	workspaceMode = 0o700
	artifactMode  = 0o600
)

// WorkspaceStore hands out private directories for certificate and key
// files under a base path.
type WorkspaceStore struct {
	base      string
	writeFile func(name string, data []byte, perm os.FileMode) error
	removeAll func(path string) error
}

func NewWorkspaceStore(base string) *WorkspaceStore {
	return &WorkspaceStore{base: base, writeFile: os.WriteFile, removeAll: os.RemoveAll}
}

// Create makes a new owner-only directory with a random name.
func (s *WorkspaceStore) Create() (*Workspace, error) {
	dir := filepath.Join(s.base, uuid.NewString())
	if err := os.Mkdir(dir, workspaceMode); err != nil {
		return nil, fmt.Errorf("%w: could not create temporary folder for certificate files: %v", certderrors.ErrIO, err)
	}
	// Mkdir honors the umask.
	if err := os.Chmod(dir, workspaceMode); err != nil {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("%w: could not restrict temporary folder %s: %v", certderrors.ErrIO, dir, err)
	}
	return &Workspace{dir: dir, writeFile: s.writeFile, removeAll: s.removeAll}, nil
}

// Workspace is owned by a single operation.
type Workspace struct {
	dir       string
	writeFile func(name string, data []byte, perm os.FileMode) error
	removeAll func(path string) error
}

func (w *Workspace) Dir() string {
	return w.dir
}

func (w *Workspace) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid artifact name %q", certderrors.ErrIllegalState, name)
	}
	return filepath.Join(w.dir, name), nil
}

// Write stores data as name with mode 0600, replacing any previous content,
// and returns the file's path.
func (w *Workspace) Write(name string, data []byte) (string, error) {
	p, err := w.path(name)
	if err != nil {
		return "", err
	}
	if err := w.writeFile(p, data, artifactMode); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", certderrors.ErrIO, name, err)
	}
	if err := os.Chmod(p, artifactMode); err != nil {
		return "", fmt.Errorf("%w: restrict %s: %v", certderrors.ErrIO, name, err)
	}
	return p, nil
}

// Remove deletes a single artifact.
func (w *Workspace) Remove(name string) error {
	p, err := w.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("%w: delete %s: %w", certderrors.ErrIO, p, err)
	}
	return nil
}

// RemoveDir deletes the directory, which must already be empty.
func (w *Workspace) RemoveDir() error {
	if err := os.Remove(w.dir); err != nil {
		return fmt.Errorf("%w: delete %s: %v", certderrors.ErrIO, w.dir, err)
	}
	return nil
}

// Destroy removes the directory and everything in it. Destroying twice is
// not an error.
func (w *Workspace) Destroy() error {
	if err := w.removeAll(w.dir); err != nil {
		return fmt.Errorf("%w: failed to delete temporary folder with certificate files: %v", certderrors.ErrIO, err)
	}
	return nil
}
