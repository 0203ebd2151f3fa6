package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps artifacts as files in a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed. An empty dir means a fresh directory
// under the system temp dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "txingest-uploads-")
		if err != nil {
			return nil, fmt.Errorf("NewLocalStore: creating temp dir: %w", err)
		}
		dir = tmp
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("NewLocalStore: creating %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("NewLocalStore: resolving %s: %w", dir, err)
	}
	return &LocalStore{dir: abs}, nil
}

// Dir returns the directory holding the artifacts.
func (s *LocalStore) Dir() string { return s.dir }

// Save implements Store.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, uniqueName(name))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("Save: creating %s: %w", path, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("Save: writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("Save: closing %s: %w", path, err)
	}

	return path, nil
}

// Read implements Store.
func (s *LocalStore) Read(ctx context.Context, ref string) ([]byte, error) {
	if err := s.check(ref); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	return data, nil
}

// Remove implements Store.
func (s *LocalStore) Remove(ctx context.Context, ref string) error {
	if err := s.check(ref); err != nil {
		return err
	}
	if err := os.Remove(ref); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}

// Adopt moves an existing file into the store and returns its reference.
func (s *LocalStore) Adopt(path string) (string, error) {
	dst := filepath.Join(s.dir, uniqueName(filepath.Base(path)))
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("Adopt: moving %s: %w", path, err)
	}
	return dst, nil
}

func (s *LocalStore) check(ref string) error {
	rel, err := filepath.Rel(s.dir, filepath.Clean(ref))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("artifact %q is outside %s", ref, s.dir)
	}
	return nil
}

var _ Store = (*LocalStore)(nil)
