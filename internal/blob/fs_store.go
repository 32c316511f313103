package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSFileStore is a FileStore backed by a directory tree: one
// subdirectory per category, one file per path.
type FSFileStore struct {
	root string
}

// NewFSFileStore creates a FileStore rooted at the given directory,
// creating it if needed.
func NewFSFileStore(root string) (*FSFileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSFileStore{root: root}, nil
}

var _ FileStore = (*FSFileStore)(nil)

func (s *FSFileStore) resolve(ref Reference) (string, error) {
	if err := ref.validate(); err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(ref.Category), filepath.FromSlash(ref.Path))
	// Keep references inside the root; payload paths come from inbound
	// messages and must not escape.
	if !strings.HasPrefix(full, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("payload reference %s escapes the store root", ref)
	}
	return full, nil
}

func (s *FSFileStore) Upload(ctx context.Context, ref Reference, data []byte) error {
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create payload directory: %w", err)
	}

	// Write via a temp file so a crash never leaves a half-written
	// payload at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), full)
}

func (s *FSFileStore) Download(ctx context.Context, ref Reference) ([]byte, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
