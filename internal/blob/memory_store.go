package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryFileStore is a goroutine-safe in-memory FileStore.
type MemoryFileStore struct {
	mu    sync.RWMutex
	blobs map[Reference][]byte
}

// NewMemoryFileStore creates an empty MemoryFileStore.
func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{blobs: make(map[Reference][]byte)}
}

var _ FileStore = (*MemoryFileStore)(nil)

func (s *MemoryFileStore) Upload(ctx context.Context, ref Reference, data []byte) error {
	if err := ref.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryFileStore) Download(ctx context.Context, ref Reference) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
