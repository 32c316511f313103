// Package blob stores the large inbound payloads that are referenced
// from process instances instead of being stored inline.
package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the referenced payload does not exist.
var ErrNotFound = errors.New("payload not found")

// Reference addresses one stored payload: a category (one per process
// family) and a path within it.
type Reference struct {
	Category string
	Path     string
}

func (r Reference) String() string {
	return r.Category + "/" + r.Path
}

func (r Reference) validate() error {
	if r.Category == "" {
		return fmt.Errorf("payload reference: category is required")
	}
	if r.Path == "" {
		return fmt.Errorf("payload reference: path is required")
	}
	return nil
}

// FileStore stores and retrieves payloads by reference. Uploads are
// write-once: uploading to an existing reference overwrites, which is
// safe because payload paths embed the transaction they belong to.
type FileStore interface {
	Upload(ctx context.Context, ref Reference, data []byte) error
	Download(ctx context.Context, ref Reference) ([]byte, error)
}
