package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forEachFileStore(t *testing.T, fn func(t *testing.T, store FileStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryFileStore())
	})
	t.Run("fs", func(t *testing.T) {
		store, err := NewFSFileStore(t.TempDir())
		require.NoError(t, err)
		fn(t, store)
	})
}

func TestFileStore_UploadDownloadRoundTrip(t *testing.T) {
	forEachFileStore(t, func(t *testing.T, store FileStore) {
		ctx := context.Background()
		ref := Reference{Category: "send-measurements", Path: "2025/02/txn-1.json"}

		require.NoError(t, store.Upload(ctx, ref, []byte(`{"values":[1,2,3]}`)))

		got, err := store.Download(ctx, ref)
		require.NoError(t, err)
		assert.JSONEq(t, `{"values":[1,2,3]}`, string(got))

		// Re-upload overwrites.
		require.NoError(t, store.Upload(ctx, ref, []byte(`{"values":[4]}`)))
		got, err = store.Download(ctx, ref)
		require.NoError(t, err)
		assert.JSONEq(t, `{"values":[4]}`, string(got))
	})
}

func TestFileStore_DownloadUnknownReference(t *testing.T) {
	forEachFileStore(t, func(t *testing.T, store FileStore) {
		_, err := store.Download(context.Background(), Reference{Category: "send-measurements", Path: "missing.json"})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFileStore_RejectsInvalidReferences(t *testing.T) {
	forEachFileStore(t, func(t *testing.T, store FileStore) {
		ctx := context.Background()
		require.Error(t, store.Upload(ctx, Reference{Path: "p"}, nil))
		require.Error(t, store.Upload(ctx, Reference{Category: "c"}, nil))
	})
}

func TestFSFileStore_RejectsEscapingPaths(t *testing.T) {
	store, err := NewFSFileStore(t.TempDir())
	require.NoError(t, err)

	err = store.Upload(context.Background(), Reference{Category: "c", Path: "../../etc/passwd"}, []byte("x"))
	require.Error(t, err)
}
