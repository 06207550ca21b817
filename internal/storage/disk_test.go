package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiskStore(t *testing.T) (*DiskStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewDiskStore(filepath.Join(root, "staging"), filepath.Join(root, "artifacts"))
	require.NoError(t, err)
	return store, root
}

func TestDiskStoreCreatesDirectories(t *testing.T) {
	_, root := newDiskStore(t)

	for _, dir := range []string{"staging", "artifacts"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDiskStoreSaveOverwritesChunk(t *testing.T) {
	store, _ := newDiskStore(t)
	ctx := context.Background()

	first := []byte("first delivery")
	second := []byte("second delivery")

	require.NoError(t, store.SaveChunk(ctx, "up-1", 0, bytes.NewReader(first), int64(len(first))))
	require.NoError(t, store.SaveChunk(ctx, "up-1", 0, bytes.NewReader(second), int64(len(second))))

	rc, err := store.OpenChunk(ctx, "up-1", 0)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, second, got, "re-delivery replaces staged bytes")
}

func TestDiskStoreOpenMissingChunk(t *testing.T) {
	store, _ := newDiskStore(t)

	_, err := store.OpenChunk(context.Background(), "up-x", 3)
	assert.Error(t, err)
}

func TestDiskStoreDeleteChunks(t *testing.T) {
	store, root := newDiskStore(t)
	ctx := context.Background()

	for idx := 0; idx < 3; idx++ {
		require.NoError(t, store.SaveChunk(ctx, "up-del", idx, bytes.NewReader([]byte("data")), 4))
	}

	require.NoError(t, store.DeleteChunks(ctx, "up-del"))

	_, err := os.Stat(filepath.Join(root, "staging", "up-del"))
	assert.True(t, os.IsNotExist(err))

	// Deleting an unknown upload is not an error.
	assert.NoError(t, store.DeleteChunks(ctx, "never-seen"))
}

func TestDiskStoreWriteArtifact(t *testing.T) {
	store, root := newDiskStore(t)

	data := bytes.Repeat([]byte("payload"), 1000)
	written, err := store.WriteArtifact(context.Background(), "abc123.bin", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), written)

	got, err := os.ReadFile(filepath.Join(root, "artifacts", "abc123.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "artifacts"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
