package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure Store implements CheckpointStore
var _ ports.CheckpointStore = (*file.Store)(nil)

func TestFileStore_Contract(t *testing.T) {
	store := file.New(t.TempDir())
	ports.RunCheckpointStoreContract(t, store)
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, "wf", domain.NewCheckpoint("wf", "flow")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wf.json", entries[0].Name())

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf"}, ids)
}

func TestFileStore_RejectsUnsafeIDs(t *testing.T) {
	dir := t.TempDir()
	store := file.New(filepath.Join(dir, "checkpoints"))
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		assert.Error(t, store.Save(ctx, id, domain.NewCheckpoint(id, "")), "id %q", id)
	}
	_, err := os.Stat(filepath.Join(dir, "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_ListMissingDir(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "missing"))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
