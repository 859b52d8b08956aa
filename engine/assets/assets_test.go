package assets

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

func TestCatalogIndexesAndResolves(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models", "tri.obj"), []byte("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	ac, err := NewAssetCatalog(CatalogConfig{BasePath: dir})
	require.NoError(t, err)
	defer ac.Shutdown()

	assert.Equal(t, 1, ac.Len())
	info, ok := ac.Lookup("models/tri.obj")
	require.True(t, ok)
	assert.Equal(t, metadata.ResourceTypeModel, info.Type)

	full, err := ac.Resolve("models/tri.obj")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "models", "tri.obj"), full)

	res, err := ac.LoadAsset("models/tri.obj", nil)
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceTypeModel, res.Type)
	assert.NoError(t, ac.UnloadAsset(res))

	_, err = ac.Resolve("models/missing.obj")
	assert.True(t, errors.Is(err, ErrAssetNotFound))
	_, err = ac.LoadAsset("notes.txt", nil)
	assert.True(t, errors.Is(err, ErrUnknownFileType))
}

func TestCatalogWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	ac, err := NewAssetCatalog(CatalogConfig{BasePath: dir, Watch: true})
	require.NoError(t, err)
	defer ac.Shutdown()

	var mu sync.Mutex
	var seen []string
	ac.OnChange(func(info AssetInfo, op fsnotify.Op) {
		mu.Lock()
		seen = append(seen, info.Path)
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.png"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == "new.png" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := ac.Lookup("new.png")
	assert.True(t, ok)
}

func TestCatalogResolvesFilesAddedAfterStartup(t *testing.T) {
	dir := t.TempDir()
	ac, err := NewAssetCatalog(CatalogConfig{BasePath: dir, Watch: true})
	require.NoError(t, err)
	defer ac.Shutdown()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "textures"), 0o755))
	assert.Eventually(t, func() bool {
		// The new directory has to be watched before files in it are seen.
		assert.NoError(t, os.WriteFile(filepath.Join(dir, "textures", "late.png"), []byte("x"), 0o644))
		assert.NoError(t, os.WriteFile(filepath.Join(dir, "textures", "packed.png.lz4"), []byte("x"), 0o644))
		_, late := ac.Lookup("textures/late.png")
		_, packed := ac.Lookup("textures/packed.png.lz4")
		return late && packed
	}, 2*time.Second, 20*time.Millisecond)

	full, err := ac.Resolve("textures/./late.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "textures", "late.png"), full)

	full, err = ac.Resolve(filepath.Join(dir, "textures", "late.png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "textures", "late.png"), full)

	full, err = ac.Resolve("textures/packed.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "textures", "packed.png.lz4"), full)
}
