package testbed

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/keystone/engine"
)

func assetRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "assets")
}

func TestTestbedChurnsAndShutsDownClean(t *testing.T) {
	config := engine.DefaultConfig()
	config.Engine.MaxFrames = 200
	config.Engine.GCInterval = 5
	config.Assets.BasePath = assetRoot(t)
	config.Assets.Watch = false
	config.Resources.IndexBufferSize = 1 << 20
	config.Resources.VertexBufferSize = 1 << 22

	tg := NewTestGame(42)
	e, err := engine.New(config, tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))
	require.NoError(t, e.Shutdown())

	state := tg.state()
	assert.GreaterOrEqual(t, state.loads, uint64(entityCount))
	for _, ent := range state.entities {
		assert.False(t, ent.model.IsBound())
	}

	models, meshes, textures := e.Systems().Models().Counts()
	assert.Zero(t, models+meshes+textures)
	s := e.Metrics().Snapshot()
	assert.Positive(t, s.GarbageCollections)
}
