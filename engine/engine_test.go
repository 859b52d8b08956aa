package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/keystone/engine/resources"
	"github.com/spaghettifunk/keystone/engine/systems"
)

const triangleOBJ = `o triangle
v 0 0 0
v 1 0 0
v 0 1 0
f 1 2 3
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triangle.obj"), []byte(triangleOBJ), 0o644))

	c := DefaultConfig()
	c.Engine.GCInterval = 2
	c.Engine.MaxFrames = 40
	c.Resources.IndexBufferSize = 4096
	c.Resources.VertexBufferSize = 8192
	c.Resources.TextureDescriptorCapacity = 16
	c.Resources.StorageDescriptorCapacity = 16
	c.Jobs.Workers = 2
	c.Jobs.QueueSize = 8
	c.Assets.BasePath = dir
	c.Assets.Watch = false
	return c
}

// dropGame loads a model on the first frame, blocks on it during the
// second and releases it.
type dropGame struct {
	sm      *systems.SystemManager
	model   resources.AssetPtr[*systems.Model]
	loaded  bool
	dropped bool
}

func (g *dropGame) game() *Game {
	return &Game{
		Name: "engine-test",
		FnInitialize: func(sm *systems.SystemManager) error {
			g.sm = sm
			g.model = resources.NewAssetPtr[*systems.Model]("triangle.obj")
			return nil
		},
		FnUpdate: func(frame FrameInfo) error {
			if frame.Number == 0 {
				g.model.Load(g.sm.Models())
			}
			if frame.Number == 1 {
				m, _ := g.model.Get()
				m.WaitUntilLoaded()
				g.loaded = g.model.IsLoaded()
				g.model.Reset()
				g.dropped = true
			}
			return nil
		},
		FnShutdown: func() error {
			g.model.Reset()
			return nil
		},
	}
}

func TestEngineRunsFramesAndCollects(t *testing.T) {
	g := &dropGame{}
	e, err := New(testConfig(t), g.game())
	require.NoError(t, err)
	assert.Equal(t, EngineStageUninitialized, e.Stage())

	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(40), e.FrameNumber())
	assert.Positive(t, e.AverageFrameTime())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShutDown, e.Stage())

	models, meshes, textures := e.Systems().Models().Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{models, meshes, textures})
	assert.True(t, e.Resources().IsShutdown())

	s := e.Metrics().Snapshot()
	assert.True(t, g.loaded)
	assert.True(t, g.dropped)
	// One model and its mesh.
	assert.Equal(t, uint64(2), s.LoadsScheduled)
	assert.Positive(t, s.GarbageCollections)
	assert.GreaterOrEqual(t, s.DeferredFreesRun, s.DeferredFreesQueued)
}

func TestEngineStopsOnCanceledContext(t *testing.T) {
	c := testConfig(t)
	c.Engine.MaxFrames = 0
	e, err := New(c, nil)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Zero(t, e.FrameNumber())
	require.NoError(t, e.Shutdown())
}

func TestEngineStop(t *testing.T) {
	c := testConfig(t)
	c.Engine.MaxFrames = 0
	var e *Engine
	e, err := New(c, &Game{
		FnUpdate: func(frame FrameInfo) error {
			if frame.Number == 4 {
				e.Stop()
			}
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(5), e.FrameNumber())
	require.NoError(t, e.Shutdown())
}

func TestEngineRejectsOutOfOrderStages(t *testing.T) {
	e, err := New(testConfig(t), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, e.Run(context.Background()), ErrInvalidStage)
	require.NoError(t, e.Initialize())
	assert.ErrorIs(t, e.Initialize(), ErrInvalidStage)

	require.NoError(t, e.Shutdown())
	// A second shutdown is a no-op.
	require.NoError(t, e.Shutdown())
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Jobs.Workers = 0
	_, err := New(c, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
