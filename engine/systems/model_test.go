package systems

import (
	"encoding/binary"
	stdmath "math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/keystone/engine/assets"
	"github.com/spaghettifunk/keystone/engine/math"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/resources"
)

const (
	quadMesh    = "quad.quad.painted.[0]"
	triMesh     = "triangle.triangle.painted.[0]"
	checkerName = "checker.png"
)

func TestLoadModelIsSingleFlight(t *testing.T) {
	r := newTestRig(t)

	handles := make([]resources.AssetPtr[*Model], 16)
	var g errgroup.Group
	for i := range handles {
		i := i
		g.Go(func() error {
			handles[i] = resources.NewAssetPtr[*Model]("quad.obj")
			handles[i].Load(r.models)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	r.jobs.Wait()

	first, ok := handles[0].Get()
	require.True(t, ok)
	for _, h := range handles[1:] {
		m, _ := h.Get()
		assert.Same(t, first, m)
	}
	assert.EqualValues(t, 16, first.ReferenceCount())
	// One task each for the model, its mesh and its texture.
	assert.EqualValues(t, 3, r.metrics.LoadsScheduled.Load())
	assert.EqualValues(t, 2, r.metrics.UploadsSubmitted.Load())

	models, meshes, textures := r.models.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{models, meshes, textures})

	for i := range handles {
		handles[i].Reset()
	}
}

func TestModelBecomesReadyWhenUploadsRetire(t *testing.T) {
	r := newTestRig(t)

	a := resources.NewAssetPtr[*Model]("quad.obj")
	b := resources.NewAssetPtr[*Model]("quad.obj")
	a.Load(r.models)
	b.Load(r.models)
	defer a.Reset()
	defer b.Reset()
	r.jobs.Wait()

	model, _ := a.Get()
	assert.Equal(t, ModelStateTransferring, model.State())
	assert.False(t, a.IsLoaded())
	assert.False(t, b.IsLoaded())
	assert.Equal(t, 2, r.backend.Pending())

	r.backend.Complete(1)
	assert.False(t, a.IsLoaded(), "one upload still in flight")

	r.backend.CompleteAll()
	assert.True(t, a.IsLoaded())
	assert.True(t, b.IsLoaded())
	assert.Equal(t, ModelStateReady, model.State())
	assert.EqualValues(t, 2, model.ReferenceCount())

	root := model.Root()
	require.NotNil(t, root)
	assert.Equal(t, metadata.SceneNodeKindGroup, root.Kind)
	require.Len(t, root.Children, 1)
	child := root.Children[0]
	assert.Equal(t, metadata.SceneNodeKindMesh, child.Kind)
	assert.Same(t, root, child.Parent)
	require.Len(t, child.Meshes, 1)
	assert.Equal(t, quadMesh, child.Meshes[0].MeshName)
	assert.Equal(t, []metadata.TextureReference{{Name: checkerName, Kind: metadata.TextureKindDiffuse}}, child.Meshes[0].Textures)
}

func TestWaitUntilLoadedBlocksForTransfers(t *testing.T) {
	r := newTestRig(t)

	model := r.models.AcquireModel("quad.obj")
	defer model.RemoveReference()
	r.jobs.Wait()

	done := make(chan struct{})
	go func() {
		model.WaitUntilLoaded()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("returned before the device finished")
	case <-time.After(20 * time.Millisecond):
	}
	r.backend.CompleteAll()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntilLoaded did not return")
	}
	assert.Equal(t, ModelStateReady, model.State())
}

func TestMeshUploadLayout(t *testing.T) {
	r := newTestRig(t)

	model := r.models.AcquireModel("quad.obj")
	defer model.RemoveReference()
	r.jobs.Wait()
	r.backend.CompleteAll()
	require.True(t, model.IsLoaded())

	mesh, ok := r.models.Mesh(quadMesh)
	require.True(t, ok)
	assert.EqualValues(t, 6, mesh.IndexCount)
	assert.EqualValues(t, 4, mesh.VertexCount)
	assert.Equal(t, resources.Slot{Offset: 0, Size: 24}, mesh.IndexSlot)
	assert.Equal(t, resources.Slot{Offset: 0, Size: 48}, mesh.PositionSlot)
	assert.Equal(t, resources.Slot{Offset: 48, Size: 32}, mesh.NormalUVSlot)
	assert.Zero(t, mesh.NormalUVSlot.Offset%normalUVAlignment)

	assert.InDelta(t, 1, mesh.Bounds[0], 1e-6)
	assert.InDelta(t, 1, mesh.Bounds[1], 1e-6)
	assert.InDelta(t, 0, mesh.Bounds[2], 1e-6)
	assert.InDelta(t, stdmath.Sqrt2, mesh.Bounds[3], 1e-5)

	le := binary.LittleEndian
	idx := r.backend.ReadBuffer(r.ctx.IndexBuffer(), mesh.IndexSlot.Offset, mesh.IndexSlot.Size)
	var indices []uint32
	for i := 0; i < len(idx); i += 4 {
		indices = append(indices, le.Uint32(idx[i:]))
	}
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, indices)

	pos := r.backend.ReadBuffer(r.ctx.VertexBuffer(), mesh.PositionSlot.Offset, mesh.PositionSlot.Size)
	third := mgl32.Vec3{
		stdmath.Float32frombits(le.Uint32(pos[24:])),
		stdmath.Float32frombits(le.Uint32(pos[28:])),
		stdmath.Float32frombits(le.Uint32(pos[32:])),
	}
	assert.Equal(t, mgl32.Vec3{2, 2, 0}, third)

	nuv := r.backend.ReadBuffer(r.ctx.VertexBuffer(), mesh.NormalUVSlot.Offset, mesh.NormalUVSlot.Size)
	normal := math.OctDecode(math.UnpackSnorm2x16(le.Uint32(nuv[0:])))
	assert.InDelta(t, 1, normal.Z(), 1e-3)
	// OBJ texture rows are flipped on import.
	assert.Equal(t, math.PackUnorm2x16(mgl32.Vec2{0, 1}), le.Uint32(nuv[4:]))
}

func TestTextureUploadsMipChain(t *testing.T) {
	r := newTestRig(t)

	model := r.models.AcquireModel("quad.obj")
	defer model.RemoveReference()
	r.jobs.Wait()
	r.backend.CompleteAll()
	require.True(t, model.IsLoaded())

	tex, ok := r.models.Texture(checkerName)
	require.True(t, ok)
	assert.Equal(t, metadata.ImageFormatRGBA8Srgb, tex.Format)
	assert.EqualValues(t, 4, tex.Width)
	assert.EqualValues(t, 3, tex.MipLevels)
	assert.EqualValues(t, 1, tex.DescriptorSlot, "slot 0 is reserved")
	assert.Same(t, tex.Image, r.backend.Descriptor(metadata.DescriptorKindCombinedImageSampler, tex.DescriptorSlot))

	base := r.backend.ReadImage(tex.Image, 0)
	assert.Equal(t, []byte{255, 255, 255, 255, 0, 0, 0, 255}, base[:8])
	for _, level := range []uint32{1, 2} {
		mip := r.backend.ReadImage(tex.Image, level)
		side := 4 >> level
		require.Len(t, mip, side*side*metadata.ImagePixelSize)
		assert.Equal(t, []byte{128, 128, 128, 255}, mip[:4], "level %d", level)
	}
}

func TestGarbageCollectReleasesStagingOnceFinished(t *testing.T) {
	r := newTestRig(t)

	h := resources.NewAssetPtr[*Model]("quad.obj")
	h.Load(r.models)
	defer h.Reset()
	r.jobs.Wait()

	// Global index and vertex buffers plus two staging buffers.
	assert.Equal(t, 4, r.backend.LiveBuffers())
	r.gc(t)
	assert.Equal(t, 4, r.backend.LiveBuffers(), "uploads still in flight")
	assert.Zero(t, r.metrics.StagingFreed.Load())

	r.backend.CompleteAll()
	r.gc(t)
	assert.Equal(t, 2, r.backend.LiveBuffers())
	assert.Zero(t, r.backend.LiveCommandBuffers())
	assert.EqualValues(t, 2, r.metrics.StagingFreed.Load())

	models, _, _ := r.models.Counts()
	assert.Equal(t, 1, models, "still referenced")
}

func TestGarbageCollectDefersDestructionUntilFrameRetires(t *testing.T) {
	r := newTestRig(t)

	h := resources.NewAssetPtr[*Model]("quad.obj")
	h.Load(r.models)
	r.jobs.Wait()
	r.backend.CompleteAll()
	require.True(t, h.IsLoaded())

	r.gc(t)
	models, meshes, textures := r.models.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{models, meshes, textures})

	h.Reset()
	r.gc(t)
	models, meshes, textures = r.models.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{models, meshes, textures}, "erased on the first pass after the last reference")
	assert.EqualValues(t, 3, r.metrics.RecordsDestroyed.Load())

	// Device resources survive until the frame slot comes around again.
	assert.Len(t, r.ctx.IndexMemory().Slots(), 1)
	assert.Equal(t, 1, r.ctx.Descriptors().Live(metadata.DescriptorKindCombinedImageSampler))
	r.ctx.BeginFrame(0)
	r.ctx.BeginFrame(1)
	assert.Len(t, r.ctx.IndexMemory().Slots(), 1)
	assert.Equal(t, 1, r.backend.LiveImages())

	r.ctx.BeginFrame(0)
	assert.Empty(t, r.ctx.IndexMemory().Slots())
	assert.Empty(t, r.ctx.VertexMemory().Slots())
	assert.Zero(t, r.ctx.Descriptors().Live(metadata.DescriptorKindCombinedImageSampler))
	assert.Zero(t, r.backend.LiveImages())
	assert.Zero(t, r.backend.LiveTimelines())

	// A second collection finds nothing left to do.
	r.gc(t)
	assert.EqualValues(t, 3, r.metrics.RecordsDestroyed.Load())
}

func TestGarbageCollectKeepsUnfinishedRecords(t *testing.T) {
	r := newTestRig(t)

	model := r.models.LoadModel("quad.obj")
	r.jobs.Wait()
	require.Zero(t, model.ReferenceCount())

	r.gc(t)
	models, meshes, textures := r.models.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{models, meshes, textures})

	r.backend.CompleteAll()
	r.gc(t)
	models, meshes, textures = r.models.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{models, meshes, textures})
}

func TestAcquiredModelSurvivesCollection(t *testing.T) {
	r := newTestRig(t)

	model := r.models.LoadModel("quad.obj")
	r.jobs.Wait()
	r.backend.CompleteAll()
	require.True(t, model.IsLoaded())
	require.Zero(t, model.ReferenceCount())

	// Found unreferenced and acquired before the collection runs.
	held := r.models.AcquireModel("quad.obj")
	require.Same(t, model, held)
	queued := r.metrics.DeferredFreesQueued.Load()
	r.gc(t)

	got, ok := r.models.Model("quad.obj")
	require.True(t, ok)
	assert.Same(t, held, got)
	_, ok = r.models.Mesh(quadMesh)
	assert.True(t, ok)
	_, ok = r.models.Texture(checkerName)
	assert.True(t, ok)
	assert.Equal(t, queued, r.metrics.DeferredFreesQueued.Load(), "no device frees for a held model")
	assert.True(t, held.IsLoaded())

	held.RemoveReference()
	r.gc(t)
	models, meshes, textures := r.models.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{models, meshes, textures})
}

func TestAcquireRacingCollectionNeverYieldsCollectedRecord(t *testing.T) {
	fatals := captureFatal(t)
	r := newTestRig(t)

	done := make(chan struct{})
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				m := r.models.AcquireModel("quad.obj")
				cur, ok := r.models.Model("quad.obj")
				m.RemoveReference()
				if !ok || cur != m {
					return errors.New("held model was removed from the cache")
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(done)
	}()

	frame := uint32(0)
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		r.backend.CompleteAll()
		r.models.GarbageCollect(false)
		r.ctx.BeginFrame(frame % 2)
		frame++
	}
	require.NoError(t, g.Wait())

	r.jobs.Wait()
	r.backend.CompleteAll()
	r.gc(t)
	models, meshes, textures := r.models.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{models, meshes, textures})
	select {
	case err := <-fatals:
		t.Fatalf("unexpected fatal: %v", err)
	default:
	}
}

func TestGarbageCollectSkipsWhileJobsOutstanding(t *testing.T) {
	r := newTestRig(t)

	release := make(chan struct{})
	r.jobs.Submit(metadata.JobTask{
		Name:    "blocker",
		OnStart: func() error { <-release; return nil },
	})
	assert.False(t, r.models.GarbageCollect(false))
	assert.Zero(t, r.metrics.GarbageCollections.Load())

	close(release)
	r.jobs.Wait()
	assert.True(t, r.models.GarbageCollect(false))
	assert.EqualValues(t, 1, r.metrics.GarbageCollections.Load())
}

func TestSharedTextureOutlivesOneModel(t *testing.T) {
	r := newTestRig(t)

	quad := resources.NewAssetPtr[*Model]("quad.obj")
	tri := resources.NewAssetPtr[*Model]("triangle.obj")
	quad.Load(r.models)
	tri.Load(r.models)
	r.jobs.Wait()
	r.backend.CompleteAll()
	require.True(t, quad.IsLoaded())
	require.True(t, tri.IsLoaded())

	tex, ok := r.models.Texture(checkerName)
	require.True(t, ok)
	assert.EqualValues(t, 2, tex.ReferenceCount())
	// Three tasks per model, minus the texture the second one found.
	assert.EqualValues(t, 5, r.metrics.LoadsScheduled.Load())

	quad.Reset()
	r.gc(t)
	_, ok = r.models.Mesh(quadMesh)
	assert.False(t, ok)
	_, ok = r.models.Mesh(triMesh)
	assert.True(t, ok)
	assert.EqualValues(t, 1, tex.ReferenceCount())
	_, ok = r.models.Texture(checkerName)
	assert.True(t, ok)

	tri.Reset()
	r.gc(t)
	models, meshes, textures := r.models.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{models, meshes, textures})
}

func TestShutdownReportsLeaksWithoutFailing(t *testing.T) {
	r := newTestRig(t)

	h := resources.NewAssetPtr[*Model]("quad.obj")
	h.Load(r.models)
	r.jobs.Wait()

	require.NoError(t, r.models.Shutdown())
	r.shutdown = true
	models, meshes, textures := r.models.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{models, meshes, textures})
	assert.Zero(t, r.backend.Pending(), "shutdown waits for the device")

	// Teardown collection releases immediately.
	h.Reset()
	require.True(t, r.models.GarbageCollect(true))
	assert.Empty(t, r.ctx.IndexMemory().Slots())
	assert.Zero(t, r.backend.LiveImages())
}

func TestLoadFailureIsFatal(t *testing.T) {
	fatals := captureFatal(t)
	r := newTestRig(t)

	model := r.models.LoadModel("missing.obj")
	r.jobs.Wait()

	select {
	case err := <-fatals:
		assert.True(t, errors.Is(err, assets.ErrAssetNotFound), "%v", err)
	case <-time.After(time.Second):
		t.Fatal("missing model did not raise a fatal condition")
	}
	assert.Equal(t, ModelStatePending, model.State())
	assert.Nil(t, model.Root())
}

func TestUnsupportedTextureKindIsRejected(t *testing.T) {
	r := newTestRig(t)

	tex := newTexture(r.ctx, "ambient.png", metadata.TextureKindAmbient)
	err := r.models.loadTexture(tex, &metadata.ImageData{Width: 1, Height: 1, Pixels: []byte{1, 2, 3, 4}})
	assert.True(t, errors.Is(err, metadata.ErrUnsupportedTextureKind))

	tex = newTexture(r.ctx, "short.png", metadata.TextureKindDiffuse)
	err = r.models.loadTexture(tex, &metadata.ImageData{Width: 2, Height: 2, Pixels: []byte{1, 2, 3, 4}})
	assert.True(t, errors.Is(err, ErrInvalidPixels))
}

func TestGenerateMips(t *testing.T) {
	size, levels := math.MipChain(2, 2, metadata.ImagePixelSize)
	chain := make([]byte, size)
	copy(chain, []byte{
		0, 10, 255, 1,
		1, 20, 255, 2,
		2, 30, 0, 3,
		3, 40, 0, 4,
	})
	generateMips(chain, 2, 2, levels)
	// Means are 1.5, 25, 127.5 and 2.5, rounded half up.
	assert.Equal(t, []byte{2, 25, 128, 3}, chain[16:20])
}

func TestMeshName(t *testing.T) {
	assert.Equal(t, "scene.body.[2]", meshName("scene", "body", 2))
	assert.Equal(t, "scene.empty_name.[0]", meshName("scene", "", 0))
}
