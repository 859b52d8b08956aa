package systems

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/keystone/engine/assets"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/headless"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/resources"
)

const quadOBJ = `# unit quad
mtllib quad.mtl
o quad
v 0 0 0
v 2 0 0
v 2 2 0
v 0 2 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
usemtl painted
f 1/1/1 2/2/1 3/3/1 4/4/1
`

const quadMTL = `newmtl painted
Kd 1 1 1
map_Kd checker.png
`

// Same texture as the quad, different geometry.
const triangleOBJ = `mtllib quad.mtl
o triangle
v 0 0 0
v 1 0 0
v 0 1 0
usemtl painted
f 1 2 3
`

type testRig struct {
	dir      string
	backend  *headless.Backend
	ctx      *resources.Context
	jobs     *JobSystem
	catalog  *assets.AssetCatalog
	models   *ModelSystem
	metrics  *core.ResourceMetrics
	shutdown bool
}

func descriptorCapacity(n uint32) [metadata.DescriptorKindCount]uint32 {
	var c [metadata.DescriptorKindCount]uint32
	for i := range c {
		c[i] = n
	}
	return c
}

// newTestRig builds a model system on a manual headless device over an
// asset directory holding a textured quad and a triangle sharing its
// texture.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "quad.obj", []byte(quadOBJ))
	writeFile(t, dir, "triangle.obj", []byte(triangleOBJ))
	writeFile(t, dir, "quad.mtl", []byte(quadMTL))
	writeFile(t, dir, "checker.png", checkerPNG(t, 4, 4))

	capacity := descriptorCapacity(16)
	backend := headless.New(headless.Config{Manual: true, DescriptorCapacity: capacity})
	require.NoError(t, backend.Initialize("systems-test"))

	metrics := &core.ResourceMetrics{}
	ctx, err := resources.NewContext(resources.ContextConfig{
		FramesInFlight:     2,
		IndexBufferSize:    4096,
		VertexBufferSize:   8192,
		DescriptorCapacity: capacity,
		TransferTimeout:    2 * time.Second,
	}, backend, metrics)
	require.NoError(t, err)

	jobs, err := NewJobSystem(4, 16)
	require.NoError(t, err)

	catalog, err := assets.NewAssetCatalog(assets.CatalogConfig{BasePath: dir})
	require.NoError(t, err)

	models, err := NewModelSystem(ctx, jobs, catalog)
	require.NoError(t, err)

	rig := &testRig{
		dir:     dir,
		backend: backend,
		ctx:     ctx,
		jobs:    jobs,
		catalog: catalog,
		models:  models,
		metrics: metrics,
	}
	t.Cleanup(rig.close)
	return rig
}

func (r *testRig) close() {
	if !r.shutdown {
		_ = r.models.Shutdown()
	}
	_ = r.jobs.Shutdown()
	_ = r.backend.WaitIdle()
	r.ctx.Shutdown()
	_ = r.backend.Shutdown()
	r.catalog.Shutdown()
}

// gc runs a collection and fails the test if the pool was busy.
func (r *testRig) gc(t *testing.T) {
	t.Helper()
	r.jobs.Wait()
	require.True(t, r.models.GarbageCollect(false))
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// checkerPNG encodes a w x h image alternating black and white texels.
func checkerPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if (x+y)%2 == 0 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// captureFatal records fatal conditions instead of exiting. Fatals raised
// on worker goroutines cannot be recovered by the test, so they are sent
// on the returned channel.
func captureFatal(t *testing.T) <-chan error {
	t.Helper()
	ch := make(chan error, 16)
	prev := core.SetFatalHandler(func(err error) {
		select {
		case ch <- err:
		default:
		}
	})
	t.Cleanup(func() { core.SetFatalHandler(prev) })
	return ch
}

func panicOnFatal(t *testing.T) {
	t.Helper()
	prev := core.SetFatalHandler(func(err error) { panic(err) })
	t.Cleanup(func() { core.SetFatalHandler(prev) })
}
