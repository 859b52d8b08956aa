package systems

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/assets"
	"github.com/spaghettifunk/keystone/engine/containers"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/resources"
)

var ErrMissingRecord = errors.New("model references a record that does not exist")

type ModelState int32

const (
	// ModelStatePending means the load task is scheduled or running.
	ModelStatePending ModelState = iota
	// ModelStateTransferring means the hierarchy is built and every
	// constituent upload is scheduled.
	ModelStateTransferring
	// ModelStateReady means every constituent reached the device.
	ModelStateReady
)

func (s ModelState) String() string {
	switch s {
	case ModelStateTransferring:
		return "transferring"
	case ModelStateReady:
		return "ready"
	default:
		return "pending"
	}
}

// Model is a loaded model hierarchy. Its meshes and textures are shared
// records owned by the ModelSystem, each holding one reference per mesh
// reference of the hierarchy.
type Model struct {
	resources.RefCount

	Path string

	system      *ModelSystem
	state       atomic.Int32
	root        *metadata.SceneNode
	constructed chan struct{}
}

func (m *Model) State() ModelState {
	return ModelState(m.state.Load())
}

// Root returns the hierarchy, nil until the load task built it.
func (m *Model) Root() *metadata.SceneNode {
	if m.State() == ModelStatePending {
		return nil
	}
	return m.root
}

// IsLoaded reports whether every mesh and texture of the model is resident.
// The first call that observes it promotes the model to ready.
func (m *Model) IsLoaded() bool {
	switch m.State() {
	case ModelStatePending:
		return false
	case ModelStateReady:
		return true
	}
	if !m.system.constituentsFinished(m) {
		return false
	}
	if m.state.CompareAndSwap(int32(ModelStateTransferring), int32(ModelStateReady)) {
		core.LogDebug("model %s ready", m.Path)
	}
	return true
}

// WaitUntilLoaded blocks until the model is ready. Not getting there within
// the transfer timeout is fatal.
func (m *Model) WaitUntilLoaded() {
	timeout := m.system.ctx.Config().TransferTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.constructed:
	case <-timer.C:
		core.Fatal(errors.Wrapf(resources.ErrTransferTimeout, "model %s not constructed after %s", m.Path, timeout))
		return
	}
	m.system.forEachConstituent(m, func(mesh *Mesh) {
		mesh.WaitUntilFinished()
	}, func(tex *Texture) {
		tex.WaitUntilFinished()
	})
	core.Verify(m.IsLoaded(), "model %s not loaded after waiting for its uploads", m.Path)
}

// ModelSystem caches models, meshes and textures by name. Each name is
// loaded at most once, however many callers ask for it concurrently, and
// stays resident until garbage collection finds it unreferenced and fully
// uploaded.
type ModelSystem struct {
	ctx     *resources.Context
	jobs    *JobSystem
	catalog *assets.AssetCatalog

	models   *containers.ConcurrentMap[string, *Model]
	meshes   *containers.ConcurrentMap[string, *Mesh]
	textures *containers.ConcurrentMap[string, *Texture]

	gcMu sync.Mutex
}

func NewModelSystem(ctx *resources.Context, jobs *JobSystem, catalog *assets.AssetCatalog) (*ModelSystem, error) {
	if ctx == nil || jobs == nil || catalog == nil {
		err := errors.AssertionFailedf("NewModelSystem - context, job system and catalog are required")
		core.LogError(err.Error())
		return nil, err
	}
	return &ModelSystem{
		ctx:      ctx,
		jobs:     jobs,
		catalog:  catalog,
		models:   containers.NewConcurrentMap[string, *Model](containers.StringHasher),
		meshes:   containers.NewConcurrentMap[string, *Mesh](containers.StringHasher),
		textures: containers.NewConcurrentMap[string, *Texture](containers.StringHasher),
	}, nil
}

// LoadModel returns the record for path without blocking or taking a
// reference. The caller that creates the record schedules its load. An
// unreferenced record may be collected at any time, so callers that keep
// the model use AcquireModel.
func (ms *ModelSystem) LoadModel(path string) *Model {
	return ms.acquireModel(path, func(*Model) {})
}

// AcquireModel is LoadModel with one reference taken for the caller while
// the record is still guarded against collection.
func (ms *ModelSystem) AcquireModel(path string) *Model {
	return ms.acquireModel(path, func(m *Model) { m.AddReference() })
}

// AcquireAsset lets AssetPtr handles bind to models.
func (ms *ModelSystem) AcquireAsset(path string) *Model {
	return ms.AcquireModel(path)
}

func (ms *ModelSystem) acquireModel(path string, onAcquire func(*Model)) *Model {
	model, inserted := ms.models.Acquire(path, func() *Model {
		return &Model{Path: path, system: ms, constructed: make(chan struct{})}
	}, onAcquire)
	if inserted {
		ms.schedule(path, metadata.JOB_TYPE_RESOURCE_LOAD, func() error {
			return ms.loadModel(model)
		})
	}
	return model
}

func (ms *ModelSystem) Model(path string) (*Model, bool) {
	return ms.models.Load(path)
}

func (ms *ModelSystem) Mesh(name string) (*Mesh, bool) {
	return ms.meshes.Load(name)
}

func (ms *ModelSystem) Texture(name string) (*Texture, bool) {
	return ms.textures.Load(name)
}

// Counts returns the number of model, mesh and texture records.
func (ms *ModelSystem) Counts() (models, meshes, textures int) {
	return ms.models.Len(), ms.meshes.Len(), ms.textures.Len()
}

func (ms *ModelSystem) schedule(name string, jobType metadata.JobType, fn func() error) {
	ms.ctx.Metrics().LoadsScheduled.Add(1)
	ms.jobs.AddWorkNonBlocking(metadata.JobTask{
		Name:    name,
		JobType: jobType,
		OnStart: fn,
		OnFailure: func(err error) {
			core.Fatal(errors.Wrapf(err, "loading %s", name))
		},
	})
}

func (ms *ModelSystem) loadModel(model *Model) error {
	core.LogInfo("loading model - %s", model.Path)
	full, err := ms.catalog.Resolve(model.Path)
	if err != nil {
		return err
	}
	scene, err := ms.catalog.Models().Import(full)
	if err != nil {
		return err
	}

	model.root = ms.processNode(model, scene, scene.Root)
	model.state.Store(int32(ModelStateTransferring))
	close(model.constructed)
	core.LogInfo("finished loading model - %s", model.Path)
	return nil
}

// processNode converts one imported node and its subtree. Nodes without
// meshes become group nodes.
func (ms *ModelSystem) processNode(model *Model, scene *metadata.ImportedScene, node *metadata.ImportedNode) *metadata.SceneNode {
	out := &metadata.SceneNode{
		Name:      node.Name,
		Kind:      metadata.SceneNodeKindGroup,
		Transform: node.Transform,
	}
	if len(node.MeshIndices) > 0 {
		out.Kind = metadata.SceneNodeKindMesh
		for _, idx := range node.MeshIndices {
			out.Meshes = append(out.Meshes, ms.processMesh(model, scene, idx))
		}
	}
	for _, child := range node.Children {
		out.AddChild(ms.processNode(model, scene, child))
	}
	return out
}

func (ms *ModelSystem) processMesh(model *Model, scene *metadata.ImportedScene, idx int) metadata.MeshReference {
	data := &scene.Meshes[idx]
	name := meshName(scene.Name, data.Name, idx)

	mesh, inserted := ms.meshes.Acquire(name, func() *Mesh {
		return newMesh(ms.ctx, name)
	}, func(m *Mesh) { m.AddReference() })
	if inserted {
		ms.schedule(name, metadata.JOB_TYPE_GPU_RESOURCE, func() error {
			return ms.loadMesh(mesh, data)
		})
	}

	ref := metadata.MeshReference{MeshName: name}
	if data.MaterialIndex < 0 || data.MaterialIndex >= len(scene.Materials) {
		return ref
	}
	for _, t := range scene.Materials[data.MaterialIndex].Textures {
		ref.Textures = append(ref.Textures, ms.processTexture(model, scene, t))
	}
	return ref
}

func (ms *ModelSystem) processTexture(model *Model, scene *metadata.ImportedScene, t metadata.ImportedTexture) metadata.TextureReference {
	var name string
	if t.Embedded != nil {
		name = scene.Name + "." + t.Name
	} else {
		name = filepath.Join(filepath.Dir(model.Path), t.Name)
	}

	tex, inserted := ms.textures.Acquire(name, func() *Texture {
		return newTexture(ms.ctx, name, t.Kind)
	}, func(tx *Texture) { tx.AddReference() })
	if inserted {
		embedded := t.Embedded
		ms.schedule(name, metadata.JOB_TYPE_GPU_RESOURCE, func() error {
			if embedded != nil {
				return ms.loadEmbeddedTexture(tex, embedded)
			}
			return ms.loadFileTexture(tex, name)
		})
	}
	return metadata.TextureReference{Name: name, Kind: t.Kind}
}

// forEachConstituent calls onMesh and onTexture once per reference in the
// hierarchy of model.
func (ms *ModelSystem) forEachConstituent(model *Model, onMesh func(*Mesh), onTexture func(*Texture)) {
	for _, ref := range model.root.MeshReferences() {
		if mesh, ok := ms.meshes.Load(ref.MeshName); ok {
			onMesh(mesh)
		} else {
			core.Fatal(errors.Wrapf(ErrMissingRecord, "%s: mesh %s", model.Path, ref.MeshName))
		}
		for _, tr := range ref.Textures {
			if tex, ok := ms.textures.Load(tr.Name); ok {
				onTexture(tex)
			} else {
				core.Fatal(errors.Wrapf(ErrMissingRecord, "%s: texture %s", model.Path, tr.Name))
			}
		}
	}
}

func (ms *ModelSystem) constituentsFinished(model *Model) bool {
	finished := true
	ms.forEachConstituent(model, func(mesh *Mesh) {
		finished = finished && mesh.IsFinished()
	}, func(tex *Texture) {
		finished = finished && tex.IsFinished()
	})
	return finished
}

// GarbageCollect reclaims what nothing references any more. It only runs
// while no load task is outstanding and reports whether it ran.
//
// The first pass releases staging buffers of finished uploads. The second
// runs for fully uploaded models without references: it drops the model's
// reference on each constituent and destroys those that reach zero. With
// teardown set, device resources are released right away instead of after
// the frames in flight retire.
func (ms *ModelSystem) GarbageCollect(teardown bool) bool {
	if !ms.jobs.Idle() {
		return false
	}
	ms.gcMu.Lock()
	defer ms.gcMu.Unlock()
	ms.ctx.Metrics().GarbageCollections.Add(1)

	ms.models.Range(func(path string, model *Model) bool {
		if model.State() == ModelStatePending {
			return true
		}
		if !ms.collectStaging(model) || model.ReferenceCount() != 0 {
			return true
		}
		// A handle may have acquired the model since the check above.
		if !ms.models.DeleteIf(path, unreferenced[*Model]) {
			return true
		}
		model.IsLoaded()
		ms.releaseConstituents(model, teardown)
		ms.ctx.Metrics().RecordsDestroyed.Add(1)
		core.LogDebug("GC'd model %s", path)
		return true
	})
	return true
}

// collectStaging frees the staging resources of every finished upload of
// model and reports whether all of them finished.
func (ms *ModelSystem) collectStaging(model *Model) bool {
	loaded := true
	collect := func(name string, u *upload) {
		if !u.IsFinished() {
			loaded = false
			return
		}
		if frees := u.takeStaging(); frees != nil {
			ms.ctx.Release(true, frees...)
			ms.ctx.Metrics().StagingFreed.Add(1)
			core.LogDebug("GC'd staging buffer %s", name)
		}
	}
	ms.forEachConstituent(model, func(mesh *Mesh) {
		collect(mesh.Name, &mesh.upload)
	}, func(tex *Texture) {
		collect(tex.Name, &tex.upload)
	})
	return loaded
}

func (ms *ModelSystem) releaseConstituents(model *Model, teardown bool) {
	ms.forEachConstituent(model, func(mesh *Mesh) {
		if mesh.RemoveReference() != 1 || !ms.meshes.DeleteIf(mesh.Name, unreferenced[*Mesh]) {
			return
		}
		ms.ctx.Release(teardown, mesh.frees()...)
		ms.ctx.Metrics().RecordsDestroyed.Add(1)
		core.LogDebug("GC'd mesh %s", mesh.Name)
	}, func(tex *Texture) {
		if tex.RemoveReference() != 1 || !ms.textures.DeleteIf(tex.Name, unreferenced[*Texture]) {
			return
		}
		ms.ctx.Release(teardown, tex.frees()...)
		ms.ctx.Metrics().RecordsDestroyed.Add(1)
		core.LogDebug("GC'd texture %s", tex.Name)
	})
}

// Shutdown waits for outstanding loads and uploads, collects everything
// unreferenced and reports any record left behind.
func (ms *ModelSystem) Shutdown() error {
	ms.jobs.Wait()
	if err := ms.ctx.Backend().WaitIdle(); err != nil {
		core.LogError("model system: waiting for device: %s", err)
	}
	ms.GarbageCollect(true)

	core.VerifyNonFatal(ms.textures.Len() == 0, "%d textures leaked: %v", ms.textures.Len(), sorted(ms.textures.Keys()))
	core.VerifyNonFatal(ms.meshes.Len() == 0, "%d meshes leaked: %v", ms.meshes.Len(), sorted(ms.meshes.Keys()))
	core.VerifyNonFatal(ms.models.Len() == 0, "%d models leaked: %v", ms.models.Len(), sorted(ms.models.Keys()))
	return nil
}

// unreferenced is the removal condition of every cached record. It is
// evaluated under the cache lock that acquisitions take.
func unreferenced[T interface{ ReferenceCount() uint64 }](v T) bool {
	return v.ReferenceCount() == 0
}

func sorted(keys []string) []string {
	sort.Strings(keys)
	return keys
}
