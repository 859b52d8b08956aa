package resources

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

const (
	DefaultFramesInFlight   = 2
	DefaultGlobalBufferSize = 100_000_000
)

type ContextConfig struct {
	FramesInFlight     uint32
	IndexBufferSize    uint64
	VertexBufferSize   uint64
	DescriptorCapacity [metadata.DescriptorKindCount]uint32
	TransferTimeout    time.Duration
}

// Context owns every shared GPU resource registry: the global index and
// vertex buffers with their sub-allocators, the bindless slot allocator,
// the transfer queue and the deferred destruction queue.
type Context struct {
	config  ContextConfig
	backend renderer.RendererBackend
	metrics *core.ResourceMetrics
	locks   *LockPool

	indexBuffer  *metadata.Buffer
	vertexBuffer *metadata.Buffer
	indexMemory  *BufferAllocator
	vertexMemory *BufferAllocator
	descriptors  *DescriptorAllocator
	transfer     *TransferQueue
	deferred     *DeferredQueue

	shutdown atomic.Bool
}

func NewContext(config ContextConfig, backend renderer.RendererBackend, metrics *core.ResourceMetrics) (*Context, error) {
	if config.FramesInFlight == 0 {
		config.FramesInFlight = DefaultFramesInFlight
	}
	if config.IndexBufferSize == 0 {
		config.IndexBufferSize = DefaultGlobalBufferSize
	}
	if config.VertexBufferSize == 0 {
		config.VertexBufferSize = DefaultGlobalBufferSize
	}
	if config.TransferTimeout == 0 {
		config.TransferTimeout = DefaultTransferTimeout
	}
	if metrics == nil {
		metrics = &core.ResourceMetrics{}
	}

	ctx := &Context{
		config:       config,
		backend:      backend,
		metrics:      metrics,
		locks:        NewLockPool(),
		indexMemory:  NewBufferAllocator("global.index", config.IndexBufferSize),
		vertexMemory: NewBufferAllocator("global.vertex", config.VertexBufferSize),
		descriptors:  NewDescriptorAllocator(config.DescriptorCapacity),
	}
	ctx.transfer = NewTransferQueue(backend, ctx.locks)
	ctx.deferred = NewDeferredQueue(config.FramesInFlight, ctx.release)

	var err error
	ctx.indexBuffer, err = backend.BufferCreate(metadata.BufferInfo{
		Name:   "global.index",
		Size:   config.IndexBufferSize,
		Usage:  metadata.BufferUsageIndex | metadata.BufferUsageTransferDst,
		Memory: metadata.MemoryUsageDevice,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating global index buffer")
	}
	ctx.vertexBuffer, err = backend.BufferCreate(metadata.BufferInfo{
		Name:   "global.vertex",
		Size:   config.VertexBufferSize,
		Usage:  metadata.BufferUsageVertex | metadata.BufferUsageStorage | metadata.BufferUsageTransferDst,
		Memory: metadata.MemoryUsageDevice,
	})
	if err != nil {
		backend.BufferDestroy(ctx.indexBuffer)
		return nil, errors.Wrap(err, "creating global vertex buffer")
	}

	core.LogInfo("Resource context created: index %d bytes, vertex %d bytes, %d frames in flight.",
		config.IndexBufferSize, config.VertexBufferSize, config.FramesInFlight)
	return ctx, nil
}

func (ctx *Context) Backend() renderer.RendererBackend {
	return ctx.backend
}

func (ctx *Context) Metrics() *core.ResourceMetrics {
	return ctx.metrics
}

func (ctx *Context) Config() ContextConfig {
	return ctx.config
}

func (ctx *Context) IndexBuffer() *metadata.Buffer {
	return ctx.indexBuffer
}

func (ctx *Context) VertexBuffer() *metadata.Buffer {
	return ctx.vertexBuffer
}

func (ctx *Context) IndexMemory() *BufferAllocator {
	return ctx.indexMemory
}

func (ctx *Context) VertexMemory() *BufferAllocator {
	return ctx.vertexMemory
}

func (ctx *Context) Descriptors() *DescriptorAllocator {
	return ctx.descriptors
}

func (ctx *Context) Deferred() *DeferredQueue {
	return ctx.deferred
}

// GrabIndexMemory carves a range out of the global index buffer. Running
// out of space is fatal.
func (ctx *Context) GrabIndexMemory(size, alignment uint64) Slot {
	slot, err := ctx.indexMemory.Allocate(size, alignment)
	if err != nil {
		core.Fatal(err)
	}
	return slot
}

func (ctx *Context) FreeIndexMemory(slot Slot) {
	if err := ctx.indexMemory.Free(slot); err != nil {
		core.Fatal(err)
	}
}

// GrabVertexMemory carves a range out of the global vertex buffer. Running
// out of space is fatal.
func (ctx *Context) GrabVertexMemory(size, alignment uint64) Slot {
	slot, err := ctx.vertexMemory.Allocate(size, alignment)
	if err != nil {
		core.Fatal(err)
	}
	return slot
}

func (ctx *Context) FreeVertexMemory(slot Slot) {
	if err := ctx.vertexMemory.Free(slot); err != nil {
		core.Fatal(err)
	}
}

// GrabDescriptorSlot reserves a bindless slot. Exceeding the table
// capacity is fatal.
func (ctx *Context) GrabDescriptorSlot(kind metadata.DescriptorKind) uint32 {
	slot, err := ctx.descriptors.Grab(kind)
	if err != nil {
		core.Fatal(err)
	}
	return slot
}

func (ctx *Context) FreeDescriptorSlot(kind metadata.DescriptorKind, slot uint32) {
	if err := ctx.descriptors.Free(kind, slot); err != nil {
		core.Fatal(err)
	}
}

// WriteImageDescriptor points a bindless slot at image.
func (ctx *Context) WriteImageDescriptor(slot uint32, image *metadata.Image) {
	ctx.locks.Do(DescriptorManagement, func() {
		ctx.backend.DescriptorWriteImage(slot, image)
	})
}

// CreateStagingBuffer allocates a mapped host buffer used as a copy source.
func (ctx *Context) CreateStagingBuffer(name string, size uint64) (*metadata.Buffer, error) {
	var buf *metadata.Buffer
	err := ctx.locks.SafeCall(DeviceManagement, func() error {
		var err error
		buf, err = ctx.backend.BufferCreate(metadata.BufferInfo{
			Name:   name,
			Size:   size,
			Usage:  metadata.BufferUsageTransferSrc,
			Memory: metadata.MemoryUsageHost,
		})
		return err
	})
	return buf, err
}

func (ctx *Context) CreateImage(info metadata.ImageInfo) (*metadata.Image, error) {
	var img *metadata.Image
	err := ctx.locks.SafeCall(DeviceManagement, func() error {
		var err error
		img, err = ctx.backend.ImageCreate(info)
		return err
	})
	return img, err
}

func (ctx *Context) CreateTimeline(name string) (metadata.Timeline, error) {
	var t metadata.Timeline
	err := ctx.locks.SafeCall(DeviceManagement, func() error {
		var err error
		t, err = ctx.backend.TimelineCreate(name)
		return err
	})
	return t, err
}

// NewCompletion returns a completion bounded by the configured transfer
// timeout.
func (ctx *Context) NewCompletion() *Completion {
	return NewCompletion(ctx.config.TransferTimeout)
}

// SubmitTransfer records and submits one upload. The returned command
// buffer belongs to the caller's staging handle.
func (ctx *Context) SubmitTransfer(tag string, completion *Completion, record func(cmd *metadata.CommandBuffer) error) (*metadata.CommandBuffer, error) {
	const signalValue = 1
	timeline, err := ctx.CreateTimeline(tag)
	if err != nil {
		return nil, errors.Wrapf(err, "creating timeline for %s", tag)
	}
	cmd, err := ctx.transfer.Submit(tag, timeline, signalValue, record)
	if err != nil {
		ctx.backend.TimelineDestroy(timeline)
		return nil, err
	}
	completion.Arm(timeline, signalValue)
	ctx.metrics.UploadsSubmitted.Add(1)
	return cmd, nil
}

// Release frees resources either right away or once the frames that may
// reference them have retired. Immediate release is only safe when the
// device no longer uses the resources.
func (ctx *Context) Release(immediate bool, frees ...PendingFree) {
	if immediate {
		for _, f := range frees {
			ctx.release(f)
		}
		return
	}
	ctx.metrics.DeferredFreesQueued.Add(uint64(len(frees)))
	ctx.deferred.Push(frees...)
}

// BeginFrame runs the deferred frees of a retired frame slot and parks the
// newly queued ones on it.
func (ctx *Context) BeginFrame(slot uint32) {
	if slot >= ctx.config.FramesInFlight {
		core.Fatal(errors.Wrapf(ErrInvalidFrameSlot, "%d of %d", slot, ctx.config.FramesInFlight))
		return
	}
	ctx.deferred.BeginFrame(slot)
}

func (ctx *Context) IsShutdown() bool {
	return ctx.shutdown.Load()
}

// Shutdown drains the deferred queue immediately and destroys the global
// buffers. The device must be idle.
func (ctx *Context) Shutdown() {
	if !ctx.shutdown.CompareAndSwap(false, true) {
		return
	}
	n := ctx.deferred.Flush()
	core.LogDebug("Resource context flushed %d deferred frees.", n)

	if slots := ctx.indexMemory.Slots(); len(slots) > 0 {
		core.LogWarn("%d index ranges still allocated at shutdown.", len(slots))
	}
	if slots := ctx.vertexMemory.Slots(); len(slots) > 0 {
		core.LogWarn("%d vertex ranges still allocated at shutdown.", len(slots))
	}
	ctx.backend.BufferDestroy(ctx.indexBuffer)
	ctx.backend.BufferDestroy(ctx.vertexBuffer)
	ctx.indexBuffer, ctx.vertexBuffer = nil, nil
	core.LogInfo("Resource context shut down.")
}

func (ctx *Context) release(f PendingFree) {
	switch f.Kind {
	case FreeIndexSlot:
		ctx.FreeIndexMemory(f.Slot)
	case FreeVertexSlot:
		ctx.FreeVertexMemory(f.Slot)
	case FreeDescriptor:
		ctx.FreeDescriptorSlot(f.DescriptorKind, f.Descriptor)
	case FreeBuffer:
		ctx.backend.BufferDestroy(f.Buffer)
	case FreeImage:
		ctx.backend.ImageDestroy(f.Image)
	case FreeTimeline:
		ctx.backend.TimelineDestroy(f.Timeline)
	case FreeCommandBuffer:
		ctx.transfer.Free(f.CommandBuffer)
	case FreeCallback:
		if f.Callback != nil {
			f.Callback()
		}
	}
	ctx.metrics.DeferredFreesRun.Add(1)
}
