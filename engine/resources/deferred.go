package resources

import (
	"github.com/spaghettifunk/keystone/engine/containers"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

type PendingFreeKind int

const (
	FreeIndexSlot PendingFreeKind = iota
	FreeVertexSlot
	FreeDescriptor
	FreeBuffer
	FreeImage
	FreeTimeline
	FreeCommandBuffer
	// FreeCallback runs an arbitrary function, used for resources the
	// context does not know how to release.
	FreeCallback
)

func (k PendingFreeKind) String() string {
	switch k {
	case FreeIndexSlot:
		return "index_slot"
	case FreeVertexSlot:
		return "vertex_slot"
	case FreeDescriptor:
		return "descriptor"
	case FreeBuffer:
		return "buffer"
	case FreeImage:
		return "image"
	case FreeTimeline:
		return "timeline"
	case FreeCommandBuffer:
		return "command_buffer"
	default:
		return "callback"
	}
}

// PendingFree names one resource to release. Only the fields matching Kind
// are read.
type PendingFree struct {
	Kind           PendingFreeKind
	Slot           Slot
	DescriptorKind metadata.DescriptorKind
	Descriptor     uint32
	Buffer         *metadata.Buffer
	Image          *metadata.Image
	Timeline       metadata.Timeline
	CommandBuffer  *metadata.CommandBuffer
	Callback       func()
}

// DeferredQueue delays frees until the frame slot that may still reference
// them has retired. Push is safe from any goroutine. BeginFrame and Flush
// belong to the frame loop goroutine.
type DeferredQueue struct {
	queue   *containers.MPSCQueue[PendingFree]
	frames  [][]PendingFree
	release func(PendingFree)
}

func NewDeferredQueue(framesInFlight uint32, release func(PendingFree)) *DeferredQueue {
	return &DeferredQueue{
		queue:   containers.NewMPSCQueue[PendingFree](),
		frames:  make([][]PendingFree, framesInFlight),
		release: release,
	}
}

func (q *DeferredQueue) Push(frees ...PendingFree) {
	for _, f := range frees {
		q.queue.Push(f)
	}
}

// BeginFrame runs the frees parked on slot the last time it was used, then
// parks everything queued since on slot. The caller must have waited for
// the slot's previous frame to retire. Returns the number of frees run.
func (q *DeferredQueue) BeginFrame(slot uint32) int {
	ran := q.run(slot)
	q.queue.Drain(func(f PendingFree) {
		q.frames[slot] = append(q.frames[slot], f)
	})
	return ran
}

// Flush runs every parked and queued free immediately. Only valid once the
// device is idle.
func (q *DeferredQueue) Flush() int {
	ran := 0
	for slot := range q.frames {
		ran += q.run(uint32(slot))
	}
	ran += q.queue.Drain(q.release)
	return ran
}

// Parked returns the number of frees waiting on slot.
func (q *DeferredQueue) Parked(slot uint32) int {
	return len(q.frames[slot])
}

func (q *DeferredQueue) Queued() int {
	return q.queue.Len()
}

func (q *DeferredQueue) FramesInFlight() uint32 {
	return uint32(len(q.frames))
}

func (q *DeferredQueue) run(slot uint32) int {
	pending := q.frames[slot]
	q.frames[slot] = nil
	for _, f := range pending {
		q.release(f)
	}
	return len(pending)
}
