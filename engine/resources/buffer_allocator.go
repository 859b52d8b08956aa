package resources

import (
	"slices"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/math"
)

// Slot is a byte range inside one of the global buffers.
type Slot struct {
	Offset uint64
	Size   uint64
}

func (s Slot) End() uint64 {
	return s.Offset + s.Size
}

// BufferAllocator hands out first-fit ranges of a fixed size buffer. The
// slot list is sorted by offset and bounded by two zero sized sentinels at
// 0 and at the capacity, neither of which is ever removed.
type BufferAllocator struct {
	name     string
	capacity uint64

	mu    sync.Mutex
	slots []Slot
	used  uint64
}

func NewBufferAllocator(name string, capacity uint64) *BufferAllocator {
	return &BufferAllocator{
		name:     name,
		capacity: capacity,
		slots:    []Slot{{Offset: 0, Size: 0}, {Offset: capacity, Size: 0}},
	}
}

// Allocate places size bytes at the first gap that fits once the start is
// padded to alignment.
func (a *BufferAllocator) Allocate(size, alignment uint64) (Slot, error) {
	if size == 0 {
		return Slot{}, errors.Wrapf(ErrInvalidSize, "%s", a.name)
	}
	if !math.IsPowerOfTwo(alignment) {
		return Slot{}, errors.Wrapf(ErrInvalidAlignment, "%s: alignment %d", a.name, alignment)
	}

	if size > a.capacity {
		return Slot{}, errors.Wrapf(ErrOutOfMemory, "%s: %d bytes exceed the capacity of %d", a.name, size, a.capacity)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i+1 < len(a.slots); i++ {
		end := a.slots[i].End()
		start := math.PadToAlignment(end, alignment)
		next := a.slots[i+1].Offset
		// Compared by subtraction so that neither the padding nor the
		// request can wrap past the end of the gap.
		if start >= end && start <= next && size <= next-start {
			slot := Slot{Offset: start, Size: size}
			a.slots = slices.Insert(a.slots, i+1, slot)
			a.used += size
			return slot, nil
		}
	}
	return Slot{}, errors.Wrapf(ErrOutOfMemory, "%s: %d bytes aligned to %d (used %d of %d)", a.name, size, alignment, a.used, a.capacity)
}

// Free removes the slot starting at slot.Offset.
func (a *BufferAllocator) Free(slot Slot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Sentinels sit at both ends and are excluded from the search.
	inner := a.slots[1 : len(a.slots)-1]
	i := sort.Search(len(inner), func(i int) bool { return inner[i].Offset >= slot.Offset })
	if i == len(inner) || inner[i].Offset != slot.Offset {
		return errors.Wrapf(ErrUnknownAllocation, "%s: offset %d", a.name, slot.Offset)
	}
	a.used -= inner[i].Size
	a.slots = slices.Delete(a.slots, i+1, i+2)
	return nil
}

func (a *BufferAllocator) Name() string {
	return a.name
}

func (a *BufferAllocator) Capacity() uint64 {
	return a.capacity
}

// Used returns the bytes held by live slots, padding excluded.
func (a *BufferAllocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Slots returns the live slots in offset order, without the sentinels.
func (a *BufferAllocator) Slots() []Slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.slots[1 : len(a.slots)-1])
}
