package resources

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

// Slot 0 of every kind is never handed out so a zero index can stand for
// "no descriptor" in shader data.
const reservedDescriptorSlots = 1

type descriptorPool struct {
	mu       sync.Mutex
	capacity uint32
	next     uint32
	free     []uint32
	live     []bool
}

// DescriptorAllocator tracks bindless table slots with one free list and
// one high-water mark per descriptor kind.
type DescriptorAllocator struct {
	pools [metadata.DescriptorKindCount]*descriptorPool
}

func NewDescriptorAllocator(capacity [metadata.DescriptorKindCount]uint32) *DescriptorAllocator {
	a := &DescriptorAllocator{}
	for kind := range a.pools {
		a.pools[kind] = &descriptorPool{
			capacity: capacity[kind],
			next:     reservedDescriptorSlots,
			live:     make([]bool, capacity[kind]),
		}
	}
	return a
}

// Grab returns a free slot of the given kind, reusing the most recently
// freed one first.
func (a *DescriptorAllocator) Grab(kind metadata.DescriptorKind) (uint32, error) {
	p := a.pools[kind]
	p.mu.Lock()
	defer p.mu.Unlock()

	var slot uint32
	if n := len(p.free); n > 0 {
		slot = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		if p.next >= p.capacity {
			return 0, errors.Wrapf(ErrDescriptorsFull, "%s: capacity %d", kind, p.capacity)
		}
		slot = p.next
		p.next++
	}
	p.live[slot] = true
	return slot, nil
}

func (a *DescriptorAllocator) Free(kind metadata.DescriptorKind, slot uint32) error {
	p := a.pools[kind]
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot < reservedDescriptorSlots || slot >= p.next || !p.live[slot] {
		return errors.Wrapf(ErrInvalidDescriptor, "%s: slot %d", kind, slot)
	}
	p.live[slot] = false
	p.free = append(p.free, slot)
	return nil
}

// Live returns the number of slots of kind currently handed out.
func (a *DescriptorAllocator) Live(kind metadata.DescriptorKind) int {
	p := a.pools[kind]
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.next-reservedDescriptorSlots) - len(p.free)
}

func (a *DescriptorAllocator) Capacity(kind metadata.DescriptorKind) uint32 {
	return a.pools[kind].capacity
}
