package resources

import (
	"sync/atomic"

	"github.com/spaghettifunk/keystone/engine/core"
)

// RefCount is an atomic reference counter embedded in every asset record.
type RefCount struct {
	count atomic.Uint64
}

func (r *RefCount) AddReference() {
	r.count.Add(1)
}

// RemoveReference decrements the count and returns the value it held before
// the decrement. Removing a reference from a zero count is fatal.
func (r *RefCount) RemoveReference() uint64 {
	for {
		old := r.count.Load()
		if old == 0 {
			core.Fatal(ErrRefCountUnderflow)
			return 0
		}
		if r.count.CompareAndSwap(old, old-1) {
			return old
		}
	}
}

func (r *RefCount) ReferenceCount() uint64 {
	return r.count.Load()
}
