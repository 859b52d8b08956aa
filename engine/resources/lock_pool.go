package resources

import "sync"

type LockGroup string

const (
	TransferManagement   LockGroup = "transfer_management"
	DescriptorManagement LockGroup = "descriptor_management"
	DeviceManagement     LockGroup = "device_management"
)

// LockPool serializes device calls per group. Groups are created lazily.
type LockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to the locks map
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

// Get or create the mutex for a group
func (lp *LockPool) lock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	l, exists := lp.locks[group]
	if !exists {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	lp.mu.Unlock()

	l.Lock()
	return l
}

// Do runs fn while holding the group's mutex.
func (lp *LockPool) Do(group LockGroup, fn func()) {
	l := lp.lock(group)
	defer l.Unlock()

	fn()
}

// SafeCall runs fn while holding the group's mutex.
func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.lock(group)
	defer l.Unlock()

	return fn()
}
