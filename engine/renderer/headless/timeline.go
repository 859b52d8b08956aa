package headless

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

// Timeline is a software timeline semaphore. Waiters park on a channel that
// is closed and replaced every time the value moves.
type Timeline struct {
	name    string
	value   atomic.Uint64
	mu      sync.Mutex
	changed chan struct{}
}

func NewTimeline(name string) *Timeline {
	return &Timeline{
		name:    name,
		changed: make(chan struct{}),
	}
}

func (t *Timeline) Name() string {
	return t.name
}

func (t *Timeline) Value() uint64 {
	return t.value.Load()
}

// Signal raises the timeline to value. Lower values are ignored.
func (t *Timeline) Signal(value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if value <= t.value.Load() {
		return
	}
	t.value.Store(value)
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *Timeline) Wait(value uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		t.mu.Lock()
		if t.value.Load() >= value {
			t.mu.Unlock()
			return nil
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return errors.Wrapf(metadata.ErrWaitTimeout, "timeline %s: value %d, want %d after %s", t.name, t.Value(), value, timeout)
		}
	}
}
