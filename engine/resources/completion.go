package resources

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

// DefaultTransferTimeout bounds WaitUntilFinished.
const DefaultTransferTimeout = 10 * time.Second

type armedCompletion struct {
	timeline metadata.Timeline
	target   uint64
}

// Completion tracks one upload. It is armed with the timeline and value the
// submission signals, and reports finished once the device reaches it.
type Completion struct {
	armed   atomic.Pointer[armedCompletion]
	timeout time.Duration
}

func NewCompletion(timeout time.Duration) *Completion {
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	return &Completion{timeout: timeout}
}

// Arm records the timeline value that marks the upload as retired. Only the
// first call has an effect.
func (c *Completion) Arm(timeline metadata.Timeline, target uint64) {
	c.armed.CompareAndSwap(nil, &armedCompletion{timeline: timeline, target: target})
}

func (c *Completion) IsArmed() bool {
	return c.armed.Load() != nil
}

// IsFinished never blocks.
func (c *Completion) IsFinished() bool {
	a := c.armed.Load()
	return a != nil && a.timeline.Value() >= a.target
}

func (c *Completion) Timeline() metadata.Timeline {
	if a := c.armed.Load(); a != nil {
		return a.timeline
	}
	return nil
}

// Wait blocks until the upload retires or timeout expires.
func (c *Completion) Wait(timeout time.Duration) error {
	a := c.armed.Load()
	if a == nil {
		return ErrCompletionNotArmed
	}
	if err := a.timeline.Wait(a.target, timeout); err != nil {
		return errors.Mark(err, ErrTransferTimeout)
	}
	return nil
}

// WaitUntilFinished waits with the configured timeout. Expiry means the
// device stopped making progress and is fatal.
func (c *Completion) WaitUntilFinished() {
	if err := c.Wait(c.timeout); err != nil {
		core.Fatal(errors.Wrap(err, "waiting for transfer"))
	}
}
