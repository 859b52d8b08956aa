package resources

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/renderer"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

// Staging is the host buffer and command buffer used by one upload. It is
// released once the upload's completion reports finished.
type Staging struct {
	Buffer  *metadata.Buffer
	Command *metadata.CommandBuffer
}

// Frees returns the pending frees that release the staging resources.
func (s *Staging) Frees() []PendingFree {
	return []PendingFree{
		{Kind: FreeCommandBuffer, CommandBuffer: s.Command},
		{Kind: FreeBuffer, Buffer: s.Buffer},
	}
}

// StagingHandle holds a Staging until it is taken for release.
type StagingHandle struct {
	p atomic.Pointer[Staging]
}

func (h *StagingHandle) Store(s *Staging) {
	h.p.Store(s)
}

// Take returns the staging resources at most once.
func (h *StagingHandle) Take() *Staging {
	return h.p.Swap(nil)
}

func (h *StagingHandle) IsHeld() bool {
	return h.p.Load() != nil
}

// TransferQueue serializes command buffer acquisition, recording and
// submission so two uploads never interleave.
type TransferQueue struct {
	backend renderer.RendererBackend
	locks   *LockPool
}

func NewTransferQueue(backend renderer.RendererBackend, locks *LockPool) *TransferQueue {
	return &TransferQueue{backend: backend, locks: locks}
}

// Submit requests a command buffer, lets record fill it and submits it so
// the device signals value on signal when the copies retire.
func (t *TransferQueue) Submit(tag string, signal metadata.Timeline, value uint64, record func(cmd *metadata.CommandBuffer) error) (*metadata.CommandBuffer, error) {
	var cmd *metadata.CommandBuffer
	err := t.locks.SafeCall(TransferManagement, func() error {
		c, err := t.backend.TransferCommandsRequest(tag)
		if err != nil {
			return errors.Wrapf(err, "requesting transfer commands for %s", tag)
		}
		if err := record(c); err != nil {
			t.backend.TransferCommandsFree(c)
			return errors.Wrapf(err, "recording transfer commands for %s", tag)
		}
		if err := t.backend.TransferCommandsSubmit(c, signal, value); err != nil {
			t.backend.TransferCommandsFree(c)
			return errors.Wrapf(err, "submitting transfer commands for %s", tag)
		}
		cmd = c
		return nil
	})
	return cmd, err
}

func (t *TransferQueue) Free(cmd *metadata.CommandBuffer) {
	t.locks.Do(TransferManagement, func() {
		t.backend.TransferCommandsFree(cmd)
	})
}
