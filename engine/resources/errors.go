package resources

import "github.com/cockroachdb/errors"

var (
	ErrRefCountUnderflow  = errors.New("reference removed from a zero count")
	ErrInvalidSize        = errors.New("allocation size must be greater than zero")
	ErrInvalidAlignment   = errors.New("alignment must be a power of two")
	ErrOutOfMemory        = errors.New("no free range large enough")
	ErrUnknownAllocation  = errors.New("no allocation at offset")
	ErrDescriptorsFull    = errors.New("descriptor capacity exceeded")
	ErrInvalidDescriptor  = errors.New("descriptor slot is not allocated")
	ErrCompletionNotArmed = errors.New("completion has not been armed")
	ErrTransferTimeout    = errors.New("transfer did not finish in time")
	ErrInvalidFrameSlot   = errors.New("frame slot out of range")
)
