package metadata

import (
	"time"

	"github.com/cockroachdb/errors"
)

/**
 * @brief A buffer living on the device. Host buffers expose their
 * persistently mapped memory through Mapped.
 */
type Buffer struct {
	Name   string
	Size   uint64
	Usage  BufferUsage
	Memory MemoryUsage
	/** @brief Mapped memory for host buffers, nil otherwise. */
	Mapped []byte
	/** @brief Backend specific data. */
	InternalData interface{}
}

/**
 * @brief A sampled 2D image living on the device.
 */
type Image struct {
	Name      string
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    ImageFormat
	/** @brief Backend specific data. */
	InternalData interface{}
}

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

/**
 * @brief A transfer command buffer handed out by the backend.
 */
type CommandBuffer struct {
	/** @brief Debug tag, usually the name of the asset being uploaded. */
	Tag   string
	State CommandBufferState
	/** @brief Backend specific data. */
	InternalData interface{}
}

/**
 * @brief A monotonically increasing GPU completion counter. Submissions
 * signal a target value once every command in them has executed.
 */
type Timeline interface {
	Name() string
	/** @brief The last value signaled by the device. Never blocks. */
	Value() uint64
	/** @brief Blocks until Value() >= value or the timeout expires. */
	Wait(value uint64, timeout time.Duration) error
}

var ErrWaitTimeout = errors.New("wait timed out")
