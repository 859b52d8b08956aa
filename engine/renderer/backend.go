package renderer

import (
	"time"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

// RendererBackend is the device facing surface the resource layer is built
// on. Every call is safe for concurrent use unless stated otherwise.
type RendererBackend interface {
	Initialize(appName string) error
	Shutdown() error
	// BeginFrame waits until the previous submission of the frame slot has
	// retired on the device.
	BeginFrame(slot uint32, timeout time.Duration) error
	// EndFrame submits the frame for the slot. It retires after every
	// transfer submitted before it.
	EndFrame(slot uint32) error
	WaitIdle() error

	BufferCreate(info metadata.BufferInfo) (*metadata.Buffer, error)
	BufferDestroy(buffer *metadata.Buffer)
	ImageCreate(info metadata.ImageInfo) (*metadata.Image, error)
	ImageDestroy(image *metadata.Image)
	TimelineCreate(name string) (metadata.Timeline, error)
	TimelineDestroy(timeline metadata.Timeline)

	// TransferCommandsRequest returns a command buffer in the recording state.
	TransferCommandsRequest(tag string) (*metadata.CommandBuffer, error)
	CmdCopyBuffer(cmd *metadata.CommandBuffer, src, dst *metadata.Buffer, regions ...metadata.BufferCopy)
	CmdCopyBufferToImage(cmd *metadata.CommandBuffer, src *metadata.Buffer, dst *metadata.Image, regions ...metadata.BufferImageCopy)
	// TransferCommandsSubmit ends recording and submits to the transfer
	// queue. The timeline is signaled with value on completion.
	TransferCommandsSubmit(cmd *metadata.CommandBuffer, signal metadata.Timeline, value uint64) error
	TransferCommandsFree(cmd *metadata.CommandBuffer)

	DescriptorWriteImage(slot uint32, image *metadata.Image)
	DescriptorWriteBuffer(slot uint32, buffer *metadata.Buffer)
}
