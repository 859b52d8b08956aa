package headless

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

func TestTimelineWait(t *testing.T) {
	tl := NewTimeline("t")
	assert.True(t, errors.Is(tl.Wait(1, time.Millisecond), metadata.ErrWaitTimeout))

	go tl.Signal(2)
	require.NoError(t, tl.Wait(2, time.Second))
	tl.Signal(1)
	assert.Equal(t, uint64(2), tl.Value(), "timelines never move backwards")
}

func TestManualSubmissionsRetireInOrder(t *testing.T) {
	b := New(Config{Manual: true})
	require.NoError(t, b.Initialize("test"))

	src, err := b.BufferCreate(metadata.BufferInfo{Name: "src", Size: 8, Memory: metadata.MemoryUsageHost})
	require.NoError(t, err)
	dst, err := b.BufferCreate(metadata.BufferInfo{Name: "dst", Size: 8})
	require.NoError(t, err)
	assert.Nil(t, dst.Mapped)
	copy(src.Mapped, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	tl, err := b.TimelineCreate("copy")
	require.NoError(t, err)
	cmd, err := b.TransferCommandsRequest("copy")
	require.NoError(t, err)
	b.CmdCopyBuffer(cmd, src, dst, metadata.BufferCopy{SrcOffset: 4, DstOffset: 0, Size: 4})
	require.NoError(t, b.TransferCommandsSubmit(cmd, tl, 1))
	require.NoError(t, b.EndFrame(0))

	assert.Equal(t, 2, b.Pending())
	assert.Equal(t, uint64(0), tl.Value())
	assert.Equal(t, 1, b.Complete(1))
	assert.Equal(t, uint64(1), tl.Value())
	assert.Equal(t, []byte{5, 6, 7, 8}, b.ReadBuffer(dst, 0, 4))

	assert.True(t, errors.Is(b.BeginFrame(0, time.Millisecond), metadata.ErrWaitTimeout))
	b.CompleteAll()
	require.NoError(t, b.BeginFrame(0, time.Millisecond))

	b.TransferCommandsFree(cmd)
	b.TimelineDestroy(tl)
	b.BufferDestroy(src)
	b.BufferDestroy(dst)
	require.NoError(t, b.Shutdown())
	assert.Zero(t, b.LiveBuffers()+b.LiveTimelines()+b.LiveCommandBuffers())
}

func TestWorkerHonoursLatency(t *testing.T) {
	b := New(Config{Latency: 20 * time.Millisecond})
	require.NoError(t, b.Initialize("test"))
	defer func() { require.NoError(t, b.Shutdown()) }()

	tl, err := b.TimelineCreate("latency")
	require.NoError(t, err)
	cmd, err := b.TransferCommandsRequest("latency")
	require.NoError(t, err)
	start := time.Now()
	require.NoError(t, b.TransferCommandsSubmit(cmd, tl, 1))
	assert.Equal(t, uint64(0), tl.Value())

	require.NoError(t, tl.Wait(1, time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	b.TransferCommandsFree(cmd)
	b.TimelineDestroy(tl)
}

func TestOutOfBoundsCopyFailsSubmit(t *testing.T) {
	b := New(Config{Manual: true})
	src, err := b.BufferCreate(metadata.BufferInfo{Name: "src", Size: 4, Memory: metadata.MemoryUsageHost})
	require.NoError(t, err)
	img, err := b.ImageCreate(metadata.ImageInfo{Name: "img", Width: 2, Height: 2, MipLevels: 2})
	require.NoError(t, err)

	cmd, err := b.TransferCommandsRequest("oob")
	require.NoError(t, err)
	b.CmdCopyBufferToImage(cmd, src, img, metadata.BufferImageCopy{MipLevel: 0, Width: 2, Height: 2})
	assert.True(t, errors.Is(b.TransferCommandsSubmit(cmd, nil, 0), ErrOutOfBounds))
}

func TestImageMipUpload(t *testing.T) {
	b := New(Config{Manual: true})
	src, err := b.BufferCreate(metadata.BufferInfo{Name: "src", Size: 20, Memory: metadata.MemoryUsageHost})
	require.NoError(t, err)
	for i := range src.Mapped {
		src.Mapped[i] = byte(i)
	}
	img, err := b.ImageCreate(metadata.ImageInfo{Name: "img", Width: 2, Height: 2, MipLevels: 2})
	require.NoError(t, err)

	cmd, err := b.TransferCommandsRequest("mips")
	require.NoError(t, err)
	b.CmdCopyBufferToImage(cmd, src, img,
		metadata.BufferImageCopy{BufferOffset: 0, MipLevel: 0, Width: 2, Height: 2},
		metadata.BufferImageCopy{BufferOffset: 16, MipLevel: 1, Width: 1, Height: 1},
	)
	require.NoError(t, b.TransferCommandsSubmit(cmd, nil, 0))
	b.CompleteAll()
	assert.Equal(t, []byte{16, 17, 18, 19}, b.ReadImage(img, 1))

	b.DescriptorWriteImage(3, img)
	assert.Same(t, img, b.Descriptor(metadata.DescriptorKindCombinedImageSampler, 3))
	b.ImageDestroy(img)
	assert.Nil(t, b.Descriptor(metadata.DescriptorKindCombinedImageSampler, 3))
}
