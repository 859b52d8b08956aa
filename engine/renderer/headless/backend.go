package headless

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var (
	ErrInvalidSize      = errors.New("invalid allocation size")
	ErrOutOfBounds      = errors.New("copy region out of bounds")
	ErrNotRecording     = errors.New("command buffer is not recording")
	ErrBackendShutdown  = errors.New("backend is shut down")
	ErrUnknownTimeline  = errors.New("timeline was not created by this backend")
	ErrUnknownFrameSlot = errors.New("unknown frame slot")
)

type Config struct {
	// Latency is the minimum time between a submission and its completion.
	Latency time.Duration
	// Manual disables the completion worker. Submissions only retire
	// through Complete, CompleteAll or WaitIdle.
	Manual             bool
	FramesInFlight     uint32
	DescriptorCapacity [metadata.DescriptorKindCount]uint32
}

type bufferData struct {
	bytes []byte
}

type imageData struct {
	mips [][]byte
}

type commandList struct {
	ops []func()
	err error
}

type submission struct {
	tag       string
	ops       []func()
	signal    *Timeline
	value     uint64
	submitted time.Time
}

// Backend executes transfer work on the CPU. Submissions retire in FIFO
// order, which gives frame submissions the same ordering guarantee as a
// single device queue.
type Backend struct {
	config Config

	mu          sync.Mutex
	cond        *sync.Cond
	pending     []*submission
	closed      bool
	buffers     map[*metadata.Buffer]struct{}
	images      map[*metadata.Image]struct{}
	timelines   map[*Timeline]struct{}
	commands    map[*metadata.CommandBuffer]struct{}
	descriptors [metadata.DescriptorKindCount]map[uint32]interface{}

	frames       []*Timeline
	frameNumbers []uint64
	submissions  uint64
	retireMu     sync.Mutex
	wg           sync.WaitGroup
}

func New(config Config) *Backend {
	if config.FramesInFlight == 0 {
		config.FramesInFlight = 2
	}
	b := &Backend{
		config:       config,
		buffers:      make(map[*metadata.Buffer]struct{}),
		images:       make(map[*metadata.Image]struct{}),
		timelines:    make(map[*Timeline]struct{}),
		commands:     make(map[*metadata.CommandBuffer]struct{}),
		frames:       make([]*Timeline, config.FramesInFlight),
		frameNumbers: make([]uint64, config.FramesInFlight),
	}
	b.cond = sync.NewCond(&b.mu)
	for i := range b.descriptors {
		b.descriptors[i] = make(map[uint32]interface{})
	}
	for i := range b.frames {
		b.frames[i] = NewTimeline(fmt.Sprintf("frame.%d", i))
	}
	return b
}

func (b *Backend) Initialize(appName string) error {
	if !b.config.Manual {
		b.wg.Add(1)
		go b.run()
	}
	core.LogInfo("Headless backend initialized for %s (latency %s, manual %t).", appName, b.config.Latency, b.config.Manual)
	return nil
}

func (b *Backend) Shutdown() error {
	if err := b.WaitIdle(); err != nil {
		return err
	}
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.buffers) + len(b.images) + len(b.timelines) + len(b.commands); n > 0 {
		core.LogWarn("Headless backend shut down with %d buffers, %d images, %d timelines and %d command buffers alive.",
			len(b.buffers), len(b.images), len(b.timelines), len(b.commands))
	}
	core.LogInfo("Headless backend shut down after %d submissions.", b.submissions)
	return nil
}

func (b *Backend) BeginFrame(slot uint32, timeout time.Duration) error {
	if int(slot) >= len(b.frames) {
		return errors.Wrapf(ErrUnknownFrameSlot, "%d", slot)
	}
	b.mu.Lock()
	target := b.frameNumbers[slot]
	b.mu.Unlock()
	return b.frames[slot].Wait(target, timeout)
}

func (b *Backend) EndFrame(slot uint32) error {
	if int(slot) >= len(b.frames) {
		return errors.Wrapf(ErrUnknownFrameSlot, "%d", slot)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendShutdown
	}
	b.frameNumbers[slot]++
	b.enqueueLocked(&submission{
		tag:       b.frames[slot].Name(),
		signal:    b.frames[slot],
		value:     b.frameNumbers[slot],
		submitted: time.Now(),
	})
	return nil
}

// WaitIdle blocks until every submission has retired. In manual mode the
// pending submissions are executed on the calling goroutine.
func (b *Backend) WaitIdle() error {
	if b.config.Manual {
		b.CompleteAll()
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.pending) > 0 {
		b.cond.Wait()
	}
	return nil
}

func (b *Backend) BufferCreate(info metadata.BufferInfo) (*metadata.Buffer, error) {
	if info.Size == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "buffer %s", info.Name)
	}
	data := &bufferData{bytes: make([]byte, info.Size)}
	buf := &metadata.Buffer{
		Name:         info.Name,
		Size:         info.Size,
		Usage:        info.Usage,
		Memory:       info.Memory,
		InternalData: data,
	}
	if info.Memory == metadata.MemoryUsageHost {
		buf.Mapped = data.bytes
	}
	b.mu.Lock()
	b.buffers[buf] = struct{}{}
	b.mu.Unlock()
	return buf, nil
}

func (b *Backend) BufferDestroy(buffer *metadata.Buffer) {
	if buffer == nil {
		return
	}
	b.mu.Lock()
	delete(b.buffers, buffer)
	b.mu.Unlock()
	buffer.Mapped = nil
}

func (b *Backend) ImageCreate(info metadata.ImageInfo) (*metadata.Image, error) {
	if info.Width == 0 || info.Height == 0 || info.MipLevels == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "image %s %dx%d with %d mips", info.Name, info.Width, info.Height, info.MipLevels)
	}
	data := &imageData{mips: make([][]byte, info.MipLevels)}
	w, h := info.Width, info.Height
	for i := range data.mips {
		data.mips[i] = make([]byte, uint64(w)*uint64(h)*metadata.ImagePixelSize)
		w, h = max(w/2, 1), max(h/2, 1)
	}
	img := &metadata.Image{
		Name:         info.Name,
		Width:        info.Width,
		Height:       info.Height,
		MipLevels:    info.MipLevels,
		Format:       info.Format,
		InternalData: data,
	}
	b.mu.Lock()
	b.images[img] = struct{}{}
	b.mu.Unlock()
	return img, nil
}

func (b *Backend) ImageDestroy(image *metadata.Image) {
	if image == nil {
		return
	}
	b.mu.Lock()
	delete(b.images, image)
	for _, table := range b.descriptors {
		for slot, v := range table {
			if v == image {
				delete(table, slot)
			}
		}
	}
	b.mu.Unlock()
}

func (b *Backend) TimelineCreate(name string) (metadata.Timeline, error) {
	t := NewTimeline(name)
	b.mu.Lock()
	b.timelines[t] = struct{}{}
	b.mu.Unlock()
	return t, nil
}

func (b *Backend) TimelineDestroy(timeline metadata.Timeline) {
	t, ok := timeline.(*Timeline)
	if !ok {
		return
	}
	b.mu.Lock()
	delete(b.timelines, t)
	b.mu.Unlock()
}

func (b *Backend) TransferCommandsRequest(tag string) (*metadata.CommandBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendShutdown
	}
	cmd := &metadata.CommandBuffer{
		Tag:          tag,
		State:        metadata.COMMAND_BUFFER_STATE_RECORDING,
		InternalData: &commandList{},
	}
	b.commands[cmd] = struct{}{}
	return cmd, nil
}

func (b *Backend) CmdCopyBuffer(cmd *metadata.CommandBuffer, src, dst *metadata.Buffer, regions ...metadata.BufferCopy) {
	list := recording(cmd)
	if list == nil {
		return
	}
	s, d := src.InternalData.(*bufferData), dst.InternalData.(*bufferData)
	for _, r := range regions {
		if r.SrcOffset+r.Size > src.Size || r.DstOffset+r.Size > dst.Size {
			list.fail(errors.Wrapf(ErrOutOfBounds, "%s -> %s: %+v", src.Name, dst.Name, r))
			return
		}
		list.ops = append(list.ops, func() {
			copy(d.bytes[r.DstOffset:r.DstOffset+r.Size], s.bytes[r.SrcOffset:r.SrcOffset+r.Size])
		})
	}
}

func (b *Backend) CmdCopyBufferToImage(cmd *metadata.CommandBuffer, src *metadata.Buffer, dst *metadata.Image, regions ...metadata.BufferImageCopy) {
	list := recording(cmd)
	if list == nil {
		return
	}
	s, d := src.InternalData.(*bufferData), dst.InternalData.(*imageData)
	for _, r := range regions {
		size := uint64(r.Width) * uint64(r.Height) * metadata.ImagePixelSize
		if r.MipLevel >= dst.MipLevels || size != uint64(len(d.mips[r.MipLevel])) || r.BufferOffset+size > src.Size {
			list.fail(errors.Wrapf(ErrOutOfBounds, "%s -> %s: %+v", src.Name, dst.Name, r))
			return
		}
		list.ops = append(list.ops, func() {
			copy(d.mips[r.MipLevel], s.bytes[r.BufferOffset:r.BufferOffset+size])
		})
	}
}

func (b *Backend) TransferCommandsSubmit(cmd *metadata.CommandBuffer, signal metadata.Timeline, value uint64) error {
	list, ok := cmd.InternalData.(*commandList)
	if !ok || cmd.State != metadata.COMMAND_BUFFER_STATE_RECORDING {
		return errors.Wrapf(ErrNotRecording, "%s", cmd.Tag)
	}
	if list.err != nil {
		return list.err
	}
	var t *Timeline
	if signal != nil {
		if t, ok = signal.(*Timeline); !ok {
			return errors.Wrapf(ErrUnknownTimeline, "%s", signal.Name())
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendShutdown
	}
	cmd.State = metadata.COMMAND_BUFFER_STATE_SUBMITTED
	b.enqueueLocked(&submission{
		tag:       cmd.Tag,
		ops:       list.ops,
		signal:    t,
		value:     value,
		submitted: time.Now(),
	})
	return nil
}

func (b *Backend) TransferCommandsFree(cmd *metadata.CommandBuffer) {
	if cmd == nil {
		return
	}
	b.mu.Lock()
	delete(b.commands, cmd)
	b.mu.Unlock()
	cmd.State = metadata.COMMAND_BUFFER_STATE_NOT_ALLOCATED
	cmd.InternalData = nil
}

func (b *Backend) DescriptorWriteImage(slot uint32, image *metadata.Image) {
	b.writeDescriptor(metadata.DescriptorKindCombinedImageSampler, slot, image)
}

func (b *Backend) DescriptorWriteBuffer(slot uint32, buffer *metadata.Buffer) {
	b.writeDescriptor(metadata.DescriptorKindStorageBuffer, slot, buffer)
}

func (b *Backend) writeDescriptor(kind metadata.DescriptorKind, slot uint32, v interface{}) {
	if c := b.config.DescriptorCapacity[kind]; c > 0 && slot >= c {
		core.LogError("descriptor slot %d out of range for %s (capacity %d)", slot, kind, c)
		return
	}
	b.mu.Lock()
	b.descriptors[kind][slot] = v
	b.mu.Unlock()
}

func (b *Backend) enqueueLocked(s *submission) {
	b.pending = append(b.pending, s)
	b.submissions++
	b.cond.Broadcast()
}

func (b *Backend) run() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		for len(b.pending) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		s := b.pending[0]
		b.mu.Unlock()

		if d := time.Until(s.submitted.Add(b.config.Latency)); d > 0 {
			time.Sleep(d)
		}
		b.retire()
	}
}

// retire executes the head submission and pops it. Returns false when
// nothing is pending.
func (b *Backend) retire() bool {
	b.retireMu.Lock()
	defer b.retireMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return false
	}
	s := b.pending[0]
	b.mu.Unlock()

	for _, op := range s.ops {
		op()
	}
	if s.signal != nil {
		s.signal.Signal(s.value)
	}
	b.mu.Lock()
	b.pending = b.pending[1:]
	b.cond.Broadcast()
	b.mu.Unlock()
	return true
}

func recording(cmd *metadata.CommandBuffer) *commandList {
	list, ok := cmd.InternalData.(*commandList)
	if !ok || cmd.State != metadata.COMMAND_BUFFER_STATE_RECORDING {
		core.LogError("command buffer %s is not recording", cmd.Tag)
		return nil
	}
	return list
}

func (l *commandList) fail(err error) {
	core.LogError(err.Error())
	if l.err == nil {
		l.err = err
	}
}
