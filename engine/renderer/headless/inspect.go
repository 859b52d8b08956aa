package headless

import "github.com/spaghettifunk/keystone/engine/renderer/metadata"

// Complete retires up to n pending submissions in order and returns how
// many were retired. Only meaningful in manual mode.
func (b *Backend) Complete(n int) int {
	done := 0
	for done < n && b.retire() {
		done++
	}
	return done
}

func (b *Backend) CompleteAll() int {
	return b.Complete(int(^uint(0) >> 1))
}

func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Backend) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

func (b *Backend) LiveImages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.images)
}

func (b *Backend) LiveTimelines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timelines)
}

func (b *Backend) LiveCommandBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.commands)
}

// ReadBuffer returns a copy of a buffer range as the device sees it.
func (b *Backend) ReadBuffer(buffer *metadata.Buffer, offset, size uint64) []byte {
	data := buffer.InternalData.(*bufferData)
	out := make([]byte, size)
	copy(out, data.bytes[offset:offset+size])
	return out
}

// ReadImage returns a copy of one mip level.
func (b *Backend) ReadImage(image *metadata.Image, mip uint32) []byte {
	data := image.InternalData.(*imageData)
	out := make([]byte, len(data.mips[mip]))
	copy(out, data.mips[mip])
	return out
}

// Descriptor returns what was last written to a bindless slot.
func (b *Backend) Descriptor(kind metadata.DescriptorKind, slot uint32) interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.descriptors[kind][slot]
}
