package metadata

/** @brief How a device buffer is used. Values may be combined. */
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageStorage
	BufferUsageUniform
)

func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

/** @brief Where the memory behind a buffer or image lives. */
type MemoryUsage int

const (
	/** @brief Device local memory, not visible to the host. */
	MemoryUsageDevice MemoryUsage = iota
	/** @brief Host visible memory, persistently mapped. Used for staging. */
	MemoryUsageHost
)

/**
 * @brief Describes a buffer to allocate on the device.
 */
type BufferInfo struct {
	/** @brief Debug name of the buffer. */
	Name string
	/** @brief Size of the buffer in bytes. */
	Size uint64
	/** @brief The buffer usage flags. */
	Usage BufferUsage
	/** @brief Memory placement. Host buffers come back mapped. */
	Memory MemoryUsage
}

/**
 * @brief Describes a sampled 2D image to allocate on the device.
 */
type ImageInfo struct {
	/** @brief Debug name of the image. */
	Name   string
	Width  uint32
	Height uint32
	/** @brief The number of mip levels. */
	MipLevels uint32
	Format    ImageFormat
}

/** @brief A single region of a buffer to buffer copy. */
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

/** @brief A single region of a buffer to image copy, one mip level. */
type BufferImageCopy struct {
	BufferOffset uint64
	MipLevel     uint32
	Width        uint32
	Height       uint32
}

/**
 * @brief Kinds of resources stored in the bindless descriptor table.
 * Each kind has its own binding and its own slot free list.
 */
type DescriptorKind int

const (
	DescriptorKindCombinedImageSampler DescriptorKind = iota
	DescriptorKindStorageBuffer
	DescriptorKindCount
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorKindCombinedImageSampler:
		return "combined_image_sampler"
	case DescriptorKindStorageBuffer:
		return "storage_buffer"
	default:
		return "unknown"
	}
}
