package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle    vk.Image
	Memory    vk.DeviceMemory
	View      vk.ImageView
	Width     uint32
	Height    uint32
	MipLevels uint32
}

var ErrUnsupportedFormat = errors.New("unsupported image format")

func imageFormat(f metadata.ImageFormat) (vk.Format, error) {
	switch f {
	case metadata.ImageFormatRGBA8Srgb:
		return vk.FormatR8g8b8a8Srgb, nil
	case metadata.ImageFormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm, nil
	case metadata.ImageFormatRGBA8Snorm:
		return vk.FormatR8g8b8a8Snorm, nil
	case metadata.ImageFormatR32Sfloat:
		return vk.FormatR32Sfloat, nil
	}
	return vk.FormatUndefined, errors.Wrapf(ErrUnsupportedFormat, "%s", f)
}

// NewVulkanImage creates a device local sampled image with a view over
// every mip level. The image starts in the undefined layout.
func NewVulkanImage(context *VulkanContext, info metadata.ImageInfo) (*VulkanImage, error) {
	format, err := imageFormat(info.Format)
	if err != nil {
		return nil, err
	}
	device := context.Device.LogicalDevice
	vi := &VulkanImage{Width: info.Width, Height: info.Height, MipLevels: info.MipLevels}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := check(vk.CreateImage(device, &createInfo, context.Allocator, &vi.Handle), "vkCreateImage"); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, vi.Handle, &reqs)
	memory, err := context.allocate(reqs, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vi.Destroy(context)
		return nil, err
	}
	vi.Memory = memory
	if err := check(vk.BindImageMemory(device, vi.Handle, vi.Memory, 0), "vkBindImageMemory"); err != nil {
		vi.Destroy(context)
		return nil, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    vi.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: info.MipLevels,
			LayerCount: 1,
		},
	}
	if err := check(vk.CreateImageView(device, &viewInfo, context.Allocator, &vi.View), "vkCreateImageView"); err != nil {
		vi.Destroy(context)
		return nil, err
	}
	return vi, nil
}

// Transition records a layout change over every mip level.
func (vi *VulkanImage) Transition(cmd vk.CommandBuffer, oldLayout, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               vi.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: vi.MipLevels,
			LayerCount: 1,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlagBits
	switch {
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageTopOfPipeBit
		dstStage = vk.PipelineStageTransferBit
	default:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageTransferBit
		dstStage = vk.PipelineStageBottomOfPipeBit
	}
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if vi.View != vk.NullImageView {
		vk.DestroyImageView(device, vi.View, context.Allocator)
		vi.View = vk.NullImageView
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vi.Memory, context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(device, vi.Handle, context.Allocator)
		vi.Handle = vk.NullImage
	}
}
