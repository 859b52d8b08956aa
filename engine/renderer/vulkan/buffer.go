package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	mapped unsafe.Pointer
}

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlagBits {
	var flags vk.BufferUsageFlagBits
	if usage.Has(metadata.BufferUsageTransferSrc) {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage.Has(metadata.BufferUsageTransferDst) {
		flags |= vk.BufferUsageTransferDstBit
	}
	if usage.Has(metadata.BufferUsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage.Has(metadata.BufferUsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage.Has(metadata.BufferUsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage.Has(metadata.BufferUsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	return flags
}

// NewVulkanBuffer creates a buffer with its own memory. Host buffers are
// coherent and stay mapped until destroyed.
func NewVulkanBuffer(context *VulkanContext, info metadata.BufferInfo) (*VulkanBuffer, error) {
	device := context.Device.LogicalDevice
	vb := &VulkanBuffer{}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       vk.BufferUsageFlags(bufferUsageFlags(info.Usage)),
		SharingMode: vk.SharingModeExclusive,
	}
	if err := check(vk.CreateBuffer(device, &createInfo, context.Allocator, &vb.Handle), "vkCreateBuffer"); err != nil {
		return nil, err
	}

	props := vk.MemoryPropertyDeviceLocalBit
	if info.Memory == metadata.MemoryUsageHost {
		props = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, vb.Handle, &reqs)
	memory, err := context.allocate(reqs, props)
	if err != nil {
		vb.Destroy(context)
		return nil, err
	}
	vb.Memory = memory
	if err := check(vk.BindBufferMemory(device, vb.Handle, vb.Memory, 0), "vkBindBufferMemory"); err != nil {
		vb.Destroy(context)
		return nil, err
	}

	if info.Memory == metadata.MemoryUsageHost {
		if err := check(vk.MapMemory(device, vb.Memory, 0, vk.DeviceSize(info.Size), 0, &vb.mapped), "vkMapMemory"); err != nil {
			vb.Destroy(context)
			return nil, err
		}
	}
	return vb, nil
}

// Mapped exposes the host mapping as a byte slice of the given size.
func (vb *VulkanBuffer) Mapped(size uint64) []byte {
	if vb.mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(vb.mapped), size)
}

func (vb *VulkanBuffer) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if vb.mapped != nil {
		vk.UnmapMemory(device, vb.Memory)
		vb.mapped = nil
	}
	if vb.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vb.Memory, context.Allocator)
		vb.Memory = vk.NullDeviceMemory
	}
	if vb.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, vb.Handle, context.Allocator)
		vb.Handle = vk.NullBuffer
	}
}
