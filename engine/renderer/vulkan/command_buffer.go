package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	pool   vk.CommandPool
}

// NewVulkanCommandBuffer allocates a primary command buffer from pool. The
// pool must be locked by the caller.
func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	handles := make([]vk.CommandBuffer, 1)
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	if err := check(vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	return &VulkanCommandBuffer{Handle: handles[0], pool: pool}, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext) {
	if v.Handle == nil {
		return
	}
	vk.FreeCommandBuffers(context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
}

func (v *VulkanCommandBuffer) Begin(isSingleUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return check(vk.BeginCommandBuffer(v.Handle, beginInfo), "vkBeginCommandBuffer")
}

func (v *VulkanCommandBuffer) End() error {
	return check(vk.EndCommandBuffer(v.Handle), "vkEndCommandBuffer")
}

// Submit hands the recorded buffer to queue and signals fence once it
// retires. The queue must be locked by the caller.
func (v *VulkanCommandBuffer) Submit(queue vk.Queue, fence vk.Fence) error {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}
	return check(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence), "vkQueueSubmit")
}

// commandBuffer unwraps the backend data of a transfer command buffer that
// is still recording.
func commandBuffer(cmd *metadata.CommandBuffer) *VulkanCommandBuffer {
	if cmd == nil || cmd.State != metadata.COMMAND_BUFFER_STATE_RECORDING {
		return nil
	}
	vcb, _ := cmd.InternalData.(*VulkanCommandBuffer)
	return vcb
}
