package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

/**
 * @brief The bindless descriptor table. One set holds one arrayed binding
 * per descriptor kind; binding index equals the kind.
 */
type VulkanDescriptorTable struct {
	Layout   vk.DescriptorSetLayout
	Pool     vk.DescriptorPool
	Set      vk.DescriptorSet
	Sampler  vk.Sampler
	Capacity [metadata.DescriptorKindCount]uint32

	mu sync.Mutex
}

var descriptorTypes = [metadata.DescriptorKindCount]vk.DescriptorType{
	metadata.DescriptorKindCombinedImageSampler: vk.DescriptorTypeCombinedImageSampler,
	metadata.DescriptorKindStorageBuffer:        vk.DescriptorTypeStorageBuffer,
}

func NewVulkanDescriptorTable(context *VulkanContext, capacity [metadata.DescriptorKindCount]uint32) (*VulkanDescriptorTable, error) {
	device := context.Device.LogicalDevice
	table := &VulkanDescriptorTable{Capacity: capacity}

	var bindings []vk.DescriptorSetLayoutBinding
	var sizes []vk.DescriptorPoolSize
	for kind, count := range capacity {
		if count == 0 {
			continue
		}
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         uint32(kind),
			DescriptorType:  descriptorTypes[kind],
			DescriptorCount: count,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
		})
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            descriptorTypes[kind],
			DescriptorCount: count,
		})
	}

	if err := check(vk.CreateDescriptorSetLayout(device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, context.Allocator, &table.Layout), "vkCreateDescriptorSetLayout"); err != nil {
		return nil, err
	}

	if err := check(vk.CreateDescriptorPool(device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, context.Allocator, &table.Pool), "vkCreateDescriptorPool"); err != nil {
		table.Destroy(context)
		return nil, err
	}

	if err := check(vk.AllocateDescriptorSets(device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     table.Pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{table.Layout},
	}, &table.Set), "vkAllocateDescriptorSets"); err != nil {
		table.Destroy(context)
		return nil, err
	}

	anisotropy := vk.Bool32(vk.False)
	maxAnisotropy := float32(1)
	if context.Device.Features.SamplerAnisotropy == vk.True {
		context.Device.Properties.Limits.Deref()
		anisotropy = vk.True
		maxAnisotropy = context.Device.Properties.Limits.MaxSamplerAnisotropy
	}
	if err := check(vk.CreateSampler(device, &vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: anisotropy,
		MaxAnisotropy:    maxAnisotropy,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		MaxLod:           vk.LodClampNone,
	}, context.Allocator, &table.Sampler), "vkCreateSampler"); err != nil {
		table.Destroy(context)
		return nil, err
	}
	return table, nil
}

func (t *VulkanDescriptorTable) inRange(kind metadata.DescriptorKind, slot uint32) bool {
	if slot >= t.Capacity[kind] {
		core.LogError("descriptor slot %d out of range for %s (capacity %d)", slot, kind, t.Capacity[kind])
		return false
	}
	return true
}

func (t *VulkanDescriptorTable) WriteImage(context *VulkanContext, slot uint32, image *VulkanImage) {
	kind := metadata.DescriptorKindCombinedImageSampler
	if !t.inRange(kind, slot) {
		return
	}
	t.write(context, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          t.Set,
		DstBinding:      uint32(kind),
		DstArrayElement: slot,
		DescriptorCount: 1,
		DescriptorType:  descriptorTypes[kind],
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     t.Sampler,
			ImageView:   image.View,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	})
}

func (t *VulkanDescriptorTable) WriteBuffer(context *VulkanContext, slot uint32, buffer *VulkanBuffer, size uint64) {
	kind := metadata.DescriptorKindStorageBuffer
	if !t.inRange(kind, slot) {
		return
	}
	t.write(context, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          t.Set,
		DstBinding:      uint32(kind),
		DstArrayElement: slot,
		DescriptorCount: 1,
		DescriptorType:  descriptorTypes[kind],
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: buffer.Handle,
			Range:  vk.DeviceSize(size),
		}},
	})
}

// write updates one element. Updates to the set are externally synchronized.
func (t *VulkanDescriptorTable) write(context *VulkanContext, wd vk.WriteDescriptorSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{wd}, 0, nil)
}

func (t *VulkanDescriptorTable) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if t.Sampler != vk.NullSampler {
		vk.DestroySampler(device, t.Sampler, context.Allocator)
		t.Sampler = vk.NullSampler
	}
	// Destroying the pool frees the set.
	if t.Pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, t.Pool, context.Allocator)
		t.Pool = vk.NullDescriptorPool
		t.Set = vk.NullDescriptorSet
	}
	if t.Layout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, t.Layout, context.Allocator)
		t.Layout = vk.NullDescriptorSetLayout
	}
}
