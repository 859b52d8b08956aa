package vulkan

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if err := check(vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence), "vkCreateFence"); err != nil {
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

// FenceStatus polls the fence without blocking.
func (vf *VulkanFence) FenceStatus(context *VulkanContext) bool {
	if !vf.IsSignaled && vk.GetFenceStatus(context.Device.LogicalDevice, vf.Handle) == vk.Success {
		vf.IsSignaled = true
	}
	return vf.IsSignaled
}

func (vf *VulkanFence) FenceWait(context *VulkanContext, timeout time.Duration) error {
	if vf.IsSignaled {
		return nil
	}
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		return errors.Wrapf(metadata.ErrWaitTimeout, "fence after %s", timeout)
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	}
	return check(result, "vkWaitForFences")
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	if vf.IsSignaled {
		if err := check(vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}), "vkResetFences"); err != nil {
			return err
		}
		vf.IsSignaled = false
	}
	return nil
}

// Timeline emulates a timeline semaphore with a fence. The device signals
// the fence once the submission armed with the target value retires, at
// which point Value reports that target.
type Timeline struct {
	name    string
	context *VulkanContext

	mu     sync.Mutex
	fence  *VulkanFence
	target uint64
	value  uint64
	armed  chan struct{}
}

func newTimeline(context *VulkanContext, name string) (*Timeline, error) {
	fence, err := NewFence(context, false)
	if err != nil {
		return nil, err
	}
	return &Timeline{
		name:    name,
		context: context,
		fence:   fence,
		armed:   make(chan struct{}),
	}, nil
}

func (t *Timeline) Name() string {
	return t.name
}

// arm records the value the next submission signals. The caller submits
// with t.fence.Handle while holding the queue lock.
func (t *Timeline) arm(value uint64) (vk.Fence, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fence.FenceReset(t.context); err != nil {
		return vk.NullFence, err
	}
	t.target = value
	close(t.armed)
	t.armed = make(chan struct{})
	return t.fence.Handle, nil
}

func (t *Timeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.target > t.value && t.fence.FenceStatus(t.context) {
		t.value = t.target
	}
	return t.value
}

func (t *Timeline) Wait(value uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if t.Value() >= value {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.Wrapf(metadata.ErrWaitTimeout, "timeline %s: want %d after %s", t.name, value, timeout)
		}

		t.mu.Lock()
		target, armed, handle := t.target, t.armed, t.fence.Handle
		t.mu.Unlock()

		if target < value {
			// Nothing submitted will reach the value yet.
			timer := time.NewTimer(remaining)
			select {
			case <-armed:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}
		// Value observes the signal on the next iteration.
		res := vk.WaitForFences(t.context.Device.LogicalDevice, 1, []vk.Fence{handle}, vk.True, uint64(remaining.Nanoseconds()))
		if res != vk.Success && res != vk.Timeout {
			return errors.Wrapf(check(res, "vkWaitForFences"), "timeline %s", t.name)
		}
	}
}

func (t *Timeline) destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fence.FenceDestroy(t.context)
}
