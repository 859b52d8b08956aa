package vulkan

import (
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

type Config struct {
	FramesInFlight     uint32
	DescriptorCapacity [metadata.DescriptorKindCount]uint32
	// Debug enables the validation layer and the debug report callback.
	Debug bool
}

// VulkanRenderer runs uploads on a device without a surface. Frames are
// empty submissions whose fences retire after every earlier transfer.
type VulkanRenderer struct {
	config  Config
	context *VulkanContext

	descriptors *VulkanDescriptorTable
	frames      []*VulkanFence
	submitted   []bool

	mu          sync.Mutex
	initialized bool
}

func New(config Config) *VulkanRenderer {
	if config.FramesInFlight == 0 {
		config.FramesInFlight = 2
	}
	return &VulkanRenderer{
		config: config,
		context: &VulkanContext{
			Device: &VulkanDevice{GraphicsQueueIndex: -1, TransferQueueIndex: -1},
		},
	}
}

func (vr *VulkanRenderer) Initialize(appName string) error {
	// The loader is resolved through GLFW, which must be initialized first.
	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "initializing glfw")
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		glfw.Terminate()
		return errors.Wrap(ErrNotInitialized, "GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		glfw.Terminate()
		return errors.Wrap(err, "initializing vk")
	}

	if err := vr.createInstance(appName); err != nil {
		vr.destroy()
		return err
	}
	if err := DeviceCreate(vr.context); err != nil {
		vr.destroy()
		return err
	}

	table, err := NewVulkanDescriptorTable(vr.context, vr.config.DescriptorCapacity)
	if err != nil {
		vr.destroy()
		return err
	}
	vr.descriptors = table

	vr.frames = make([]*VulkanFence, vr.config.FramesInFlight)
	vr.submitted = make([]bool, vr.config.FramesInFlight)
	for i := range vr.frames {
		if vr.frames[i], err = NewFence(vr.context, false); err != nil {
			vr.destroy()
			return err
		}
	}

	vr.mu.Lock()
	vr.initialized = true
	vr.mu.Unlock()
	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (vr *VulkanRenderer) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Keystone Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	var layers []string
	if vr.config.Debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = append(layers, "VK_LAYER_KHRONOS_validation")
		if err := requireLayers(layers); err != nil {
			return err
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := check(vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance), "vkCreateInstance"); err != nil {
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		return errors.Wrap(err, "loading instance functions")
	}
	core.LogInfo("Vulkan Instance created.")

	if vr.config.Debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := check(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, vr.context.Allocator, &dbg), "vkCreateDebugReportCallback"); err != nil {
			return err
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func requireLayers(required []string) error {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, available), "vkEnumerateInstanceLayerProperties"); err != nil {
		return err
	}
	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(ErrVulkan, "required validation layer is missing: %s", name)
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	vr.mu.Lock()
	initialized := vr.initialized
	vr.initialized = false
	vr.mu.Unlock()
	if !initialized {
		return nil
	}
	if err := vr.WaitIdle(); err != nil {
		core.LogError("waiting for the device before shutdown: %s", err)
	}
	vr.destroy()
	core.LogInfo("Vulkan renderer shut down.")
	return nil
}

// destroy releases whatever Initialize managed to create, in reverse.
func (vr *VulkanRenderer) destroy() {
	ctx := vr.context
	if ctx.Device.LogicalDevice != nil {
		for _, f := range vr.frames {
			if f != nil {
				f.FenceDestroy(ctx)
			}
		}
		vr.frames = nil
		if vr.descriptors != nil {
			vr.descriptors.Destroy(ctx)
			vr.descriptors = nil
		}
		DeviceDestroy(ctx)
	}
	if ctx.debugMessenger != nil {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = nil
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
	glfw.Terminate()
}

func (vr *VulkanRenderer) frame(slot uint32) (*VulkanFence, error) {
	if int(slot) >= len(vr.frames) {
		return nil, errors.Wrapf(ErrUnknownFrame, "%d", slot)
	}
	return vr.frames[slot], nil
}

func (vr *VulkanRenderer) BeginFrame(slot uint32, timeout time.Duration) error {
	fence, err := vr.frame(slot)
	if err != nil {
		return err
	}
	vr.context.queueMu.Lock()
	submitted := vr.submitted[slot]
	vr.context.queueMu.Unlock()
	if !submitted {
		return nil
	}
	return fence.FenceWait(vr.context, timeout)
}

func (vr *VulkanRenderer) EndFrame(slot uint32) error {
	fence, err := vr.frame(slot)
	if err != nil {
		return err
	}
	vr.context.queueMu.Lock()
	defer vr.context.queueMu.Unlock()
	if err := fence.FenceReset(vr.context); err != nil {
		return err
	}
	// An empty batch still orders its fence after all earlier submissions.
	if err := check(vk.QueueSubmit(vr.context.Device.TransferQueue, 0, nil, fence.Handle), "vkQueueSubmit"); err != nil {
		return err
	}
	vr.submitted[slot] = true
	return nil
}

func (vr *VulkanRenderer) WaitIdle() error {
	if vr.context.Device.LogicalDevice == nil {
		return nil
	}
	vr.context.queueMu.Lock()
	defer vr.context.queueMu.Unlock()
	return check(vk.DeviceWaitIdle(vr.context.Device.LogicalDevice), "vkDeviceWaitIdle")
}

func (vr *VulkanRenderer) BufferCreate(info metadata.BufferInfo) (*metadata.Buffer, error) {
	vb, err := NewVulkanBuffer(vr.context, info)
	if err != nil {
		return nil, errors.Wrapf(err, "buffer %s", info.Name)
	}
	return &metadata.Buffer{
		Name:         info.Name,
		Size:         info.Size,
		Usage:        info.Usage,
		Memory:       info.Memory,
		Mapped:       vb.Mapped(info.Size),
		InternalData: vb,
	}, nil
}

func (vr *VulkanRenderer) BufferDestroy(buffer *metadata.Buffer) {
	if buffer == nil {
		return
	}
	if vb, ok := buffer.InternalData.(*VulkanBuffer); ok {
		vb.Destroy(vr.context)
	}
	buffer.Mapped = nil
	buffer.InternalData = nil
}

func (vr *VulkanRenderer) ImageCreate(info metadata.ImageInfo) (*metadata.Image, error) {
	vi, err := NewVulkanImage(vr.context, info)
	if err != nil {
		return nil, errors.Wrapf(err, "image %s", info.Name)
	}
	return &metadata.Image{
		Name:         info.Name,
		Width:        info.Width,
		Height:       info.Height,
		MipLevels:    info.MipLevels,
		Format:       info.Format,
		InternalData: vi,
	}, nil
}

func (vr *VulkanRenderer) ImageDestroy(image *metadata.Image) {
	if image == nil {
		return
	}
	if vi, ok := image.InternalData.(*VulkanImage); ok {
		vi.Destroy(vr.context)
	}
	image.InternalData = nil
}

func (vr *VulkanRenderer) TimelineCreate(name string) (metadata.Timeline, error) {
	return newTimeline(vr.context, name)
}

func (vr *VulkanRenderer) TimelineDestroy(timeline metadata.Timeline) {
	if t, ok := timeline.(*Timeline); ok {
		t.destroy()
	}
}

func (vr *VulkanRenderer) TransferCommandsRequest(tag string) (*metadata.CommandBuffer, error) {
	vr.context.poolMu.Lock()
	defer vr.context.poolMu.Unlock()
	vcb, err := NewVulkanCommandBuffer(vr.context, vr.context.Device.TransferCommandPool)
	if err != nil {
		return nil, errors.Wrapf(err, "transfer commands for %s", tag)
	}
	if err := vcb.Begin(true); err != nil {
		vcb.Free(vr.context)
		return nil, errors.Wrapf(err, "transfer commands for %s", tag)
	}
	return &metadata.CommandBuffer{
		Tag:          tag,
		State:        metadata.COMMAND_BUFFER_STATE_RECORDING,
		InternalData: vcb,
	}, nil
}

func (vr *VulkanRenderer) CmdCopyBuffer(cmd *metadata.CommandBuffer, src, dst *metadata.Buffer, regions ...metadata.BufferCopy) {
	vcb := commandBuffer(cmd)
	if vcb == nil || len(regions) == 0 {
		return
	}
	s, d := src.InternalData.(*VulkanBuffer), dst.InternalData.(*VulkanBuffer)
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vr.context.poolMu.Lock()
	defer vr.context.poolMu.Unlock()
	vk.CmdCopyBuffer(vcb.Handle, s.Handle, d.Handle, uint32(len(copies)), copies)
}

// CmdCopyBufferToImage moves the whole image into the transfer layout,
// copies every region and leaves it ready for sampling.
func (vr *VulkanRenderer) CmdCopyBufferToImage(cmd *metadata.CommandBuffer, src *metadata.Buffer, dst *metadata.Image, regions ...metadata.BufferImageCopy) {
	vcb := commandBuffer(cmd)
	if vcb == nil || len(regions) == 0 {
		return
	}
	s, img := src.InternalData.(*VulkanBuffer), dst.InternalData.(*VulkanImage)
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:   r.MipLevel,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: r.Width, Height: r.Height, Depth: 1},
		}
	}
	vr.context.poolMu.Lock()
	defer vr.context.poolMu.Unlock()
	img.Transition(vcb.Handle, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	vk.CmdCopyBufferToImage(vcb.Handle, s.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, uint32(len(copies)), copies)
	img.Transition(vcb.Handle, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
}

func (vr *VulkanRenderer) TransferCommandsSubmit(cmd *metadata.CommandBuffer, signal metadata.Timeline, value uint64) error {
	vcb := commandBuffer(cmd)
	if vcb == nil {
		return errors.Wrapf(ErrNotRecording, "%s", cmd.Tag)
	}
	var timeline *Timeline
	if signal != nil {
		var ok bool
		if timeline, ok = signal.(*Timeline); !ok {
			return errors.Wrapf(ErrUnknownTimeline, "%s", signal.Name())
		}
	}

	vr.context.poolMu.Lock()
	err := vcb.End()
	vr.context.poolMu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "%s", cmd.Tag)
	}

	vr.context.queueMu.Lock()
	defer vr.context.queueMu.Unlock()
	fence := vk.NullFence
	if timeline != nil {
		if fence, err = timeline.arm(value); err != nil {
			return errors.Wrapf(err, "%s", cmd.Tag)
		}
	}
	if err := vcb.Submit(vr.context.Device.TransferQueue, fence); err != nil {
		return errors.Wrapf(err, "%s", cmd.Tag)
	}
	cmd.State = metadata.COMMAND_BUFFER_STATE_SUBMITTED
	return nil
}

func (vr *VulkanRenderer) TransferCommandsFree(cmd *metadata.CommandBuffer) {
	if cmd == nil {
		return
	}
	if vcb, ok := cmd.InternalData.(*VulkanCommandBuffer); ok {
		vr.context.poolMu.Lock()
		vcb.Free(vr.context)
		vr.context.poolMu.Unlock()
	}
	cmd.State = metadata.COMMAND_BUFFER_STATE_NOT_ALLOCATED
	cmd.InternalData = nil
}

func (vr *VulkanRenderer) DescriptorWriteImage(slot uint32, image *metadata.Image) {
	if vi, ok := image.InternalData.(*VulkanImage); ok {
		vr.descriptors.WriteImage(vr.context, slot, vi)
	}
}

func (vr *VulkanRenderer) DescriptorWriteBuffer(slot uint32, buffer *metadata.Buffer) {
	if vb, ok := buffer.InternalData.(*VulkanBuffer); ok {
		vr.descriptors.WriteBuffer(vr.context, slot, vb, buffer.Size)
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.False
}
