package renderer

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/headless"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Headless RendererType = iota
	Vulkan
)

func (t RendererType) String() string {
	if t == Vulkan {
		return "vulkan"
	}
	return "headless"
}

var ErrUnknownBackend = errors.New("unknown renderer backend")

// ParseRendererType maps a config value onto a backend.
func ParseRendererType(s string) (RendererType, error) {
	switch strings.ToLower(s) {
	case "", "headless":
		return Headless, nil
	case "vulkan":
		return Vulkan, nil
	}
	return Headless, errors.Wrapf(ErrUnknownBackend, "%q", s)
}

type RendererConfig struct {
	Backend RendererType
	// TransferLatency delays completion of headless submissions.
	TransferLatency time.Duration
	FramesInFlight  uint32
	// DescriptorCapacity sizes the bindless table per kind.
	DescriptorCapacity [metadata.DescriptorKindCount]uint32
	Debug              bool
}

// Renderer owns the backend and counts presented frames.
type Renderer struct {
	RendererBackend
	Type        RendererType
	FrameNumber uint64
}

func New(config RendererConfig) (*Renderer, error) {
	var backend RendererBackend
	switch config.Backend {
	case Headless:
		backend = headless.New(headless.Config{
			Latency:            config.TransferLatency,
			FramesInFlight:     config.FramesInFlight,
			DescriptorCapacity: config.DescriptorCapacity,
		})
	case Vulkan:
		backend = vulkan.New(vulkan.Config{
			FramesInFlight:     config.FramesInFlight,
			DescriptorCapacity: config.DescriptorCapacity,
			Debug:              config.Debug,
		})
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%d", config.Backend)
	}
	return &Renderer{
		RendererBackend: backend,
		Type:            config.Backend,
	}, nil
}

// DrawFrame ends the frame for the slot and advances the frame counter.
func (r *Renderer) DrawFrame(slot uint32) error {
	if err := r.EndFrame(slot); err != nil {
		core.LogError("RendererEndFrame failed: %s", err)
		return err
	}
	r.FrameNumber++
	return nil
}

var (
	_ RendererBackend = (*headless.Backend)(nil)
	_ RendererBackend = (*vulkan.VulkanRenderer)(nil)
)
