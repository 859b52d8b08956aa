package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/math"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/resources"
)

var ErrInvalidPixels = errors.New("pixel data does not match image size")

// Texture is one uploaded image with its full mip chain, bound to a slot of
// the bindless table.
type Texture struct {
	resources.RefCount
	upload

	Name           string
	Kind           metadata.TextureKind
	Format         metadata.ImageFormat
	Width          uint32
	Height         uint32
	MipLevels      uint32
	Image          *metadata.Image
	DescriptorSlot uint32
}

func newTexture(ctx *resources.Context, name string, kind metadata.TextureKind) *Texture {
	return &Texture{Name: name, Kind: kind, upload: newUpload(ctx)}
}

// IsLoaded reports whether every mip level is resident on the device.
func (t *Texture) IsLoaded() bool {
	return t.IsFinished()
}

func (t *Texture) frees() []resources.PendingFree {
	return append(t.releaseFrees(),
		resources.PendingFree{
			Kind:           resources.FreeDescriptor,
			DescriptorKind: metadata.DescriptorKindCombinedImageSampler,
			Descriptor:     t.DescriptorSlot,
		},
		resources.PendingFree{Kind: resources.FreeImage, Image: t.Image},
	)
}

// generateMips fills the levels after the first in a buffer laid out as
// consecutive RGBA8 mip levels. Each texel is the rounded mean of the 2x2
// block above it.
func generateMips(chain []byte, width, height uint64, levels uint32) {
	const pixelSize = metadata.ImagePixelSize
	var srcOff uint64
	for level := uint32(0); level+1 < levels; level++ {
		srcW, srcH := width>>level, height>>level
		dstW, dstH := srcW>>1, srcH>>1
		dstOff := srcOff + srcW*srcH*pixelSize

		src := chain[srcOff:dstOff]
		dst := chain[dstOff : dstOff+dstW*dstH*pixelSize]
		for y := uint64(0); y < dstH; y++ {
			for x := uint64(0); x < dstW; x++ {
				sx, sy := x<<1, y<<1
				p0 := ((sy+0)*srcW + sx + 0) * pixelSize
				p1 := ((sy+1)*srcW + sx + 0) * pixelSize
				p2 := ((sy+0)*srcW + sx + 1) * pixelSize
				p3 := ((sy+1)*srcW + sx + 1) * pixelSize
				d := (y*dstW + x) * pixelSize
				for c := uint64(0); c < pixelSize; c++ {
					sum := uint32(src[p0+c]) + uint32(src[p1+c]) + uint32(src[p2+c]) + uint32(src[p3+c])
					dst[d+c] = uint8((sum + 2) / 4)
				}
			}
		}
		srcOff = dstOff
	}
}

// loadTexture builds the mip chain of pixels, uploads it into a new image
// and points a bindless slot at it.
func (ms *ModelSystem) loadTexture(tex *Texture, pixels *metadata.ImageData) error {
	format, err := metadata.FormatForTextureKind(tex.Kind)
	if err != nil {
		return errors.Wrapf(err, "texture %s", tex.Name)
	}
	const pixelSize = metadata.ImagePixelSize
	width, height := uint64(pixels.Width), uint64(pixels.Height)
	if width == 0 || height == 0 || uint64(len(pixels.Pixels)) != width*height*pixelSize {
		return errors.Wrapf(ErrInvalidPixels, "%s: %dx%d with %d bytes", tex.Name, width, height, len(pixels.Pixels))
	}
	size, levels := math.MipChain(width, height, pixelSize)

	staging, err := ms.ctx.CreateStagingBuffer(tex.Name+" staging", size)
	if err != nil {
		return errors.Wrapf(err, "staging %s", tex.Name)
	}
	copy(staging.Mapped, pixels.Pixels)
	generateMips(staging.Mapped, width, height, levels)

	image, err := ms.ctx.CreateImage(metadata.ImageInfo{
		Name:      tex.Name + " image",
		Width:     pixels.Width,
		Height:    pixels.Height,
		MipLevels: levels,
		Format:    format,
	})
	if err != nil {
		ms.ctx.Release(true, resources.PendingFree{Kind: resources.FreeBuffer, Buffer: staging})
		return errors.Wrapf(err, "image %s", tex.Name)
	}

	tex.Format = format
	tex.Width = pixels.Width
	tex.Height = pixels.Height
	tex.MipLevels = levels
	tex.Image = image
	tex.DescriptorSlot = ms.ctx.GrabDescriptorSlot(metadata.DescriptorKindCombinedImageSampler)
	ms.ctx.WriteImageDescriptor(tex.DescriptorSlot, image)

	regions := make([]metadata.BufferImageCopy, levels)
	var offset uint64
	for level := uint32(0); level < levels; level++ {
		w, h := pixels.Width>>level, pixels.Height>>level
		regions[level] = metadata.BufferImageCopy{
			BufferOffset: offset,
			MipLevel:     level,
			Width:        w,
			Height:       h,
		}
		offset += uint64(w) * uint64(h) * pixelSize
	}

	backend := ms.ctx.Backend()
	cmd, err := ms.ctx.SubmitTransfer(tex.Name, tex.completion, func(cmd *metadata.CommandBuffer) error {
		backend.CmdCopyBufferToImage(cmd, staging, image, regions...)
		return nil
	})
	if err != nil {
		ms.ctx.Release(true, resources.PendingFree{Kind: resources.FreeBuffer, Buffer: staging})
		return err
	}
	tex.markSubmitted(&resources.Staging{Buffer: staging, Command: cmd})
	return nil
}

// loadFileTexture decodes the image at path and uploads it.
func (ms *ModelSystem) loadFileTexture(tex *Texture, path string) error {
	core.LogInfo("loading file texture - %s", path)
	full, err := ms.catalog.Resolve(path)
	if err != nil {
		return err
	}
	res, err := ms.catalog.Images().Load(full, metadata.ResourceTypeImage, nil)
	if err != nil {
		return err
	}
	if err := ms.loadTexture(tex, res.Data.(*metadata.ImageData)); err != nil {
		return err
	}
	core.LogInfo("finished loading file texture - %s", path)
	return nil
}

// loadEmbeddedTexture uploads pixels carried by the model file itself.
func (ms *ModelSystem) loadEmbeddedTexture(tex *Texture, pixels *metadata.ImageData) error {
	core.LogInfo("loading embedded texture - %s", tex.Name)
	if err := ms.loadTexture(tex, pixels); err != nil {
		return err
	}
	core.LogInfo("finished loading embedded texture - %s", tex.Name)
	return nil
}
