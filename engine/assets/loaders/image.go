package loaders

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"runtime"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var ErrDecodeImage = errors.New("failed to decode image")

// ImageLoader decodes any registered image format into RGBA8. Decoding is
// memory hungry, so the number of concurrent decodes is bounded.
type ImageLoader struct {
	decodes *semaphore.Weighted
}

func NewImageLoader(maxConcurrent int64) *ImageLoader {
	if maxConcurrent <= 0 {
		maxConcurrent = int64(runtime.NumCPU())
	}
	return &ImageLoader{decodes: semaphore.NewWeighted(maxConcurrent)}
}

func (il *ImageLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	flipY := false
	if p, ok := params.(*metadata.ImageResourceParams); ok && p != nil {
		flipY = p.FlipY
	}

	r, err := OpenAsset(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := il.Decode(r, flipY)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeImage,
		Name:     path,
		FullPath: path,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

// Decode reads one encoded image from r.
func (il *ImageLoader) Decode(r io.Reader, flipY bool) (*metadata.ImageData, error) {
	if err := il.decodes.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	defer il.decodes.Release(1)

	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "image.Decode"), ErrDecodeImage)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Wrapf(ErrDecodeImage, "empty %s image", format)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	if flipY {
		flipRows(rgba.Pix, rgba.Stride, bounds.Dy())
	}
	return &metadata.ImageData{
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
		Pixels: rgba.Pix,
	}, nil
}

// DecodeBytes decodes an image held in memory, such as one embedded in a
// model file.
func (il *ImageLoader) DecodeBytes(b []byte, flipY bool) (*metadata.ImageData, error) {
	return il.Decode(bytes.NewReader(b), flipY)
}

func (il *ImageLoader) Unload(*metadata.Resource) error {
	return nil
}

func flipRows(pix []uint8, stride, rows int) {
	tmp := make([]uint8, stride)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := pix[top*stride : (top+1)*stride]
		b := pix[bottom*stride : (bottom+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}
