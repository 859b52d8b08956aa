package metadata

import "github.com/cockroachdb/errors"

var ErrUnsupportedTextureKind = errors.New("unsupported texture kind")

/**
 * @brief The role a texture plays in a material.
 */
type TextureKind int

const (
	TextureKindNone TextureKind = iota
	TextureKindDiffuse
	TextureKindSpecular
	TextureKindAmbient
	TextureKindEmissive
	TextureKindHeight
	TextureKindNormal
	TextureKindOpacity
	TextureKindLightmap
	TextureKindBaseColor
	TextureKindMetalness
	TextureKindRoughness
	TextureKindOcclusion
)

var textureKindNames = map[TextureKind]string{
	TextureKindNone:      "none",
	TextureKindDiffuse:   "diffuse",
	TextureKindSpecular:  "specular",
	TextureKindAmbient:   "ambient",
	TextureKindEmissive:  "emissive",
	TextureKindHeight:    "height",
	TextureKindNormal:    "normal",
	TextureKindOpacity:   "opacity",
	TextureKindLightmap:  "lightmap",
	TextureKindBaseColor: "base_color",
	TextureKindMetalness: "metalness",
	TextureKindRoughness: "roughness",
	TextureKindOcclusion: "occlusion",
}

func (k TextureKind) String() string {
	if n, ok := textureKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseTextureKind maps a material slot name back to its kind.
func ParseTextureKind(name string) (TextureKind, error) {
	for k, n := range textureKindNames {
		if n == name {
			return k, nil
		}
	}
	return TextureKindNone, errors.Wrapf(ErrUnsupportedTextureKind, "%q", name)
}

/**
 * @brief Device image formats used by uploaded textures.
 */
type ImageFormat int

const (
	ImageFormatUndefined ImageFormat = iota
	ImageFormatRGBA8Srgb
	ImageFormatRGBA8Unorm
	ImageFormatRGBA8Snorm
	ImageFormatR32Sfloat
)

func (f ImageFormat) String() string {
	switch f {
	case ImageFormatRGBA8Srgb:
		return "RGBA8_SRGB"
	case ImageFormatRGBA8Unorm:
		return "RGBA8_UNORM"
	case ImageFormatRGBA8Snorm:
		return "RGBA8_SNORM"
	case ImageFormatR32Sfloat:
		return "R32_SFLOAT"
	default:
		return "UNDEFINED"
	}
}

// FormatForTextureKind returns the image format a texture of the given kind
// is uploaded as. Kinds without a format cannot be uploaded.
func FormatForTextureKind(kind TextureKind) (ImageFormat, error) {
	switch kind {
	case TextureKindDiffuse, TextureKindSpecular, TextureKindBaseColor:
		return ImageFormatRGBA8Srgb, nil
	case TextureKindNormal:
		return ImageFormatRGBA8Snorm, nil
	case TextureKindLightmap:
		return ImageFormatR32Sfloat, nil
	default:
		return ImageFormatUndefined, errors.Wrapf(ErrUnsupportedTextureKind, "%s", kind)
	}
}
