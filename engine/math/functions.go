package math

import (
	m "math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/constraints"
)

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// PadToAlignment rounds size up to the next multiple of alignment, which
// must be a power of two.
func PadToAlignment[T constraints.Unsigned](size, alignment T) T {
	return (size + alignment - 1) &^ (alignment - 1)
}

func signNotZero(v float32) float32 {
	if v >= 0 {
		return 1
	}
	return -1
}

// OctEncode maps a unit vector onto the [-1,1] square using the octahedral
// projection.
func OctEncode(n mgl32.Vec3) mgl32.Vec2 {
	l1 := float32(m.Abs(float64(n.X())) + m.Abs(float64(n.Y())) + m.Abs(float64(n.Z())))
	if l1 == 0 {
		return mgl32.Vec2{}
	}
	x, y := n.X()/l1, n.Y()/l1
	if n.Z() < 0 {
		ox := (1 - float32(m.Abs(float64(y)))) * signNotZero(x)
		oy := (1 - float32(m.Abs(float64(x)))) * signNotZero(y)
		x, y = ox, oy
	}
	return mgl32.Vec2{x, y}
}

// OctDecode is the inverse of OctEncode.
func OctDecode(e mgl32.Vec2) mgl32.Vec3 {
	n := mgl32.Vec3{e.X(), e.Y(), 1 - float32(m.Abs(float64(e.X()))) - float32(m.Abs(float64(e.Y())))}
	if n.Z() < 0 {
		x := (1 - float32(m.Abs(float64(n.Y())))) * signNotZero(n.X())
		y := (1 - float32(m.Abs(float64(n.X())))) * signNotZero(n.Y())
		n = mgl32.Vec3{x, y, n.Z()}
	}
	return n.Normalize()
}

func clamp(v, lo, hi float32) float32 {
	return float32(m.Max(float64(lo), m.Min(float64(hi), float64(v))))
}

// PackSnorm2x16 packs two [-1,1] floats into 16-bit signed normalized
// integers, first component in the low half.
func PackSnorm2x16(v mgl32.Vec2) uint32 {
	x := int16(m.Round(float64(clamp(v.X(), -1, 1) * 32767)))
	y := int16(m.Round(float64(clamp(v.Y(), -1, 1) * 32767)))
	return uint32(uint16(x)) | uint32(uint16(y))<<16
}

// UnpackSnorm2x16 is the inverse of PackSnorm2x16.
func UnpackSnorm2x16(p uint32) mgl32.Vec2 {
	x := float32(int16(uint16(p))) / 32767
	y := float32(int16(uint16(p>>16))) / 32767
	return mgl32.Vec2{clamp(x, -1, 1), clamp(y, -1, 1)}
}

// PackUnorm2x16 packs two [0,1] floats into 16-bit unsigned normalized
// integers, first component in the low half.
func PackUnorm2x16(v mgl32.Vec2) uint32 {
	x := uint16(m.Round(float64(clamp(v.X(), 0, 1) * 65535)))
	y := uint16(m.Round(float64(clamp(v.Y(), 0, 1) * 65535)))
	return uint32(x) | uint32(y)<<16
}

// UnpackUnorm2x16 is the inverse of PackUnorm2x16.
func UnpackUnorm2x16(p uint32) mgl32.Vec2 {
	return mgl32.Vec2{float32(uint16(p)) / 65535, float32(uint16(p>>16)) / 65535}
}

// MipChain returns the byte size of a full mip chain for a width x height
// image with pixelSize bytes per pixel, and the number of levels. Levels
// halve both dimensions until either reaches zero.
func MipChain(width, height, pixelSize uint64) (size uint64, levels uint32) {
	for width > 0 && height > 0 {
		size += width * height * pixelSize
		levels++
		width /= 2
		height /= 2
	}
	return size, levels
}
