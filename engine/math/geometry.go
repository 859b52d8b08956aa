package math

import (
	m "math"

	"github.com/go-gl/mathgl/mgl32"
)

// GenerateFaceNormals returns one normal per vertex. Each triangle writes its
// face normal to its three corners, so shared vertices keep the normal of the
// last triangle touching them.
func GenerateFaceNormals(positions []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	normals := make([]mgl32.Vec3, len(positions))
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := positions[i1].Sub(positions[i0])
		edge2 := positions[i2].Sub(positions[i0])

		c := edge1.Cross(edge2)
		if c.Len() == 0 {
			continue
		}
		normal := c.Normalize()

		normals[i0] = normal
		normals[i1] = normal
		normals[i2] = normal
	}
	return normals
}

// Bounds returns the axis aligned box around points. An empty slice yields
// two zero vectors.
func Bounds(points []mgl32.Vec3) (min, max mgl32.Vec3) {
	if len(points) == 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}
	}
	inf := float32(m.Inf(1))
	min = mgl32.Vec3{inf, inf, inf}
	max = mgl32.Vec3{-inf, -inf, -inf}
	for _, p := range points {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	return min, max
}

// SphereBounds packs the sphere enclosing an AABB as (center, radius).
func SphereBounds(min, max mgl32.Vec3) mgl32.Vec4 {
	center := min.Add(max).Mul(0.5)
	radius := max.Sub(min).Len() / 2
	return center.Vec4(radius)
}
