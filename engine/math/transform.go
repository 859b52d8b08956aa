package math

import "github.com/go-gl/mathgl/mgl32"

// Transform is a decomposed local transform of a scene node.
type Transform struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
}

func TransformIdentity() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

func TransformFromTRS(translation mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) Transform {
	return Transform{
		Translation: translation,
		Rotation:    rotation.Normalize(),
		Scale:       scale,
	}
}

// Matrix composes translation * rotation * scale.
func (t Transform) Matrix() mgl32.Mat4 {
	tr := mgl32.Translate3D(t.Translation.X(), t.Translation.Y(), t.Translation.Z())
	sc := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return tr.Mul4(t.Rotation.Mat4()).Mul4(sc)
}

// TransformFromMatrix decomposes an affine matrix without shear or negative
// scale.
func TransformFromMatrix(mat mgl32.Mat4) Transform {
	translation := mat.Col(3).Vec3()

	c0, c1, c2 := mat.Col(0).Vec3(), mat.Col(1).Vec3(), mat.Col(2).Vec3()
	scale := mgl32.Vec3{c0.Len(), c1.Len(), c2.Len()}

	rot := mgl32.Ident4()
	if scale.X() != 0 {
		rot.SetCol(0, c0.Mul(1/scale.X()).Vec4(0))
	}
	if scale.Y() != 0 {
		rot.SetCol(1, c1.Mul(1/scale.Y()).Vec4(0))
	}
	if scale.Z() != 0 {
		rot.SetCol(2, c2.Mul(1/scale.Z()).Vec4(0))
	}

	return Transform{
		Translation: translation,
		Rotation:    mgl32.Mat4ToQuat(rot).Normalize(),
		Scale:       scale,
	}
}
