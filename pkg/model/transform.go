package model

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
)

// Transform places a model in the world:
//
//	world = Position + Rotation * (Scale * local)
//
// The inverse rotation is cached and refreshed on every rotation change.
type Transform struct {
	Position v3.Vec
	Rotation mgl64.Quat
	Scale    float64

	inverse mgl64.Quat
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		Rotation: mgl64.QuatIdent(),
		Scale:    1,
		inverse:  mgl64.QuatIdent(),
	}
}

func toMgl(v v3.Vec) mgl64.Vec3   { return mgl64.Vec3{v.X, v.Y, v.Z} }
func fromMgl(v mgl64.Vec3) v3.Vec { return v3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// Move translates by offset in world space.
func (t *Transform) Move(offset v3.Vec) {
	t.Position = t.Position.Add(offset)
}

// Rotate composes q after the current rotation, about the model's origin.
// A zero-length quaternion is ignored.
func (t *Transform) Rotate(q mgl64.Quat) {
	if l := q.Len(); l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return
	}
	t.Rotation = q.Normalize().Mul(t.Rotation).Normalize()
	t.inverse = t.Rotation.Inverse()
}

func axisRotation(axis mgl64.Vec3, degrees float64) mgl64.Quat {
	return mgl64.QuatRotate(mgl64.DegToRad(degrees), axis)
}

func (t *Transform) RotateX(degrees float64) { t.Rotate(axisRotation(mgl64.Vec3{1, 0, 0}, degrees)) }
func (t *Transform) RotateY(degrees float64) { t.Rotate(axisRotation(mgl64.Vec3{0, 1, 0}, degrees)) }
func (t *Transform) RotateZ(degrees float64) { t.Rotate(axisRotation(mgl64.Vec3{0, 0, 1}, degrees)) }

// ScaleBy multiplies the uniform scale by |s|. Zero and non-finite factors
// are ignored.
func (t *Transform) ScaleBy(s float64) {
	s = math.Abs(s)
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return
	}
	t.Scale *= s
}

// Reset restores the identity transform.
func (t *Transform) Reset() {
	*t = Identity()
}

// IsIdentity reports whether t leaves every point in place.
func (t Transform) IsIdentity() bool {
	return t.Position == (v3.Vec{}) && t.Scale == 1 && t.Rotation.ApproxEqual(mgl64.QuatIdent())
}

// Apply maps a local point to world space.
func (t Transform) Apply(local v3.Vec) v3.Vec {
	return t.Position.Add(fromMgl(t.Rotation.Rotate(toMgl(local.MulScalar(t.Scale)))))
}

// ApplyInverse maps a world point to local space.
func (t Transform) ApplyInverse(world v3.Vec) v3.Vec {
	return t.InverseRotate(world.Sub(t.Position)).MulScalar(1 / t.Scale)
}

// InverseRotate applies the cached inverse rotation to a direction.
func (t Transform) InverseRotate(dir v3.Vec) v3.Vec {
	return fromMgl(t.inverse.Rotate(toMgl(dir)))
}
