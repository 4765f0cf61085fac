// Package sdfx implements the kernel.Kernel interface as a persistent,
// reference-counted CSG tree whose leaves and hard booleans are
// github.com/deadsy/sdfx distance fields.
package sdfx

import (
	"fmt"
	"math"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct{}

// New returns a new SdfxKernel.
func New() *SdfxKernel {
	return &SdfxKernel{}
}

// unwrap extracts the tree node behind a kernel.Evaluator.
func unwrap(e kernel.Evaluator) *node {
	n, ok := e.(*node)
	if !ok {
		panic(fmt.Sprintf("sdfx: foreign evaluator %T", e))
	}
	return n
}

// Sphere creates a sphere centered on the origin.
func (k *SdfxKernel) Sphere(diameter float64) kernel.Evaluator {
	return newLeaf(opSphere, v3.Vec{X: positive(diameter / 2)})
}

// Box creates a box centered on the origin with the given edge lengths.
func (k *SdfxKernel) Box(x, y, z float64) kernel.Evaluator {
	return newLeaf(opBox, v3.Vec{X: positive(x / 2), Y: positive(y / 2), Z: positive(z / 2)})
}

// Cube creates a box with equal edges.
func (k *SdfxKernel) Cube(size float64) kernel.Evaluator {
	return k.Box(size, size, size)
}

// Torus creates a torus lying in the XY plane.
func (k *SdfxKernel) Torus(majorDiameter, minorDiameter float64) kernel.Evaluator {
	return newLeaf(opTorus, v3.Vec{X: positive(majorDiameter / 2), Y: positive(minorDiameter / 2)})
}

// Cylinder creates a cylinder along the Z axis centered on the origin.
func (k *SdfxKernel) Cylinder(diameter, height float64) kernel.Evaluator {
	return newLeaf(opCylinder, v3.Vec{X: positive(diameter / 2), Y: positive(height / 2)})
}

// Cone creates a cone along the Z axis centered on the origin, with its
// apex at +Z.
func (k *SdfxKernel) Cone(diameter, height float64) kernel.Evaluator {
	return k.Coninder(diameter, 0, height)
}

// Coninder creates a truncated cone along the Z axis centered on the
// origin. One of the two diameters may be zero.
func (k *SdfxKernel) Coninder(bottomDiameter, topDiameter, height float64) kernel.Evaluator {
	r0, r1 := math.Max(bottomDiameter/2, 0), math.Max(topDiameter/2, 0)
	if !(r0 > minExtent) && !(r1 > minExtent) {
		r0 = minExtent
	}
	return newLeaf(opCone, v3.Vec{X: r0, Y: r1, Z: positive(height / 2)})
}

func (k *SdfxKernel) fold(o op, t float64, a, b kernel.Evaluator, rest []kernel.Evaluator) kernel.Evaluator {
	n := newBinary(o, t, unwrap(a), unwrap(b))
	for _, e := range rest {
		n = newBinary(o, t, n, unwrap(e))
	}
	return n
}

// Union returns the union of the operands.
func (k *SdfxKernel) Union(a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator {
	return k.fold(opUnion, 0, a, b, rest)
}

// Inter returns the intersection of the operands.
func (k *SdfxKernel) Inter(a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator {
	return k.fold(opInter, 0, a, b, rest)
}

// Diff subtracts every later operand from a.
func (k *SdfxKernel) Diff(a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator {
	return k.fold(opDiff, 0, a, b, rest)
}

// BlendUnion is a smooth union with blend radius t.
func (k *SdfxKernel) BlendUnion(t float64, a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator {
	return k.fold(opBlendUnion, t, a, b, rest)
}

// BlendInter is a smooth intersection with blend radius t.
func (k *SdfxKernel) BlendInter(t float64, a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator {
	return k.fold(opBlendInter, t, a, b, rest)
}

// BlendDiff is a smooth difference with blend radius t.
func (k *SdfxKernel) BlendDiff(t float64, a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator {
	return k.fold(opBlendDiff, t, a, b, rest)
}

// transformOf splits e into the child and transform it should fold into.
func transformOf(e kernel.Evaluator) (child *node, rot mgl64.Quat, offset v3.Vec, scale float64) {
	n := unwrap(e)
	if n.op == opTransform {
		return n.a, n.rot, n.offset, n.scale
	}
	return n, mgl64.QuatIdent(), v3.Vec{}, 1
}

// Move translates e by offset.
func (k *SdfxKernel) Move(e kernel.Evaluator, offset v3.Vec) kernel.Evaluator {
	child, rot, t, s := transformOf(e)
	return newTransform(child, rot, t.Add(offset), s)
}

// Rotate rotates e about the origin.
func (k *SdfxKernel) Rotate(e kernel.Evaluator, q mgl64.Quat) kernel.Evaluator {
	if q.Len() == 0 || math.IsNaN(q.Len()) {
		q = mgl64.QuatIdent()
	}
	q = q.Normalize()
	child, rot, t, s := transformOf(e)
	r := q.Rotate(mgl64.Vec3{t.X, t.Y, t.Z})
	return newTransform(child, q.Mul(rot), v3.Vec{X: r[0], Y: r[1], Z: r[2]}, s)
}

func (k *SdfxKernel) rotateAxis(e kernel.Evaluator, degrees float64, axis mgl64.Vec3) kernel.Evaluator {
	return k.Rotate(e, mgl64.QuatRotate(mgl64.DegToRad(degrees), axis))
}

// RotateX rotates e about the X axis.
func (k *SdfxKernel) RotateX(e kernel.Evaluator, degrees float64) kernel.Evaluator {
	return k.rotateAxis(e, degrees, mgl64.Vec3{1, 0, 0})
}

// RotateY rotates e about the Y axis.
func (k *SdfxKernel) RotateY(e kernel.Evaluator, degrees float64) kernel.Evaluator {
	return k.rotateAxis(e, degrees, mgl64.Vec3{0, 1, 0})
}

// RotateZ rotates e about the Z axis.
func (k *SdfxKernel) RotateZ(e kernel.Evaluator, degrees float64) kernel.Evaluator {
	return k.rotateAxis(e, degrees, mgl64.Vec3{0, 0, 1})
}

// Scale scales e uniformly about the origin. Non-positive factors are
// replaced by their magnitude.
func (k *SdfxKernel) Scale(e kernel.Evaluator, s float64) kernel.Evaluator {
	s = positive(math.Abs(s))
	child, rot, t, old := transformOf(e)
	return newTransform(child, rot, t.MulScalar(s), old*s)
}

// Flate grows (positive) or shrinks (negative) the surface by diameter/2.
func (k *SdfxKernel) Flate(e kernel.Evaluator, diameter float64) kernel.Evaluator {
	return newFlate(unwrap(e), diameter/2)
}

// Align moves e so that the point of its bounding box selected by anchors
// lands on the origin. Each anchor runs from -1 (min face) to 1 (max face).
func (k *SdfxKernel) Align(e kernel.Evaluator, anchors v3.Vec) kernel.Evaluator {
	b := e.Bounds()
	half := b.Size().MulScalar(0.5)
	c := b.Center()
	p := v3.Vec{X: c.X + anchors.X*half.X, Y: c.Y + anchors.Y*half.Y, Z: c.Z + anchors.Z*half.Z}
	return k.Move(e, p.MulScalar(-1))
}

// Paint colors e. Without force, surfaces already painted keep their color.
func (k *SdfxKernel) Paint(e kernel.Evaluator, c kernel.Color, force bool) kernel.Evaluator {
	return newPaint(unwrap(e), c, force)
}
