// Package kernel defines the evaluator tree contract consumed by the
// spatial compiler, the model layer and the ray router. Implementations
// (sdfx) provide signed distance fields, color sampling and the textual
// decomposition used to generate GPU programs behind this interface.
package kernel

import (
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
)

// Program evaluates a generated distance program on the CPU with an
// arbitrary parameter vector. It mirrors what the GPU program computes.
type Program interface {
	Dist(params []float32, p [3]float32) float32
}

// Subtree is the deterministic decomposition of an evaluator into the
// pieces needed to build a GPU program.
type Subtree struct {
	Source    string    // generated WGSL, constants read from params[]
	Pretty    string    // human-readable form of the tree
	LeafCount int       // number of leaf primitives
	Params    []float32 // parameter vector in emission order
	Program   Program   // interpreter for Source
}

// Evaluator is a reference-counted, immutable CSG tree node.
type Evaluator interface {
	// Eval returns the signed distance at p.
	Eval(p v3.Vec) float64
	// Gradient returns the (unnormalized) distance gradient at p.
	Gradient(p v3.Vec) v3.Vec
	// Sample returns the surface color nearest to p.
	Sample(p v3.Vec) Color
	// RayMarch sphere-traces a ray against the field.
	RayMarch(origin, dir v3.Vec, maxIterations int, epsilon float64) RayHit
	// Bounds returns the axis-aligned bounding box of the occupied volume.
	Bounds() AABB
	// Clip returns a tree equivalent to this one everywhere inside the ball
	// (center, radius), with branches that cannot affect it removed.
	Clip(center v3.Vec, radius float64) Evaluator
	// Decompose emits generated source, pretty form and parameters.
	Decompose() Subtree
	// LeafCount returns the number of leaf primitives.
	LeafCount() int

	Hold()
	Release()
	RefCount() int
}

// Kernel builds evaluator trees. Every operation returns a new node and
// leaves its inputs untouched.
type Kernel interface {
	// Primitives, sized by diameter / full extent.
	Sphere(diameter float64) Evaluator
	Box(x, y, z float64) Evaluator
	Cube(size float64) Evaluator
	Torus(majorDiameter, minorDiameter float64) Evaluator
	Cylinder(diameter, height float64) Evaluator
	// Cone tapers from diameter at the bottom to a point at the top.
	Cone(diameter, height float64) Evaluator
	// Coninder is a truncated cone with different end diameters.
	Coninder(bottomDiameter, topDiameter, height float64) Evaluator

	// Boolean operations, folded left over the operands.
	Union(a, b Evaluator, rest ...Evaluator) Evaluator
	Inter(a, b Evaluator, rest ...Evaluator) Evaluator
	Diff(a, b Evaluator, rest ...Evaluator) Evaluator
	BlendUnion(k float64, a, b Evaluator, rest ...Evaluator) Evaluator
	BlendInter(k float64, a, b Evaluator, rest ...Evaluator) Evaluator
	BlendDiff(k float64, a, b Evaluator, rest ...Evaluator) Evaluator

	// Transforms
	Move(e Evaluator, offset v3.Vec) Evaluator
	Rotate(e Evaluator, q mgl64.Quat) Evaluator
	RotateX(e Evaluator, degrees float64) Evaluator
	RotateY(e Evaluator, degrees float64) Evaluator
	RotateZ(e Evaluator, degrees float64) Evaluator
	Scale(e Evaluator, s float64) Evaluator
	Flate(e Evaluator, diameter float64) Evaluator
	Align(e Evaluator, anchors v3.Vec) Evaluator

	// Materials
	Paint(e Evaluator, c Color, force bool) Evaluator
}
