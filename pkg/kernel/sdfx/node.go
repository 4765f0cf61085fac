package sdfx

import (
	"fmt"
	"math"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
)

// Compile-time interface check.
var _ kernel.Evaluator = (*node)(nil)

type op int

const (
	opSphere op = iota
	opBox
	opCylinder
	opTorus
	opCone
	opUnion
	opInter
	opDiff
	opBlendUnion
	opBlendInter
	opBlendDiff
	opTransform
	opFlate
	opPaint
)

var opNames = [...]string{
	opSphere:     "sphere",
	opBox:        "box",
	opCylinder:   "cylinder",
	opTorus:      "torus",
	opCone:       "cone",
	opUnion:      "union",
	opInter:      "inter",
	opDiff:       "diff",
	opBlendUnion: "blend_union",
	opBlendInter: "blend_inter",
	opBlendDiff:  "blend_diff",
	opTransform:  "transform",
	opFlate:      "flate",
	opPaint:      "paint",
}

func (o op) String() string { return opNames[o] }

func (o op) isLeaf() bool   { return o <= opCone }
func (o op) isBinary() bool { return o >= opUnion && o <= opBlendDiff }
func (o op) isBlend() bool  { return o >= opBlendUnion && o <= opBlendDiff }

// hard returns the non-blended operator of the same family.
func (o op) hard() op {
	if o.isBlend() {
		return o - (opBlendUnion - opUnion)
	}
	return o
}

// node is one immutable vertex of the evaluator tree. Nodes never change
// after construction apart from their reference count.
type node struct {
	op op

	// Leaf dimensions: sphere {r}, box {hx, hy, hz}, cylinder {r, h/2},
	// torus {major r, minor r}, cone {bottom r, top r, h/2}.
	dims v3.Vec

	// Blend threshold or flate radius.
	k float64

	// Transform: local = rot^-1 (world - offset) / scale.
	rot    mgl64.Quat
	offset v3.Vec
	scale  float64

	color kernel.Color
	force bool

	a, b *node

	field  sdf.SDF3
	bounds kernel.AABB
	leaves int
	refs   int
}

// minExtent replaces non-positive sizes.
const minExtent = 1e-6

func positive(x float64) float64 {
	if !(x > minExtent) {
		return minExtent
	}
	return x
}

func newLeaf(o op, dims v3.Vec) *node {
	n := &node{op: o, dims: dims, leaves: 1}
	var err error
	switch o {
	case opSphere:
		n.field, err = sdf.Sphere3D(dims.X)
		n.bounds = kernel.AABB{Min: v3.Vec{X: -dims.X, Y: -dims.X, Z: -dims.X}, Max: v3.Vec{X: dims.X, Y: dims.X, Z: dims.X}}
	case opBox:
		n.field, err = sdf.Box3D(dims.MulScalar(2), 0)
		n.bounds = kernel.AABB{Min: dims.MulScalar(-1), Max: dims}
	case opCylinder:
		n.field, err = sdf.Cylinder3D(dims.Y*2, dims.X, 0)
		n.bounds = kernel.AABB{Min: v3.Vec{X: -dims.X, Y: -dims.X, Z: -dims.Y}, Max: v3.Vec{X: dims.X, Y: dims.X, Z: dims.Y}}
	case opTorus:
		n.field = torusSDF{major: dims.X, minor: dims.Y}
		n.bounds = n.field.(torusSDF).box()
	case opCone:
		n.field, err = sdf.Cone3D(dims.Z*2, dims.X, dims.Y, 0)
		r := math.Max(dims.X, dims.Y)
		n.bounds = kernel.AABB{Min: v3.Vec{X: -r, Y: -r, Z: -dims.Z}, Max: v3.Vec{X: r, Y: r, Z: dims.Z}}
	default:
		panic(fmt.Sprintf("sdfx: %v is not a leaf", o))
	}
	if err != nil {
		panic(fmt.Sprintf("sdfx.%v: %v", o, err))
	}
	return n
}

func newBinary(o op, k float64, a, b *node) *node {
	if o.isBlend() && !(k > 0) {
		o = o.hard()
	}
	n := &node{op: o, k: k, a: a, b: b, leaves: a.leaves + b.leaves}
	switch o.hard() {
	case opUnion:
		if o.isBlend() {
			n.field = blendSDF{op: o, a: a.field, b: b.field, k: k}
		} else {
			n.field = sdf.Union3D(a.field, b.field)
		}
		n.bounds = a.bounds.Union(b.bounds)
		if o.isBlend() {
			n.bounds = n.bounds.Expand(k * 0.25)
		}
	case opInter:
		if o.isBlend() {
			n.field = blendSDF{op: o, a: a.field, b: b.field, k: k}
		} else {
			n.field = sdf.Intersect3D(a.field, b.field)
		}
		n.bounds = intersectBounds(a.bounds, b.bounds)
	case opDiff:
		if o.isBlend() {
			n.field = blendSDF{op: o, a: a.field, b: b.field, k: k}
		} else {
			n.field = sdf.Difference3D(a.field, b.field)
		}
		n.bounds = a.bounds
	}
	a.Hold()
	b.Hold()
	return n
}

func intersectBounds(a, b kernel.AABB) kernel.AABB {
	lo := v3.Vec{X: math.Max(a.Min.X, b.Min.X), Y: math.Max(a.Min.Y, b.Min.Y), Z: math.Max(a.Min.Z, b.Min.Z)}
	hi := v3.Vec{X: math.Min(a.Max.X, b.Max.X), Y: math.Min(a.Max.Y, b.Max.Y), Z: math.Min(a.Max.Z, b.Max.Z)}
	// Disjoint operands collapse to a degenerate box at the overlap midpoint.
	if lo.X > hi.X || lo.Y > hi.Y || lo.Z > hi.Z {
		c := lo.Add(hi).MulScalar(0.5)
		return kernel.AABB{Min: c, Max: c}
	}
	return kernel.AABB{Min: lo, Max: hi}
}

func newTransform(child *node, rot mgl64.Quat, offset v3.Vec, scale float64) *node {
	rot = rot.Normalize()
	n := &node{op: opTransform, rot: rot, offset: offset, scale: scale, a: child, leaves: child.leaves}
	t := transformSDF{inv: rot.Inverse(), offset: offset, scale: scale, child: child.field}
	n.field = t
	n.bounds = t.transformBox(child.bounds)
	child.Hold()
	return n
}

func newFlate(child *node, r float64) *node {
	n := &node{op: opFlate, k: r, a: child, leaves: child.leaves}
	n.field = flateSDF{child: child.field, r: r}
	n.bounds = child.bounds.Expand(math.Max(r, 0))
	child.Hold()
	return n
}

func newPaint(child *node, c kernel.Color, force bool) *node {
	n := &node{op: opPaint, color: c, force: force, a: child, leaves: child.leaves, field: child.field, bounds: child.bounds}
	child.Hold()
	return n
}

// rebuild returns a node like n over new children. Unchanged children
// return n itself.
func (n *node) rebuild(a, b *node) *node {
	if a == n.a && b == n.b {
		return n
	}
	switch {
	case n.op.isBinary():
		return newBinary(n.op, n.k, a, b)
	case n.op == opTransform:
		return newTransform(a, n.rot, n.offset, n.scale)
	case n.op == opFlate:
		return newFlate(a, n.k)
	case n.op == opPaint:
		return newPaint(a, n.color, n.force)
	}
	return n
}

// ----------------------------------------------------------------------------
// Reference counting
// ----------------------------------------------------------------------------

// Hold adds a reference.
func (n *node) Hold() {
	n.refs++
}

// Release drops a reference. The last release drops the node's references
// to its children.
func (n *node) Release() {
	if n.refs <= 0 {
		panic(fmt.Sprintf("sdfx: release of unheld %v node", n.op))
	}
	n.refs--
	if n.refs == 0 {
		if n.a != nil {
			n.a.Release()
		}
		if n.b != nil {
			n.b.Release()
		}
	}
}

// RefCount returns the number of outstanding references.
func (n *node) RefCount() int {
	return n.refs
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

// Eval returns the signed distance at p.
func (n *node) Eval(p v3.Vec) float64 {
	return n.field.Evaluate(p)
}

// gradientStep is the central difference step.
const gradientStep = 1e-4

// Gradient returns the central difference gradient at p.
func (n *node) Gradient(p v3.Vec) v3.Vec {
	dx := v3.Vec{X: gradientStep}
	dy := v3.Vec{Y: gradientStep}
	dz := v3.Vec{Z: gradientStep}
	return v3.Vec{
		X: n.Eval(p.Add(dx)) - n.Eval(p.Sub(dx)),
		Y: n.Eval(p.Add(dy)) - n.Eval(p.Sub(dy)),
		Z: n.Eval(p.Add(dz)) - n.Eval(p.Sub(dz)),
	}.MulScalar(1 / (2 * gradientStep))
}

// Sample returns the color of the surface nearest to p.
func (n *node) Sample(p v3.Vec) kernel.Color {
	c, _ := n.sample(p)
	return c
}

// sample reports the color at p and whether any paint node set it.
func (n *node) sample(p v3.Vec) (kernel.Color, bool) {
	switch {
	case n.op.isLeaf():
		return kernel.DefaultColor, false
	case n.op == opPaint:
		c, painted := n.a.sample(p)
		if n.force || !painted {
			return n.color, true
		}
		return c, true
	case n.op == opTransform:
		return n.a.sample(n.field.(transformSDF).local(p))
	case n.op == opFlate:
		return n.a.sample(p)
	}

	da, db := n.a.Eval(p), n.b.Eval(p)
	if n.op == opDiff || n.op == opBlendDiff {
		db = -db
	}
	if n.op.isBlend() {
		ca, pa := n.a.sample(p)
		cb, pb := n.b.sample(p)
		h := blendFactor(da, db, n.k)
		if n.op.hard() != opUnion {
			h = 1 - h
		}
		return cb.Mix(ca, h), pa || pb
	}
	pickA := da <= db
	if n.op != opUnion {
		pickA = da >= db
	}
	if pickA {
		return n.a.sample(p)
	}
	return n.b.sample(p)
}

// Bounds returns the bounding box of the occupied volume.
func (n *node) Bounds() kernel.AABB {
	return n.bounds
}

// LeafCount returns the number of leaf primitives.
func (n *node) LeafCount() int {
	return n.leaves
}

// RayMarch sphere-traces origin + t*dir inside the node's bounds.
func (n *node) RayMarch(origin, dir v3.Vec, maxIterations int, epsilon float64) kernel.RayHit {
	if !kernel.Finite(dir) || !kernel.Finite(origin) || dir.Length() == 0 {
		return kernel.RayHit{}
	}
	scale := dir.Length()
	unit := dir.MulScalar(1 / scale)

	tmin, tmax, ok := n.bounds.Expand(epsilon).Intersect(origin, unit)
	if !ok {
		return kernel.RayHit{}
	}
	t := tmin
	for i := 0; i < maxIterations && t <= tmax; i++ {
		p := origin.Add(unit.MulScalar(t))
		d := n.Eval(p)
		if d <= epsilon {
			return kernel.RayHit{Hit: true, Position: p, Travel: t / scale}
		}
		t += d
	}
	return kernel.RayHit{}
}
