package sdfx

import (
	"math"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
)

// Distance fields sdfx has no direct equivalent for. Each satisfies
// sdf.SDF3 so it composes with the library's booleans.
var (
	_ sdf.SDF3 = torusSDF{}
	_ sdf.SDF3 = blendSDF{}
	_ sdf.SDF3 = transformSDF{}
	_ sdf.SDF3 = flateSDF{}
)

// torusSDF is a torus around the Z axis.
type torusSDF struct {
	major, minor float64
}

func (s torusSDF) Evaluate(p v3.Vec) float64 {
	qx := math.Hypot(p.X, p.Y) - s.major
	return math.Hypot(qx, p.Z) - s.minor
}

func (s torusSDF) box() kernel.AABB {
	r := s.major + s.minor
	return kernel.AABB{Min: v3.Vec{X: -r, Y: -r, Z: -s.minor}, Max: v3.Vec{X: r, Y: r, Z: s.minor}}
}

func (s torusSDF) BoundingBox() sdf.Box3 {
	return s.box().Box3()
}

// blendFactor is the polynomial smooth-min weight of a against b.
func blendFactor(a, b, k float64) float64 {
	return math.Max(0, math.Min(1, 0.5+0.5*(b-a)/k))
}

func smin(a, b, k float64) float64 {
	h := blendFactor(a, b, k)
	return b + (a-b)*h - k*h*(1-h)
}

// blendSDF is a smooth union, intersection or difference.
type blendSDF struct {
	op   op
	a, b sdf.SDF3
	k    float64
}

func (s blendSDF) Evaluate(p v3.Vec) float64 {
	a, b := s.a.Evaluate(p), s.b.Evaluate(p)
	switch s.op {
	case opBlendInter:
		return -smin(-a, -b, s.k)
	case opBlendDiff:
		return -smin(-a, b, s.k)
	}
	return smin(a, b, s.k)
}

func (s blendSDF) BoundingBox() sdf.Box3 {
	bb := kernel.FromBox3(s.a.BoundingBox())
	if s.op == opBlendUnion {
		bb = bb.Union(kernel.FromBox3(s.b.BoundingBox())).Expand(s.k * 0.25)
	}
	return bb.Box3()
}

// transformSDF maps world points into the child's frame:
// local = inv (p - offset) / scale.
type transformSDF struct {
	inv    mgl64.Quat
	offset v3.Vec
	scale  float64
	child  sdf.SDF3
}

func (s transformSDF) local(p v3.Vec) v3.Vec {
	d := p.Sub(s.offset)
	r := s.inv.Rotate(mgl64.Vec3{d.X, d.Y, d.Z})
	return v3.Vec{X: r[0], Y: r[1], Z: r[2]}.MulScalar(1 / s.scale)
}

func (s transformSDF) world(p v3.Vec) v3.Vec {
	r := s.inv.Inverse().Rotate(mgl64.Vec3{p.X, p.Y, p.Z})
	return v3.Vec{X: r[0], Y: r[1], Z: r[2]}.MulScalar(s.scale).Add(s.offset)
}

func (s transformSDF) Evaluate(p v3.Vec) float64 {
	return s.child.Evaluate(s.local(p)) * s.scale
}

// transformBox bounds the eight transformed corners of b.
func (s transformSDF) transformBox(b kernel.AABB) kernel.AABB {
	corners := b.Corners()
	out := kernel.AABB{Min: s.world(corners[0]), Max: s.world(corners[0])}
	for _, c := range corners[1:] {
		w := s.world(c)
		out = out.Union(kernel.AABB{Min: w, Max: w})
	}
	return out
}

func (s transformSDF) BoundingBox() sdf.Box3 {
	return s.transformBox(kernel.FromBox3(s.child.BoundingBox())).Box3()
}

// flateSDF grows (r > 0) or shrinks (r < 0) a shape by r.
type flateSDF struct {
	child sdf.SDF3
	r     float64
}

func (s flateSDF) Evaluate(p v3.Vec) float64 {
	return s.child.Evaluate(p) - s.r
}

func (s flateSDF) BoundingBox() sdf.Box3 {
	return kernel.FromBox3(s.child.BoundingBox()).Expand(math.Max(s.r, 0)).Box3()
}
