package kernel

import (
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// AABB is an axis-aligned bounding box. Min <= Max componentwise.
type AABB struct {
	Min v3.Vec `json:"min"`
	Max v3.Vec `json:"max"`
}

// NewAABB returns the box spanned by a and b in either order.
func NewAABB(a, b v3.Vec) AABB {
	return AABB{
		Min: v3.Vec{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)},
		Max: v3.Vec{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)},
	}
}

// FromBox3 converts an sdfx bounding box.
func FromBox3(b sdf.Box3) AABB {
	return NewAABB(b.Min, b.Max)
}

// Box3 converts to an sdfx bounding box.
func (b AABB) Box3() sdf.Box3 {
	return sdf.Box3{Min: b.Min, Max: b.Max}
}

// Size returns the edge lengths.
func (b AABB) Size() v3.Vec {
	return b.Max.Sub(b.Min)
}

// Center returns the midpoint.
func (b AABB) Center() v3.Vec {
	return b.Min.Add(b.Max).MulScalar(0.5)
}

// HalfDiagonal returns the radius of the sphere circumscribing the box.
func (b AABB) HalfDiagonal() float64 {
	return b.Size().Length() * 0.5
}

// LongestSide returns the largest edge length.
func (b AABB) LongestSide() float64 {
	s := b.Size()
	return math.Max(s.X, math.Max(s.Y, s.Z))
}

// Contains reports whether p lies inside or on the boundary of the box.
func (b AABB) Contains(p v3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Overlap returns the volume shared by two boxes; zero for boxes that only
// touch or are disjoint.
func (b AABB) Overlap(o AABB) float64 {
	dx := math.Min(b.Max.X, o.Max.X) - math.Max(b.Min.X, o.Min.X)
	dy := math.Min(b.Max.Y, o.Max.Y) - math.Max(b.Min.Y, o.Min.Y)
	dz := math.Min(b.Max.Z, o.Max.Z) - math.Max(b.Min.Z, o.Min.Z)
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}

// Union returns the smallest box containing both boxes.
func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: v3.Vec{X: math.Min(b.Min.X, o.Min.X), Y: math.Min(b.Min.Y, o.Min.Y), Z: math.Min(b.Min.Z, o.Min.Z)},
		Max: v3.Vec{X: math.Max(b.Max.X, o.Max.X), Y: math.Max(b.Max.Y, o.Max.Y), Z: math.Max(b.Max.Z, o.Max.Z)},
	}
}

// Expand grows the box by d on every side.
func (b AABB) Expand(d float64) AABB {
	dv := v3.Vec{X: d, Y: d, Z: d}
	return AABB{Min: b.Min.Sub(dv), Max: b.Max.Add(dv)}
}

// Corners returns the eight corner points.
func (b AABB) Corners() [8]v3.Vec {
	var c [8]v3.Vec
	for i := range c {
		c[i] = v3.Vec{X: b.Min.X, Y: b.Min.Y, Z: b.Min.Z}
		if i&1 != 0 {
			c[i].X = b.Max.X
		}
		if i&2 != 0 {
			c[i].Y = b.Max.Y
		}
		if i&4 != 0 {
			c[i].Z = b.Max.Z
		}
	}
	return c
}

// Intersect clips the ray origin + t*dir against the box and returns the
// parametric entry and exit distances. ok is false when the ray misses.
func (b AABB) Intersect(origin, dir v3.Vec) (tmin, tmax float64, ok bool) {
	tmin, tmax = 0, math.Inf(1)
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, 0, false
			}
			continue
		}
		t0 := (lo[i] - o[i]) / d[i]
		t1 := (hi[i] - o[i]) / d[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = math.Max(tmin, t0)
		tmax = math.Min(tmax, t1)
		if tmin > tmax {
			return 0, 0, false
		}
	}
	return tmin, tmax, true
}

// Color is a linear RGBA color.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// DefaultColor is the color of unpainted geometry.
var DefaultColor = Color{R: 1, G: 1, B: 1, A: 1}

// Mix blends c towards o by t in [0, 1].
func (c Color) Mix(o Color, t float64) Color {
	return Color{
		R: c.R + (o.R-c.R)*t,
		G: c.G + (o.G-c.G)*t,
		B: c.B + (o.B-c.B)*t,
		A: c.A + (o.A-c.A)*t,
	}
}

// RayHit is the result of a ray march.
type RayHit struct {
	Hit      bool    `json:"hit"`
	Position v3.Vec  `json:"position"`
	Travel   float64 `json:"travel"` // parametric distance along the ray
}

// Finite reports whether every component of v is a finite number.
func Finite(v v3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Normalize returns v scaled to unit length. ok is false when v has zero,
// NaN or infinite length.
func Normalize(v v3.Vec) (n v3.Vec, ok bool) {
	l := v.Length()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return v3.Vec{}, false
	}
	return v.MulScalar(1 / l), true
}
