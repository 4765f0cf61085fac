package sdfx

import (
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/chewxy/math32"
)

// Compile-time interface check.
var _ kernel.Program = (*program)(nil)

// instr is one statement of a generated program. dst names a point
// register for transforms and a distance register otherwise.
type instr struct {
	op    op
	dst   int
	p     int
	a, b  int
	param int
}

// program evaluates generated source on the CPU in float32, statement by
// statement, so its output tracks what the GPU computes.
type program struct {
	code   []instr
	points int
	dists  int
	result int
}

type vec [3]float32

func (v vec) sub(o vec) vec        { return vec{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v vec) add(o vec) vec        { return vec{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v vec) mul(s float32) vec    { return vec{v[0] * s, v[1] * s, v[2] * s} }
func (v vec) length() float32      { return math32.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }
func cross(a, b vec) vec           { return vec{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]} }
func length2(x, y float32) float32 { return math32.Sqrt(x*x + y*y) }

func smin32(a, b, k float32) float32 {
	h := math32.Max(0, math32.Min(1, 0.5+0.5*(b-a)/k))
	return b + (a-b)*h - k*h*(1-h)
}

func sdBox(p, b vec) float32 {
	qx := math32.Abs(p[0]) - b[0]
	qy := math32.Abs(p[1]) - b[1]
	qz := math32.Abs(p[2]) - b[2]
	outside := vec{math32.Max(qx, 0), math32.Max(qy, 0), math32.Max(qz, 0)}.length()
	return outside + math32.Min(math32.Max(qx, math32.Max(qy, qz)), 0)
}

func sdCylinder(p vec, r, h float32) float32 {
	dx := math32.Abs(length2(p[0], p[1])) - r
	dy := math32.Abs(p[2]) - h
	return math32.Min(math32.Max(dx, dy), 0) + length2(math32.Max(dx, 0), math32.Max(dy, 0))
}

func sdTorus(p vec, major, minor float32) float32 {
	return length2(length2(p[0], p[1])-major, p[2]) - minor
}

// sdCone is a capped cone along Z with radius r0 at z = -h and r1 at z = h.
func sdCone(p vec, r0, r1, h float32) float32 {
	qx, qy := length2(p[0], p[1]), p[2]
	if qy >= h && qx <= r1 {
		return qy - h
	}
	if qy <= -h && qx <= r0 {
		return -qy - h
	}
	sx, sy := r1-r0, 2*h
	l := length2(sx, sy)
	ux, uy := sx/l, sy/l
	vx, vy := qx-r0, qy+h
	ds := vx*uy - vy*ux
	if ds < 0 && math32.Abs(qy) < h {
		return -math32.Min(-ds, h-math32.Abs(qy))
	}
	t := vx*ux + vy*uy
	if t >= 0 && t <= l {
		return ds
	}
	if t < 0 {
		return length2(vx, vy)
	}
	return length2(qx-r1, qy-h)
}

func qrot(q [4]float32, v vec) vec {
	u := vec{q[0], q[1], q[2]}
	t := cross(u, v).mul(2)
	return v.add(t.mul(q[3])).add(cross(u, t))
}

// Dist evaluates the program at p with the given parameter vector.
func (pr *program) Dist(params []float32, p [3]float32) float32 {
	pts := make([]vec, pr.points)
	pts[0] = p
	ds := make([]float32, pr.dists)
	for _, in := range pr.code {
		switch in.op {
		case opSphere:
			ds[in.dst] = pts[in.p].length() - params[in.param]
		case opBox:
			ds[in.dst] = sdBox(pts[in.p], vec{params[in.param], params[in.param+1], params[in.param+2]})
		case opCylinder:
			ds[in.dst] = sdCylinder(pts[in.p], params[in.param], params[in.param+1])
		case opTorus:
			ds[in.dst] = sdTorus(pts[in.p], params[in.param], params[in.param+1])
		case opCone:
			ds[in.dst] = sdCone(pts[in.p], params[in.param], params[in.param+1], params[in.param+2])
		case opUnion:
			ds[in.dst] = math32.Min(ds[in.a], ds[in.b])
		case opInter:
			ds[in.dst] = math32.Max(ds[in.a], ds[in.b])
		case opDiff:
			ds[in.dst] = math32.Max(ds[in.a], -ds[in.b])
		case opBlendUnion:
			ds[in.dst] = smin32(ds[in.a], ds[in.b], params[in.param])
		case opBlendInter:
			ds[in.dst] = -smin32(-ds[in.a], -ds[in.b], params[in.param])
		case opBlendDiff:
			ds[in.dst] = -smin32(-ds[in.a], ds[in.b], params[in.param])
		case opTransform:
			i := in.param
			q := [4]float32{params[i], params[i+1], params[i+2], params[i+3]}
			t := vec{params[i+4], params[i+5], params[i+6]}
			pts[in.dst] = qrot(q, pts[in.p].sub(t)).mul(1 / params[i+7])
		case opRescale:
			ds[in.dst] = ds[in.a] * params[in.param]
		case opFlate:
			ds[in.dst] = ds[in.a] - params[in.param]
		}
	}
	return ds[pr.result]
}
