package sdfx

import (
	"fmt"
	"strings"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
)

// opRescale multiplies a transformed child's distance by the transform
// scale. It only appears in programs.
const opRescale = opPaint + 1

// helper bits, emitted in declaration order.
const (
	useSphere = 1 << iota
	useBox
	useCylinder
	useTorus
	useCone
	useSmin
	useQrot
)

var helperSource = []struct {
	bit int
	src string
}{
	{useSphere, `fn sd_sphere(p: vec3<f32>, r: f32) -> f32 {
	return length(p) - r;
}
`},
	{useBox, `fn sd_box(p: vec3<f32>, b: vec3<f32>) -> f32 {
	let q = abs(p) - b;
	return length(max(q, vec3<f32>(0.0))) + min(max(q.x, max(q.y, q.z)), 0.0);
}
`},
	{useCylinder, `fn sd_cylinder(p: vec3<f32>, r: f32, h: f32) -> f32 {
	let d = abs(vec2<f32>(length(p.xy), p.z)) - vec2<f32>(r, h);
	return min(max(d.x, d.y), 0.0) + length(max(d, vec2<f32>(0.0)));
}
`},
	{useTorus, `fn sd_torus(p: vec3<f32>, major: f32, minor: f32) -> f32 {
	let q = vec2<f32>(length(p.xy) - major, p.z);
	return length(q) - minor;
}
`},
	{useCone, `fn sd_cone(p: vec3<f32>, r0: f32, r1: f32, h: f32) -> f32 {
	let q = vec2<f32>(length(p.xy), p.z);
	if (q.y >= h && q.x <= r1) {
		return q.y - h;
	}
	if (q.y <= -h && q.x <= r0) {
		return -q.y - h;
	}
	let s = vec2<f32>(r1 - r0, 2.0 * h);
	let l = length(s);
	let u = s / l;
	let n = vec2<f32>(u.y, -u.x);
	let v = q - vec2<f32>(r0, -h);
	let ds = dot(v, n);
	if (ds < 0.0 && abs(q.y) < h) {
		return -min(-ds, h - abs(q.y));
	}
	let t = dot(v, u);
	if (t >= 0.0 && t <= l) {
		return ds;
	}
	if (t < 0.0) {
		return length(v);
	}
	return length(q - vec2<f32>(r1, h));
}
`},
	{useSmin, `fn smin(a: f32, b: f32, k: f32) -> f32 {
	let h = clamp(0.5 + 0.5 * (b - a) / k, 0.0, 1.0);
	return mix(b, a, h) - k * h * (1.0 - h);
}
`},
	{useQrot, `fn qrot(q: vec4<f32>, v: vec3<f32>) -> vec3<f32> {
	let t = 2.0 * cross(q.xyz, v);
	return v + q.w * t + cross(q.xyz, t);
}
`},
}

const bindings = `@group(0) @binding(0) var<storage, read> params: array<f32>;
@group(0) @binding(1) var<storage, read> points: array<vec4<f32>>;
@group(0) @binding(2) var<storage, read_write> dists: array<f32>;
`

const entryPoint = `@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
	let i = id.x;
	if (i >= arrayLength(&dists)) {
		return;
	}
	dists[i] = dist(points[i].xyz);
}
`

// emitter walks a tree once, producing the WGSL body, the float32 program
// and the parameter vector in lockstep.
type emitter struct {
	body    strings.Builder
	params  []float32
	code    []instr
	helpers int
	points  int
	dists   int
}

func (e *emitter) param(vs ...float64) int {
	i := len(e.params)
	for _, v := range vs {
		e.params = append(e.params, float32(v))
	}
	return i
}

func (e *emitter) dist() int {
	d := e.dists
	e.dists++
	return d
}

func (e *emitter) line(format string, args ...any) {
	e.body.WriteString("\t")
	fmt.Fprintf(&e.body, format, args...)
	e.body.WriteString("\n")
}

// emit writes n evaluated at point register p and returns the distance
// register it leaves its result in.
func (e *emitter) emit(n *node, p int) int {
	switch n.op {
	case opSphere:
		i := e.param(n.dims.X)
		d := e.dist()
		e.helpers |= useSphere
		e.line("let d%d = sd_sphere(p%d, params[%d]);", d, p, i)
		e.code = append(e.code, instr{op: opSphere, dst: d, p: p, param: i})
		return d

	case opBox:
		i := e.param(n.dims.X, n.dims.Y, n.dims.Z)
		d := e.dist()
		e.helpers |= useBox
		e.line("let d%d = sd_box(p%d, vec3<f32>(params[%d], params[%d], params[%d]));", d, p, i, i+1, i+2)
		e.code = append(e.code, instr{op: opBox, dst: d, p: p, param: i})
		return d

	case opCylinder:
		i := e.param(n.dims.X, n.dims.Y)
		d := e.dist()
		e.helpers |= useCylinder
		e.line("let d%d = sd_cylinder(p%d, params[%d], params[%d]);", d, p, i, i+1)
		e.code = append(e.code, instr{op: opCylinder, dst: d, p: p, param: i})
		return d

	case opTorus:
		i := e.param(n.dims.X, n.dims.Y)
		d := e.dist()
		e.helpers |= useTorus
		e.line("let d%d = sd_torus(p%d, params[%d], params[%d]);", d, p, i, i+1)
		e.code = append(e.code, instr{op: opTorus, dst: d, p: p, param: i})
		return d

	case opCone:
		i := e.param(n.dims.X, n.dims.Y, n.dims.Z)
		d := e.dist()
		e.helpers |= useCone
		e.line("let d%d = sd_cone(p%d, params[%d], params[%d], params[%d]);", d, p, i, i+1, i+2)
		e.code = append(e.code, instr{op: opCone, dst: d, p: p, param: i})
		return d

	case opUnion, opInter, opDiff:
		a := e.emit(n.a, p)
		b := e.emit(n.b, p)
		d := e.dist()
		switch n.op {
		case opUnion:
			e.line("let d%d = min(d%d, d%d);", d, a, b)
		case opInter:
			e.line("let d%d = max(d%d, d%d);", d, a, b)
		default:
			e.line("let d%d = max(d%d, -d%d);", d, a, b)
		}
		e.code = append(e.code, instr{op: n.op, dst: d, a: a, b: b})
		return d

	case opBlendUnion, opBlendInter, opBlendDiff:
		a := e.emit(n.a, p)
		b := e.emit(n.b, p)
		i := e.param(n.k)
		d := e.dist()
		e.helpers |= useSmin
		switch n.op {
		case opBlendUnion:
			e.line("let d%d = smin(d%d, d%d, params[%d]);", d, a, b, i)
		case opBlendInter:
			e.line("let d%d = -smin(-d%d, -d%d, params[%d]);", d, a, b, i)
		default:
			e.line("let d%d = -smin(-d%d, d%d, params[%d]);", d, a, b, i)
		}
		e.code = append(e.code, instr{op: n.op, dst: d, a: a, b: b, param: i})
		return d

	case opTransform:
		inv := n.rot.Inverse()
		i := e.param(inv.V[0], inv.V[1], inv.V[2], inv.W, n.offset.X, n.offset.Y, n.offset.Z, n.scale)
		np := e.points
		e.points++
		e.helpers |= useQrot
		e.line("let p%d = qrot(vec4<f32>(params[%d], params[%d], params[%d], params[%d]), p%d - vec3<f32>(params[%d], params[%d], params[%d])) / params[%d];",
			np, i, i+1, i+2, i+3, p, i+4, i+5, i+6, i+7)
		e.code = append(e.code, instr{op: opTransform, dst: np, p: p, param: i})
		c := e.emit(n.a, np)
		d := e.dist()
		e.line("let d%d = d%d * params[%d];", d, c, i+7)
		e.code = append(e.code, instr{op: opRescale, dst: d, a: c, param: i + 7})
		return d

	case opFlate:
		c := e.emit(n.a, p)
		i := e.param(n.k)
		d := e.dist()
		e.line("let d%d = d%d - params[%d];", d, c, i)
		e.code = append(e.code, instr{op: opFlate, dst: d, a: c, param: i})
		return d

	case opPaint:
		return e.emit(n.a, p)
	}
	panic(fmt.Sprintf("sdfx: cannot emit %v", n.op))
}

func (e *emitter) source(result int) string {
	var sb strings.Builder
	sb.WriteString(bindings)
	for _, h := range helperSource {
		if e.helpers&h.bit != 0 {
			sb.WriteString("\n")
			sb.WriteString(h.src)
		}
	}
	sb.WriteString("\nfn dist(p0: vec3<f32>) -> f32 {\n")
	sb.WriteString(e.body.String())
	fmt.Fprintf(&sb, "\treturn d%d;\n}\n\n", result)
	sb.WriteString(entryPoint)
	return sb.String()
}

// Decompose generates the distance program for n. Constants live in the
// returned parameter vector, so trees of identical shape share source.
func (n *node) Decompose() kernel.Subtree {
	e := &emitter{points: 1}
	result := e.emit(n, 0)
	return kernel.Subtree{
		Source:    e.source(result),
		Pretty:    pretty(n),
		LeafCount: n.leaves,
		Params:    e.params,
		Program:   &program{code: e.code, points: e.points, dists: e.dists, result: result},
	}
}

// pretty renders n as a nested call expression.
func pretty(n *node) string {
	var sb strings.Builder
	writePretty(&sb, n)
	return sb.String()
}

func writePretty(sb *strings.Builder, n *node) {
	switch n.op {
	case opSphere:
		fmt.Fprintf(sb, "sphere(%g)", n.dims.X*2)
	case opBox:
		fmt.Fprintf(sb, "box(%g, %g, %g)", n.dims.X*2, n.dims.Y*2, n.dims.Z*2)
	case opCylinder:
		fmt.Fprintf(sb, "cylinder(%g, %g)", n.dims.X*2, n.dims.Y*2)
	case opTorus:
		fmt.Fprintf(sb, "torus(%g, %g)", n.dims.X*2, n.dims.Y*2)
	case opCone:
		fmt.Fprintf(sb, "cone(%g, %g, %g)", n.dims.X*2, n.dims.Y*2, n.dims.Z*2)
	case opUnion, opInter, opDiff:
		fmt.Fprintf(sb, "%v(", n.op)
		writePretty(sb, n.a)
		sb.WriteString(", ")
		writePretty(sb, n.b)
		sb.WriteString(")")
	case opBlendUnion, opBlendInter, opBlendDiff:
		fmt.Fprintf(sb, "%v(", n.op)
		writePretty(sb, n.a)
		sb.WriteString(", ")
		writePretty(sb, n.b)
		fmt.Fprintf(sb, ", %g)", n.k)
	case opTransform:
		fmt.Fprintf(sb, "transform(move=(%g, %g, %g), rot=(%g, %g, %g, %g), scale=%g, ",
			n.offset.X, n.offset.Y, n.offset.Z, n.rot.V[0], n.rot.V[1], n.rot.V[2], n.rot.W, n.scale)
		writePretty(sb, n.a)
		sb.WriteString(")")
	case opFlate:
		fmt.Fprintf(sb, "flate(%g, ", n.k*2)
		writePretty(sb, n.a)
		sb.WriteString(")")
	case opPaint:
		fmt.Fprintf(sb, "paint(#%02x%02x%02x, ", channel(n.color.R), channel(n.color.G), channel(n.color.B))
		writePretty(sb, n.a)
		sb.WriteString(")")
	}
}

func channel(c float64) int {
	v := int(c*255 + 0.5)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
