package kernel

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
)

// Ray cast defaults used by the scripting helpers.
const (
	DefaultCastIterations = 100
	DefaultCastEpsilon    = 0.001
)

// Down is the fallback rest direction for PivotTowards.
var Down = v3.Vec{X: 0, Y: 0, Z: -1}

// RayCast marches a ray from origin along dir and returns the hit position.
// A degenerate direction never hits.
func RayCast(e Evaluator, origin, dir v3.Vec, maxIterations int, epsilon float64) (v3.Vec, bool) {
	if maxIterations <= 0 {
		maxIterations = DefaultCastIterations
	}
	if epsilon <= 0 {
		epsilon = DefaultCastEpsilon
	}
	hit := e.RayMarch(origin, dir, maxIterations, epsilon)
	if !hit.Hit {
		return v3.Vec{}, false
	}
	return hit.Position, true
}

// Magnet casts a ray from origin towards target.
func Magnet(e Evaluator, origin, target v3.Vec, maxIterations int, epsilon float64) (v3.Vec, bool) {
	dir, ok := Normalize(target.Sub(origin))
	if !ok {
		return v3.Vec{}, false
	}
	return RayCast(e, origin, dir, maxIterations, epsilon)
}

// PivotTowards swings a rod of length maxDist anchored at pivot from heading
// towards down until its tail is within margin of the surface of e, turning
// through at most maxAngle degrees. It returns the tail position and the new
// heading. An invalid heading yields (pivot, zero); an invalid down vector is
// replaced by Down.
func PivotTowards(e Evaluator, maxDist, margin, maxAngle float64, pivot, heading, down v3.Vec) (tail, newHeading v3.Vec) {
	maxAngle = maxAngle * math.Pi / 180
	h, ok := Normalize(heading)
	if !ok {
		return pivot, v3.Vec{}
	}
	d, ok := Normalize(down)
	if !ok {
		d = Down
	}

	tail = h.MulScalar(maxDist).Add(pivot)
	axis := h.Cross(d)
	if axis.Length() == 0 {
		if d.Sub(h).Length() <= 0.001 {
			return tail, d
		}
		// Antiparallel: any axis perpendicular to down works.
		axis = perpendicular(d)
	}
	axis, _ = Normalize(axis)
	ax := mgl64.Vec3{axis.X, axis.Y, axis.Z}

	remaining := maxAngle
	fnord := maxDist * maxDist * 2
	for {
		dist := e.Eval(tail)
		if dist <= margin {
			break
		}
		dist = math.Min(math.Abs(dist), maxDist)

		maybe := math.Acos(clampUnit(math.Abs((fnord - dist*dist) / fnord)))
		arm, ok := Normalize(tail.Sub(pivot))
		if !ok {
			break
		}
		maxDownward := math.Abs(math.Acos(clampUnit(arm.Dot(d))))
		angle := math.Min(remaining, math.Min(maxDownward, maybe))
		remaining -= angle

		tail = rotate(mgl64.QuatRotate(angle, ax), tail.Sub(pivot)).Add(pivot)
		if angle <= 0.5*math.Pi/180 {
			break
		}
	}

	arm, ok := Normalize(tail.Sub(pivot))
	if !ok {
		return tail, h
	}
	final := math.Min(maxAngle, math.Acos(math.Min(math.Abs(arm.Dot(h)), 1)))
	newHeading = rotate(mgl64.QuatRotate(final, ax), h)
	return newHeading.MulScalar(maxDist).Add(pivot), newHeading
}

func rotate(q mgl64.Quat, v v3.Vec) v3.Vec {
	r := q.Rotate(mgl64.Vec3{v.X, v.Y, v.Z})
	return v3.Vec{X: r[0], Y: r[1], Z: r[2]}
}

func perpendicular(d v3.Vec) v3.Vec {
	ref := v3.Vec{X: 1}
	if math.Abs(d.X) > 0.9 {
		ref = v3.Vec{Y: 1}
	}
	return d.Cross(ref)
}

func clampUnit(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}
