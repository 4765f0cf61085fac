package sdfx

import (
	"math"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Clip returns a tree that agrees with n everywhere inside the ball
// (center, radius). Every field in the tree is 1-Lipschitz, so an operand
// whose distance at the center exceeds the other's by more than 2*radius
// stays on the same side of the comparison throughout the ball.
func (n *node) Clip(center v3.Vec, radius float64) kernel.Evaluator {
	return n.clip(center, math.Max(radius, 0))
}

func (n *node) clip(c v3.Vec, r float64) *node {
	switch {
	case n.op.isLeaf():
		return n
	case n.op == opTransform:
		t := n.field.(transformSDF)
		return n.rebuild(n.a.clip(t.local(c), r/n.scale), nil)
	case n.op == opFlate, n.op == opPaint:
		return n.rebuild(n.a.clip(c, r), nil)
	}

	da, db := n.a.Eval(c), n.b.Eval(c)
	if n.op.hard() == opDiff {
		db = -db
	}

	o := n.op
	// Outside the blend band the smooth operators equal the hard ones.
	if o.isBlend() && math.Abs(da-db) > n.k+2*r {
		o = o.hard()
	}

	switch o {
	case opUnion:
		if da-r > db+r {
			return n.b.clip(c, r)
		}
		if db-r > da+r {
			return n.a.clip(c, r)
		}
	case opInter:
		if da-r > db+r {
			return n.a.clip(c, r)
		}
		if db-r > da+r {
			return n.b.clip(c, r)
		}
	case opDiff:
		if da-r > db+r {
			return n.a.clip(c, r)
		}
	}

	a, b := n.a.clip(c, r), n.b.clip(c, r)
	if o != n.op {
		return newBinary(o, 0, a, b)
	}
	return n.rebuild(a, b)
}
