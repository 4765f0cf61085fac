// Package spatial partitions an evaluator tree's occupied volume into
// voxels and binds each voxel to the program template and parameters that
// reproduce the tree inside it.
//
// The partition is an integer octree over the tree's bounds. Each cell
// clips its parent's tree to the cell's bounding sphere, so deeper cells
// carry smaller programs. Cells whose center distance exceeds their
// half-diagonal contain no surface and are discarded.
package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/program"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// MaxLevels bounds the octree depth.
const MaxLevels = 12

var (
	ErrNilEvaluator = errors.New("spatial: nil evaluator")
	ErrVoxelSize    = errors.New("spatial: voxel size must be positive and finite")
	ErrTooFine      = errors.New("spatial: voxel size too fine for the bounds")
	ErrUnheld       = errors.New("spatial: evaluator must be held by the caller")
)

// Options configures Compile.
type Options struct {
	VoxelSize float64
	MaxVoxels int // per variant; <= 0 selects program.DefaultMaxVoxels
}

// Result is the outcome of one compile.
type Result struct {
	Library      *program.Library
	NewTemplates []int // in creation order
	Bounds       kernel.AABB
	Origin       v3.Vec // min corner of the root cell
	Levels       int
	VoxelSize    float64
	Cells        int // leaf cells bound to a variant
	Discarded    int // cells dropped for holding no surface
}

type compiler struct {
	opts   Options
	origin v3.Vec
	res    *Result
	cache  map[kernel.Evaluator]kernel.Subtree
}

// Compile builds the template library of ev at opts.VoxelSize. ev must be
// held by the caller for the duration of the call.
func Compile(ev kernel.Evaluator, opts Options) (*Result, error) {
	if ev == nil {
		return nil, ErrNilEvaluator
	}
	v := opts.VoxelSize
	if !(v > 0) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %v", ErrVoxelSize, v)
	}
	if ev.RefCount() <= 0 {
		return nil, ErrUnheld
	}

	// Grow the bounds so the outermost surface never lies on a cell face.
	bb := ev.Bounds()
	c := bb.Center()
	half := bb.Size().MulScalar(0.5 * 1.01)
	bb = kernel.AABB{Min: c.Sub(half), Max: c.Add(half)}.Expand(v / 2)

	levels := 0
	if side := bb.LongestSide(); side > v {
		levels = int(math.Ceil(math.Log2(side / v)))
	}
	if levels > MaxLevels {
		return nil, fmt.Errorf("%w: %d levels needed, max %d", ErrTooFine, levels, MaxLevels)
	}
	rootSide := v * math.Exp2(float64(levels))
	r := rootSide / 2

	comp := &compiler{
		opts:   opts,
		origin: c.Sub(v3.Vec{X: r, Y: r, Z: r}),
		cache:  make(map[kernel.Evaluator]kernel.Subtree),
		res: &Result{
			Library:   program.NewLibrary(opts.MaxVoxels),
			Bounds:    bb,
			Levels:    levels,
			VoxelSize: v,
		},
	}
	comp.res.Origin = comp.origin
	comp.visit(ev, 0, 0, 0, levels)
	return comp.res, nil
}

// cell returns the box of cell (x, y, z) at level lvl, where level 0 is a
// single voxel.
func (c *compiler) cell(x, y, z, lvl int) kernel.AABB {
	side := c.opts.VoxelSize * math.Exp2(float64(lvl))
	lo := c.origin.Add(v3.Vec{X: float64(x) * side, Y: float64(y) * side, Z: float64(z) * side})
	return kernel.AABB{Min: lo, Max: lo.Add(v3.Vec{X: side, Y: side, Z: side})}
}

func (c *compiler) visit(tree kernel.Evaluator, x, y, z, lvl int) {
	box := c.cell(x, y, z, lvl)
	center := box.Center()
	radius := box.HalfDiagonal()
	if math.Abs(tree.Eval(center)) > radius {
		c.res.Discarded++
		return
	}

	clipped := tree.Clip(center, radius)
	clipped.Hold()
	defer clipped.Release()

	if lvl == 0 {
		c.emit(clipped, box)
		return
	}
	for i := 0; i < 8; i++ {
		c.visit(clipped, 2*x+i&1, 2*y+(i>>1)&1, 2*z+(i>>2)&1, lvl-1)
	}
}

func (c *compiler) emit(tree kernel.Evaluator, box kernel.AABB) {
	sub, ok := c.cache[tree]
	if !ok {
		sub = tree.Decompose()
		c.cache[tree] = sub
	}
	lib := c.res.Library
	idx, created := lib.Lookup(sub)
	if created {
		c.res.NewTemplates = append(c.res.NewTemplates, idx)
	}
	lib.AddVoxel(idx, sub.Params, box)
	c.res.Cells++
}
