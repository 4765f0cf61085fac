// Package tessellate turns evaluator trees and models into triangle
// meshes with sdfx marching cubes. Meshes serve export and previews;
// rendering goes through the compiled GPU programs instead.
package tessellate

import (
	"errors"
	"fmt"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/model"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// DefaultCells is the marching cubes resolution along the longest side.
const DefaultCells = 64

// ErrDestroyed is returned when meshing a destroyed model.
var ErrDestroyed = errors.New("tessellate: model destroyed")

// Mesh is a flat triangle list with per-vertex face normals.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	PartName string    `json:"partName"` // model the mesh came from
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// field adapts an evaluator to sdf.SDF3 for the renderer. The box grows
// by one cell so surfaces lying on the bounds are closed.
type field struct {
	e      kernel.Evaluator
	margin float64
}

var _ sdf.SDF3 = field{}

func (f field) Evaluate(p v3.Vec) float64 { return f.e.Eval(p) }

func (f field) BoundingBox() sdf.Box3 { return f.e.Bounds().Expand(f.margin).Box3() }

// Evaluator meshes e in its local frame. cells <= 0 selects DefaultCells.
func Evaluator(e kernel.Evaluator, cells int) (*Mesh, error) {
	return mesh(e, cells, func(p v3.Vec) v3.Vec { return p })
}

// Model meshes m in world space and names the mesh after it.
func Model(m *model.Model, cells int) (*Mesh, error) {
	if m.Destroyed() {
		return nil, ErrDestroyed
	}
	t := m.Transform
	out, err := mesh(m.Evaluator(), cells, t.Apply)
	if err != nil {
		return nil, fmt.Errorf("tessellate: model %s: %w", m.ID, err)
	}
	out.PartName = m.Name
	if out.PartName == "" {
		out.PartName = m.ID.String()
	}
	return out, nil
}

// Models meshes every live model, skipping destroyed ones.
func Models(models []*model.Model, cells int) ([]*Mesh, error) {
	var out []*Mesh
	for _, m := range models {
		if m.Destroyed() {
			continue
		}
		msh, err := Model(m, cells)
		if err != nil {
			return nil, err
		}
		out = append(out, msh)
	}
	return out, nil
}

func mesh(e kernel.Evaluator, cells int, place func(v3.Vec) v3.Vec) (*Mesh, error) {
	if e == nil {
		return nil, errors.New("tessellate: nil evaluator")
	}
	if cells <= 0 {
		cells = DefaultCells
	}
	side := e.Bounds().LongestSide()
	if side <= 0 {
		return &Mesh{}, nil
	}

	renderer := render.NewMarchingCubesUniform(cells)
	triangles := render.ToTriangles(field{e: e, margin: side / float64(cells)}, renderer)

	numVerts := len(triangles) * 3
	vertices := make([]float32, 0, numVerts*3)
	normals := make([]float32, 0, numVerts*3)
	indices := make([]uint32, 0, numVerts)

	for i, tri := range triangles {
		world := sdf.Triangle3{place(tri[0]), place(tri[1]), place(tri[2])}
		// Compute face normal after placement.
		n := world.Normal()
		nx := float32(n.X)
		ny := float32(n.Y)
		nz := float32(n.Z)

		for j := 0; j < 3; j++ {
			v := world[j]
			vertices = append(vertices, float32(v.X), float32(v.Y), float32(v.Z))
			normals = append(normals, nx, ny, nz)
			indices = append(indices, uint32(i*3+j))
		}
	}

	return &Mesh{
		Vertices: vertices,
		Normals:  normals,
		Indices:  indices,
	}, nil
}
