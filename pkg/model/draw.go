package model

import (
	"github.com/LiberalArtist/tangerine/pkg/compile"
	"github.com/LiberalArtist/tangerine/pkg/gpu"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/google/uuid"
)

// DrawFlags selects debug visualizations.
type DrawFlags struct {
	ShowOctree    bool // outline every voxel
	ShowLeafCount bool // shade by the template's leaf count
	ShowHeatmap   bool // shade by ray-march iteration count
	Wireframe     bool
}

// DrawCall is one instanced draw of a variant's voxels.
type DrawCall struct {
	Model     uuid.UUID
	Template  int
	DebugName string
	Variant   int
	Program   *compile.Program
	LeafCount int

	Params       []float32
	Voxels       []kernel.AABB
	ParamsBuffer gpu.BufferID
	VoxelsBuffer gpu.BufferID
	Transform    Transform
	TransformBuf gpu.BufferID

	Flags DrawFlags
}

// Renderer consumes draw calls.
type Renderer interface {
	Draw(call DrawCall)
}

// Draw issues one call per variant of every template that has compiled
// and has content. Invisible and destroyed models draw nothing. It returns
// the number of calls issued.
func (m *Model) Draw(r Renderer, flags DrawFlags) int {
	if m.destroyed || !m.visible {
		return 0
	}
	if d := m.reg.device; d != nil {
		if err := m.syncTransform(d); err != nil {
			m.logger.Warn("transform upload failed", "err", err)
		}
	}
	n := 0
	for _, idx := range m.content {
		tpl := m.lib.Template(idx)
		prog, ok := tpl.CompiledShader()
		if !ok {
			continue
		}
		for vi, v := range tpl.Variants {
			r.Draw(DrawCall{
				Model:        m.ID,
				Template:     idx,
				DebugName:    tpl.DebugName,
				Variant:      vi,
				Program:      prog,
				LeafCount:    tpl.LeafCount,
				Params:       v.Params,
				Voxels:       v.Voxels,
				ParamsBuffer: v.ParamsBuffer,
				VoxelsBuffer: v.VoxelsBuffer,
				Transform:    m.Transform,
				TransformBuf: m.transformBuf,
				Flags:        flags,
			})
			n++
		}
	}
	return n
}
