// Package program holds compiled-or-pending GPU programs (templates), their
// parameterized voxel-bound instantiations (variants), the per-model
// template dedup table and the pending compile stack.
package program

import (
	"github.com/LiberalArtist/tangerine/pkg/compile"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
)

// State is a template's compile state. Transitions only move forward:
// Uncompiled -> Compiling -> Ready, or Compiling -> Failed.
type State int

const (
	Uncompiled State = iota
	Compiling
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Compiling:
		return "compiling"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "uncompiled"
}

// Template is one GPU program shared by every variant whose generated
// source is identical.
type Template struct {
	DebugName string
	Pretty    string
	Source    string
	LeafCount int
	Program   kernel.Program
	Variants  []*Variant

	state    State
	future   *compile.Future
	compiled *compile.Program
	released bool
}

// State polls the backend and returns the current compile state.
func (t *Template) State() State {
	t.CompiledShader()
	return t.state
}

// StartCompile submits the source to b. Only an uncompiled template
// submits; later calls are no-ops.
func (t *Template) StartCompile(b compile.Backend) {
	if t.state != Uncompiled || t.released {
		return
	}
	t.future = b.StartCompile(t.Source)
	t.state = Compiling
}

// CompiledShader returns the compiled program once the backend reports it
// ready. It never blocks. Ready is sticky.
func (t *Template) CompiledShader() (*compile.Program, bool) {
	if t.released {
		return nil, false
	}
	switch t.state {
	case Ready:
		return t.compiled, true
	case Compiling:
		p, st := t.future.Poll()
		switch st {
		case compile.Ready:
			t.compiled = p
			t.state = Ready
			return p, true
		case compile.Failed:
			t.state = Failed
		}
	}
	return nil, false
}

// Err returns the compile error of a failed template.
func (t *Template) Err() error {
	if t.state != Failed || t.future == nil {
		return nil
	}
	return t.future.Err()
}

// Release drops the template's reference to its compiled program and any
// in-flight future. The future itself is left to finish unobserved.
func (t *Template) Release() {
	t.released = true
	t.future = nil
	t.compiled = nil
}

// Voxels returns the number of voxels across all variants.
func (t *Template) Voxels() int {
	n := 0
	for _, v := range t.Variants {
		n += len(v.Voxels)
	}
	return n
}
