package program

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/LiberalArtist/tangerine/pkg/kernel"
)

// DefaultMaxVoxels caps the voxels of one variant.
const DefaultMaxVoxels = 1024

// Library is one model's content-addressed template table. Templates are
// keyed by the sha256 of their generated source and confirmed by exact
// string comparison, so distinct sources never share an index.
type Library struct {
	MaxVoxels int
	Templates []*Template

	index    map[[sha256.Size]byte][]int
	open     []map[string]int // per template: params key -> variant accepting voxels
	subtrees int
}

// NewLibrary returns an empty library. maxVoxels <= 0 selects
// DefaultMaxVoxels.
func NewLibrary(maxVoxels int) *Library {
	if maxVoxels <= 0 {
		maxVoxels = DefaultMaxVoxels
	}
	return &Library{
		MaxVoxels: maxVoxels,
		index:     make(map[[sha256.Size]byte][]int),
	}
}

// Len returns the number of templates.
func (l *Library) Len() int {
	return len(l.Templates)
}

// Template returns the template at idx.
func (l *Library) Template(idx int) *Template {
	return l.Templates[idx]
}

// Lookup returns the template index for sub's source, creating a template
// the first time a source is seen.
func (l *Library) Lookup(sub kernel.Subtree) (idx int, created bool) {
	key := sha256.Sum256([]byte(sub.Source))
	for _, i := range l.index[key] {
		if l.Templates[i].Source == sub.Source {
			return i, false
		}
	}
	idx = len(l.Templates)
	l.Templates = append(l.Templates, &Template{
		DebugName: debugName(sub.Pretty, idx),
		Pretty:    sub.Pretty,
		Source:    sub.Source,
		LeafCount: sub.LeafCount,
		Program:   sub.Program,
	})
	l.open = append(l.open, make(map[string]int))
	l.index[key] = append(l.index[key], idx)
	return idx, true
}

func debugName(pretty string, idx int) string {
	name := pretty
	if i := strings.IndexByte(name, '('); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = "template"
	}
	return fmt.Sprintf("%s#%d", name, idx)
}

// paramsKey encodes params bit-exactly.
func paramsKey(params []float32) string {
	b := make([]byte, 4*len(params))
	for i, f := range params {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return string(b)
}

// AddVoxel binds box to the variant of template idx with the given
// parameters, opening a new variant when none exists or the current one is
// full. It reports the variant index within the template and whether it
// was created.
func (l *Library) AddVoxel(idx int, params []float32, box kernel.AABB) (variant int, created bool) {
	t := l.Templates[idx]
	key := paramsKey(params)
	if vi, ok := l.open[idx][key]; ok && len(t.Variants[vi].Voxels) < l.MaxVoxels {
		t.Variants[vi].Voxels = append(t.Variants[vi].Voxels, box)
		return vi, false
	}
	vi := len(t.Variants)
	t.Variants = append(t.Variants, &Variant{
		Template: idx,
		Subtree:  l.subtrees,
		Params:   append([]float32(nil), params...),
		Voxels:   []kernel.AABB{box},
	})
	l.subtrees++
	l.open[idx][key] = vi
	return vi, true
}

// VariantCount returns the number of variants across all templates.
func (l *Library) VariantCount() int {
	n := 0
	for _, t := range l.Templates {
		n += len(t.Variants)
	}
	return n
}

// Voxels returns every voxel of every variant.
func (l *Library) Voxels() []kernel.AABB {
	var out []kernel.AABB
	for _, t := range l.Templates {
		for _, v := range t.Variants {
			out = append(out, v.Voxels...)
		}
	}
	return out
}
