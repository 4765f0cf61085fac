// Package model ties one evaluator tree to its compiled program templates,
// a world transform and pointer event handlers. Models live in a Registry
// that drives rendering, incremental compilation and event routing.
package model

import (
	"fmt"
	"log/slog"

	"github.com/LiberalArtist/tangerine/pkg/gpu"
	"github.com/LiberalArtist/tangerine/pkg/input"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/program"
	"github.com/LiberalArtist/tangerine/pkg/spatial"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/google/uuid"
)

// Ray march defaults used when a caller passes a non-positive value.
const (
	DefaultRayIterations = 1000
	DefaultRayEpsilon    = 0.001
)

// Handler receives a routed pointer event. picked reports whether this
// model was the nearest hit. A handler that returns an error or panics is
// unsubscribed.
type Handler func(ev input.PointerEvent, picked bool) error

// Option configures New.
type Option func(*config)

type config struct {
	maxVoxels int
	name      string
}

// WithMaxVoxels caps the voxels of each variant.
func WithMaxVoxels(n int) Option {
	return func(c *config) { c.maxVoxels = n }
}

// WithName sets a label used in logs.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// Stats summarizes a model's compile.
type Stats struct {
	Templates int     `json:"templates"`
	Variants  int     `json:"variants"`
	Voxels    int     `json:"voxels"`
	Discarded int     `json:"discarded"`
	Levels    int     `json:"levels"`
	VoxelSize float64 `json:"voxel_size"`
}

// Model is a live instance of an evaluator tree.
type Model struct {
	ID        uuid.UUID
	Name      string
	Transform Transform

	reg    *Registry
	logger *slog.Logger
	ev     kernel.Evaluator
	lib    *program.Library
	stats  Stats
	bounds kernel.AABB

	pending  program.Stack
	content  []int // submitted templates that have variants
	complete bool
	warned   map[int]bool

	visible  bool
	mask     input.Mask
	handlers [input.NumKinds]Handler

	transformBuf gpu.BufferID
	uploaded     Transform

	refs      int
	destroyed bool
	unloaded  bool
}

// New compiles ev at voxelSize and registers the result with reg. The
// model holds one reference to ev until it is destroyed and starts with a
// reference count of one.
func New(reg *Registry, ev kernel.Evaluator, voxelSize float64, opts ...Option) (*Model, error) {
	if ev == nil {
		return nil, fmt.Errorf("model: %w", spatial.ErrNilEvaluator)
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	ev.Hold()
	res, err := spatial.Compile(ev, spatial.Options{VoxelSize: voxelSize, MaxVoxels: cfg.maxVoxels})
	if err != nil {
		ev.Release()
		return nil, fmt.Errorf("model: compile: %w", err)
	}

	m := &Model{
		ID:        uuid.New(),
		Name:      cfg.name,
		Transform: Identity(),
		reg:       reg,
		ev:        ev,
		lib:       res.Library,
		bounds:    res.Bounds,
		warned:    make(map[int]bool),
		visible:   true,
		refs:      1,
		stats: Stats{
			Templates: res.Library.Len(),
			Variants:  res.Library.VariantCount(),
			Voxels:    res.Cells,
			Discarded: res.Discarded,
			Levels:    res.Levels,
			VoxelSize: res.VoxelSize,
		},
		transformBuf: gpu.InvalidID,
	}
	m.logger = reg.logger.With("model", m.label())

	if d := reg.device; d != nil {
		if err := m.upload(d); err != nil {
			m.releaseMirrors()
			ev.Release()
			return nil, err
		}
	}

	m.pending.Push(res.NewTemplates...)
	reg.metrics.TemplatesAdded(len(res.NewTemplates))
	reg.metrics.VariantsAdded(m.stats.Variants)
	reg.Insert(m)

	m.logger.Debug("model created",
		"templates", m.stats.Templates,
		"variants", m.stats.Variants,
		"voxels", m.stats.Voxels,
		"levels", m.stats.Levels)
	return m, nil
}

func (m *Model) label() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID.String()
}

// transformData is the uniform layout: position and scale, then the
// rotation quaternion as x, y, z, w.
func transformData(t Transform) []float32 {
	return []float32{
		float32(t.Position.X), float32(t.Position.Y), float32(t.Position.Z), float32(t.Scale),
		float32(t.Rotation.V[0]), float32(t.Rotation.V[1]), float32(t.Rotation.V[2]), float32(t.Rotation.W),
	}
}

func (m *Model) upload(d gpu.Device) error {
	for _, tpl := range m.lib.Templates {
		for _, v := range tpl.Variants {
			if err := v.Upload(d); err != nil {
				return fmt.Errorf("model: %w", err)
			}
		}
	}
	return m.syncTransform(d)
}

func (m *Model) syncTransform(d gpu.Device) error {
	if m.transformBuf != gpu.InvalidID {
		if m.uploaded == m.Transform {
			return nil
		}
		d.ReleaseBuffer(m.transformBuf)
		m.transformBuf = gpu.InvalidID
	}
	id, err := d.CreateBuffer("instance transforms", gpu.UniformUsage, gpu.Float32Bytes(transformData(m.Transform)))
	if err != nil {
		return fmt.Errorf("model: upload transform: %w", err)
	}
	m.transformBuf, m.uploaded = id, m.Transform
	return nil
}

func (m *Model) releaseMirrors() {
	for _, tpl := range m.lib.Templates {
		for _, v := range tpl.Variants {
			v.Release()
		}
	}
	if m.transformBuf != gpu.InvalidID {
		m.reg.device.ReleaseBuffer(m.transformBuf)
		m.transformBuf = gpu.InvalidID
	}
}

// ----------------------------------------------------------------------------
// Lifetime
// ----------------------------------------------------------------------------

// Hold adds a reference.
func (m *Model) Hold() {
	if m.unloaded {
		return
	}
	if m.destroyed {
		panic(fmt.Sprintf("model: hold of destroyed model %s", m.label()))
	}
	m.refs++
}

// Release drops a reference and destroys the model at zero. Releasing a
// destroyed model is a programming error.
func (m *Model) Release() {
	if m.unloaded {
		return
	}
	if m.destroyed || m.refs <= 0 {
		panic(fmt.Sprintf("model: release of destroyed model %s", m.label()))
	}
	m.refs--
	if m.refs == 0 {
		m.destroy()
	}
}

// RefCount returns the number of references.
func (m *Model) RefCount() int {
	return m.refs
}

// Destroyed reports whether the model has been torn down.
func (m *Model) Destroyed() bool {
	return m.destroyed
}

func (m *Model) unload() {
	if m.destroyed {
		return
	}
	m.unloaded = true
	m.refs = 0
	m.destroy()
}

func (m *Model) destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true

	m.releaseMirrors()
	for _, tpl := range m.lib.Templates {
		tpl.Release()
	}
	m.ev.Release()
	m.ev = nil

	m.pending.Clear()
	m.content = nil
	m.handlers = [input.NumKinds]Handler{}
	m.mask = 0
	m.reg.Remove(m)
	m.logger.Debug("model destroyed")
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

// Evaluator returns the model's tree, or nil once destroyed.
func (m *Model) Evaluator() kernel.Evaluator {
	return m.ev
}

// Library returns the model's template table.
func (m *Model) Library() *program.Library {
	return m.lib
}

// Templates returns the model's templates in creation order.
func (m *Model) Templates() []*program.Template {
	return m.lib.Templates
}

// Stats returns the compile summary.
func (m *Model) Stats() Stats {
	return m.stats
}

// Bounds returns the model-local bounds of the voxel grid.
func (m *Model) Bounds() kernel.AABB {
	return m.bounds
}

// RayMarch casts a world-space ray against the model. The returned
// Position is in world space; Travel is the ray parameter, so
// origin + Travel*dir is the hit.
func (m *Model) RayMarch(origin, dir v3.Vec, maxIterations int, epsilon float64) kernel.RayHit {
	if m.ev == nil {
		return kernel.RayHit{}
	}
	if maxIterations <= 0 {
		maxIterations = DefaultRayIterations
	}
	if epsilon <= 0 {
		epsilon = DefaultRayEpsilon
	}
	t := m.Transform
	inv := 1 / t.Scale
	hit := m.ev.RayMarch(t.ApplyInverse(origin), t.InverseRotate(dir).MulScalar(inv), maxIterations, epsilon*inv)
	if hit.Hit {
		hit.Position = t.Apply(hit.Position)
	}
	return hit
}

// Visible reports whether the model is drawn and pickable.
func (m *Model) Visible() bool {
	return m.visible
}

// SetVisible shows or hides the model.
func (m *Model) SetVisible(v bool) {
	m.visible = v
}

// ----------------------------------------------------------------------------
// Events
// ----------------------------------------------------------------------------

// EventMask returns the kinds the model listens for.
func (m *Model) EventMask() input.Mask {
	return m.mask
}

// Listens reports whether the model has a handler for k.
func (m *Model) Listens(k input.Kind) bool {
	return m.mask.Has(k)
}

// SetEventCallback installs h for kind. A nil h unsubscribes.
func (m *Model) SetEventCallback(kind input.Kind, h Handler) {
	if !kind.Valid() || m.destroyed {
		return
	}
	m.handlers[kind] = h
	if h == nil {
		m.mask = m.mask.Without(kind)
	} else {
		m.mask = m.mask.With(kind)
	}
}

// Deliver runs the handler for ev.Kind, if any. A failing handler is
// logged and unsubscribed; the failure never reaches the caller.
func (m *Model) Deliver(ev input.PointerEvent, picked bool) {
	if m.destroyed || !ev.Kind.Valid() {
		return
	}
	h := m.handlers[ev.Kind]
	if h == nil {
		return
	}
	if err := invoke(h, ev, picked); err != nil {
		m.logger.Warn("event handler unsubscribed", "event", ev.Kind.String(), "err", err)
		// The slot is cleared even if the handler installed a replacement
		// before failing. It may also have destroyed the model.
		if !m.destroyed {
			m.SetEventCallback(ev.Kind, nil)
		}
	}
}

func invoke(h Handler, ev input.PointerEvent, picked bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ev, picked)
}

// ----------------------------------------------------------------------------
// Compile scheduling
// ----------------------------------------------------------------------------

// HasPendingShaders reports whether templates are still queued.
func (m *Model) HasPendingShaders() bool {
	return m.pending.Len() > 0
}

// PendingShaders returns the number of queued templates.
func (m *Model) PendingShaders() int {
	return m.pending.Len()
}

// CompileNextShader submits the most recently queued template. It reports
// false when nothing was queued.
func (m *Model) CompileNextShader() bool {
	idx, ok := m.pending.Pop()
	if !ok {
		return false
	}
	tpl := m.lib.Template(idx)
	tpl.StartCompile(m.reg.backend)
	if len(tpl.Variants) > 0 {
		m.content = append(m.content, idx)
	}
	m.logger.Debug("template submitted", "template", tpl.DebugName, "leaves", tpl.LeafCount, "pending", m.pending.Len())
	return true
}

// HasCompleteShaders reports whether any submitted template with content
// has compiled. Once true it stays true.
func (m *Model) HasCompleteShaders() bool {
	if m.complete {
		return true
	}
	for _, idx := range m.content {
		tpl := m.lib.Template(idx)
		switch tpl.State() {
		case program.Ready:
			m.complete = true
		case program.Failed:
			m.warnFailed(idx, tpl)
		}
	}
	if m.complete {
		m.logger.Info("model renderable", "compiled", len(m.ReadyTemplates()), "templates", m.lib.Len())
	}
	return m.complete
}

func (m *Model) warnFailed(idx int, tpl *program.Template) {
	if m.warned[idx] {
		return
	}
	m.warned[idx] = true
	m.logger.Warn("template compile failed", "template", tpl.DebugName, "err", tpl.Err())
}

// ReadyTemplates returns the indices of submitted templates with content
// whose compiled program is available.
func (m *Model) ReadyTemplates() []int {
	var out []int
	for _, idx := range m.content {
		if _, ok := m.lib.Template(idx).CompiledShader(); ok {
			out = append(out, idx)
		}
	}
	return out
}
