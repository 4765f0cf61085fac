package model

import (
	"errors"
	"testing"

	"github.com/LiberalArtist/tangerine/pkg/compile"
	"github.com/LiberalArtist/tangerine/pkg/gpu"
	"github.com/LiberalArtist/tangerine/pkg/input"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/kernel/sdfx"
	"github.com/LiberalArtist/tangerine/pkg/metrics"
	"github.com/LiberalArtist/tangerine/pkg/program"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend resolves every compile immediately and remembers the
// submission order.
type recordingBackend struct {
	sources []string
	fail    bool
}

func (b *recordingBackend) StartCompile(src string) *compile.Future {
	b.sources = append(b.sources, src)
	if b.fail {
		return compile.Resolved(nil, errors.New("bad wgsl"))
	}
	return compile.Resolved(&compile.Program{Hash: compile.Hash(src)}, nil)
}

type recordingRenderer struct {
	calls []DrawCall
}

func (r *recordingRenderer) Draw(c DrawCall) { r.calls = append(r.calls, c) }

// twoParts is a sphere and a box far enough apart that no voxel needs
// both.
func twoParts(k *sdfx.SdfxKernel) kernel.Evaluator {
	return k.Union(
		k.Move(k.Sphere(1), v3.Vec{X: -2}),
		k.Move(k.Box(1, 1, 1), v3.Vec{X: 2}),
	)
}

func newModel(t *testing.T, reg *Registry, ev kernel.Evaluator) *Model {
	t.Helper()
	m, err := New(reg, ev, 0.25)
	require.NoError(t, err)
	return m
}

func TestNewRegistersModel(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	ev := sdfx.New().Sphere(1)
	m := newModel(t, reg, ev)

	assert.Equal(t, 1, m.RefCount())
	assert.Equal(t, 1, ev.RefCount(), "the model holds its tree once")
	assert.Equal(t, []*Model{m}, reg.Live())
	assert.True(t, m.Visible())
	assert.True(t, m.HasPendingShaders())
	assert.Equal(t, m.Stats().Templates, m.PendingShaders())
	assert.NotZero(t, m.Stats().Voxels)

	m.Release()
	assert.True(t, m.Destroyed())
	assert.Zero(t, reg.Len())
	assert.Zero(t, ev.RefCount())
	assert.Nil(t, m.Evaluator())
	assert.False(t, m.HasPendingShaders())
}

func TestNewCompileErrorReleasesTree(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	ev := sdfx.New().Sphere(1)
	ev.Hold()
	defer ev.Release()

	_, err := New(reg, ev, 0)
	require.Error(t, err)
	assert.Equal(t, 1, ev.RefCount())
	assert.Zero(t, reg.Len())

	_, err = New(reg, nil, 1)
	assert.Error(t, err)
}

func TestSharedTreeOutlivesModels(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	ev := sdfx.New().Sphere(1)
	ev.Hold()

	const n = 3
	models := make([]*Model, n)
	for i := range models {
		models[i] = newModel(t, reg, ev)
	}
	assert.Equal(t, n+1, ev.RefCount())
	for i, m := range models {
		m.Release()
		assert.Equal(t, n-i, ev.RefCount())
	}
	ev.Release()
	assert.Zero(t, ev.RefCount())
}

func TestOverReleasePanics(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, sdfx.New().Sphere(1))
	m.Hold()
	m.Hold()
	m.Release()
	m.Release()
	assert.False(t, m.Destroyed())
	m.Release()
	assert.True(t, m.Destroyed())
	assert.Panics(t, m.Release)
	assert.Panics(t, m.Hold)
}

func TestDeviceMirrors(t *testing.T) {
	d := gpu.NewMemoryDevice()
	reg := NewRegistry(&recordingBackend{}, WithDevice(d))
	m := newModel(t, reg, twoParts(sdfx.New()))

	// Two buffers per variant plus the transform.
	assert.Equal(t, 2*m.Stats().Variants+1, d.Live())
	for _, tpl := range m.Templates() {
		for _, v := range tpl.Variants {
			assert.True(t, v.Uploaded())
		}
	}

	// Moving the model re-uploads the transform on the next draw.
	m.Transform.Move(v3.Vec{X: 1})
	m.Draw(&recordingRenderer{}, DrawFlags{})
	assert.Equal(t, 2*m.Stats().Variants+1, d.Live())

	m.Release()
	assert.Zero(t, d.Live())
}

func TestCompileOrderIsLIFO(t *testing.T) {
	b := &recordingBackend{}
	reg := NewRegistry(b)
	m := newModel(t, reg, twoParts(sdfx.New()))
	tpls := m.Templates()
	require.Greater(t, len(tpls), 1)

	for m.CompileNextShader() {
	}
	require.Len(t, b.sources, len(tpls))
	for i, src := range b.sources {
		assert.Equal(t, tpls[len(tpls)-1-i].Source, src, "submission %d", i)
	}
	assert.False(t, m.HasPendingShaders())
	assert.False(t, m.CompileNextShader())
}

func TestCompleteShadersSticky(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, twoParts(sdfx.New()))
	assert.False(t, m.HasCompleteShaders())
	assert.Empty(t, reg.Renderable())
	assert.Equal(t, []*Model{m}, reg.Incomplete())

	require.True(t, m.CompileNextShader())
	assert.True(t, m.HasCompleteShaders())
	// Partial rendering: ready and incomplete at once.
	assert.Equal(t, []*Model{m}, reg.Renderable())
	assert.Equal(t, []*Model{m}, reg.Incomplete())

	m.SetVisible(false)
	assert.Empty(t, reg.Renderable())
	m.SetVisible(true)
	assert.Equal(t, []*Model{m}, reg.Renderable())

	for m.CompileNextShader() {
	}
	assert.True(t, m.HasCompleteShaders())
	assert.Empty(t, reg.Incomplete())
	assert.Len(t, m.ReadyTemplates(), m.Stats().Templates)
}

func TestFailedCompilesNeverRender(t *testing.T) {
	reg := NewRegistry(&recordingBackend{fail: true})
	m := newModel(t, reg, sdfx.New().Sphere(1))
	for m.CompileNextShader() {
	}
	assert.False(t, m.HasCompleteShaders())
	assert.Empty(t, reg.Renderable())
	for _, tpl := range m.Templates() {
		assert.Equal(t, program.Failed, tpl.State())
	}
	assert.Zero(t, m.Draw(&recordingRenderer{}, DrawFlags{}))
}

func TestDraw(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, twoParts(sdfx.New()))
	r := &recordingRenderer{}

	assert.Zero(t, m.Draw(r, DrawFlags{}), "nothing is drawn before compiling")

	require.True(t, m.CompileNextShader())
	first := m.Templates()[len(m.Templates())-1]
	n := m.Draw(r, DrawFlags{ShowOctree: true})
	assert.Equal(t, len(first.Variants), n)
	require.Len(t, r.calls, n)
	for _, c := range r.calls {
		assert.Equal(t, m.ID, c.Model)
		assert.Equal(t, first.DebugName, c.DebugName)
		assert.NotNil(t, c.Program)
		assert.True(t, c.Flags.ShowOctree)
		assert.NotEmpty(t, c.Voxels)
	}

	for m.CompileNextShader() {
	}
	r.calls = nil
	assert.Equal(t, m.Stats().Variants, m.Draw(r, DrawFlags{}))

	m.SetVisible(false)
	assert.Zero(t, m.Draw(r, DrawFlags{}))
}

func TestRayMarchFollowsTransform(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, sdfx.New().Sphere(1))
	down := v3.Vec{Z: -1}

	hit := m.RayMarch(v3.Vec{Z: 10}, down, 0, 0)
	require.True(t, hit.Hit)
	assert.InDelta(t, 0.5, hit.Position.Z, 2e-3)
	assert.InDelta(t, 9.5, hit.Travel, 2e-3)

	m.Transform.Move(v3.Vec{X: 5})
	assert.False(t, m.RayMarch(v3.Vec{Z: 10}, down, 0, 0).Hit)
	hit = m.RayMarch(v3.Vec{X: 5, Z: 10}, down, 0, 0)
	require.True(t, hit.Hit)
	assert.InDelta(t, 5, hit.Position.X, 1e-9)
	assert.InDelta(t, 0.5, hit.Position.Z, 2e-3)

	// Travel is the ray parameter, so it scales with the direction.
	m.Transform.ScaleBy(2)
	hit = m.RayMarch(v3.Vec{X: 5, Z: 10}, v3.Vec{Z: -2}, 0, 0)
	require.True(t, hit.Hit)
	assert.InDelta(t, 1, hit.Position.Z, 4e-3)
	assert.InDelta(t, 4.5, hit.Travel, 4e-3)
}

func TestResetRestoresRayMarch(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, twoParts(sdfx.New()))
	origin := v3.Vec{X: -2, Y: 0.2, Z: 10}
	dir := v3.Vec{Z: -1}
	before := m.RayMarch(origin, dir, 0, 0)
	require.True(t, before.Hit)

	m.Transform.Move(v3.Vec{X: 3, Y: -1})
	m.Transform.RotateZ(35)
	m.Transform.ScaleBy(1.5)
	m.Transform.RotateX(-80)
	m.Transform.Move(v3.Vec{Z: 2})
	assert.NotEqual(t, before, m.RayMarch(origin, dir, 0, 0))

	m.Transform.Reset()
	assert.True(t, m.Transform.IsIdentity())
	assert.Equal(t, before, m.RayMarch(origin, dir, 0, 0))
}

func TestEventCallbacks(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, sdfx.New().Sphere(1))

	var got []bool
	m.SetEventCallback(input.Down, func(ev input.PointerEvent, picked bool) error {
		got = append(got, picked)
		return nil
	})
	assert.True(t, m.Listens(input.Down))
	assert.False(t, m.Listens(input.Up))

	m.Deliver(input.PointerEvent{Kind: input.Down}, true)
	m.Deliver(input.PointerEvent{Kind: input.Up}, true)
	assert.Equal(t, []bool{true}, got)

	m.SetEventCallback(input.Down, nil)
	assert.Zero(t, m.EventMask())
	m.Deliver(input.PointerEvent{Kind: input.Down}, false)
	assert.Len(t, got, 1)
}

func TestFailingHandlerIsUnsubscribed(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, sdfx.New().Sphere(1))

	calls := 0
	m.SetEventCallback(input.Down, func(input.PointerEvent, bool) error {
		calls++
		return errors.New("boom")
	})
	m.SetEventCallback(input.Up, func(input.PointerEvent, bool) error {
		calls++
		panic("handler bug")
	})

	assert.NotPanics(t, func() {
		m.Deliver(input.PointerEvent{Kind: input.Down}, true)
		m.Deliver(input.PointerEvent{Kind: input.Up}, false)
	})
	assert.Equal(t, 2, calls)
	assert.Zero(t, m.EventMask())

	m.Deliver(input.PointerEvent{Kind: input.Down}, true)
	assert.Equal(t, 2, calls)
}

func TestFailingHandlerDropsItsReplacement(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, sdfx.New().Sphere(1))

	replaced := false
	m.SetEventCallback(input.Down, func(input.PointerEvent, bool) error {
		m.SetEventCallback(input.Down, func(input.PointerEvent, bool) error {
			replaced = true
			return nil
		})
		return errors.New("boom")
	})

	m.Deliver(input.PointerEvent{Kind: input.Down}, true)
	assert.False(t, m.Listens(input.Down))
	m.Deliver(input.PointerEvent{Kind: input.Down}, true)
	assert.False(t, replaced)
}

func TestHandlerMayReleaseModel(t *testing.T) {
	reg := NewRegistry(&recordingBackend{})
	m := newModel(t, reg, sdfx.New().Sphere(1))
	m.SetEventCallback(input.Down, func(input.PointerEvent, bool) error {
		m.Release()
		return errors.New("after teardown")
	})
	assert.NotPanics(t, func() { m.Deliver(input.PointerEvent{Kind: input.Down}, true) })
	assert.True(t, m.Destroyed())
	assert.Zero(t, reg.Len())
}

func TestRegistry(t *testing.T) {
	pm := metrics.New(prometheus.NewPedanticRegistry())
	reg := NewRegistry(&recordingBackend{}, WithMetrics(pm))
	k := sdfx.New()
	a := newModel(t, reg, k.Sphere(1))
	b := newModel(t, reg, k.Cube(1))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.LiveModels))
	assert.Equal(t, float64(a.Stats().Templates+b.Stats().Templates), testutil.ToFloat64(pm.TemplatesCreated))

	assert.Panics(t, func() { reg.Insert(a) })

	snap := reg.Live()
	a.Release()
	assert.Len(t, snap, 2, "snapshots are copies")
	assert.Equal(t, []*Model{b}, reg.Live())
	reg.Remove(a)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.LiveModels))
}

func TestUnloadAll(t *testing.T) {
	d := gpu.NewMemoryDevice()
	reg := NewRegistry(&recordingBackend{}, WithDevice(d))
	k := sdfx.New()
	ev := k.Sphere(1)
	ev.Hold()
	defer ev.Release()

	a := newModel(t, reg, ev)
	b := newModel(t, reg, ev)
	b.Hold()
	reg.UnloadAll()

	assert.Zero(t, reg.Len())
	assert.Zero(t, d.Live())
	assert.True(t, a.Destroyed())
	assert.True(t, b.Destroyed())
	assert.Equal(t, 1, ev.RefCount())
	assert.NotPanics(t, func() {
		a.Release()
		b.Release()
		b.Release()
	})
}

func TestSchedulerDrains(t *testing.T) {
	b := &recordingBackend{}
	reg := NewRegistry(b)
	k := sdfx.New()
	first := newModel(t, reg, k.Sphere(1))
	second := newModel(t, reg, twoParts(k))

	// Registry order: the first model drains before the second starts.
	require.True(t, NewScheduler(reg).Step())
	assert.Equal(t, first.Stats().Templates-1, first.PendingShaders())
	assert.Equal(t, second.Stats().Templates, second.PendingShaders())

	n, err := NewScheduler(reg).Drain(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first.Stats().Templates+second.Stats().Templates-1, n)
	assert.Empty(t, reg.Incomplete())
	assert.Len(t, reg.Renderable(), 2)
	assert.False(t, NewScheduler(reg).Step())
}

func TestTransformRoundTrip(t *testing.T) {
	tr := Identity()
	tr.Move(v3.Vec{X: 1, Y: 2, Z: 3})
	tr.RotateY(40)
	tr.ScaleBy(-3)
	tr.RotateZ(15)
	assert.Equal(t, 3.0, tr.Scale)

	p := v3.Vec{X: 0.3, Y: -1.2, Z: 4}
	q := tr.ApplyInverse(tr.Apply(p))
	assert.InDelta(t, p.X, q.X, 1e-9)
	assert.InDelta(t, p.Y, q.Y, 1e-9)
	assert.InDelta(t, p.Z, q.Z, 1e-9)

	// Degenerate inputs leave the transform alone.
	before := tr
	tr.ScaleBy(0)
	tr.Rotate(tr.Rotation.Scale(0))
	assert.Equal(t, before, tr)
}
