package model

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/LiberalArtist/tangerine/pkg/compile"
	"github.com/LiberalArtist/tangerine/pkg/gpu"
	"github.com/LiberalArtist/tangerine/pkg/logging"
	"github.com/LiberalArtist/tangerine/pkg/metrics"
)

// Registry is the ordered set of live models. Models insert themselves on
// construction and remove themselves on destruction. A registry is owned
// by the scheduling goroutine and is not safe for concurrent use.
type Registry struct {
	backend compile.Backend
	device  gpu.Device
	metrics *metrics.Metrics
	logger  *slog.Logger

	models []*Model
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDevice uploads variant and transform mirrors to d.
func WithDevice(d gpu.Device) RegistryOption {
	return func(r *Registry) { r.device = d }
}

// WithMetrics records model and template counts on m.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger overrides the process-wide logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty registry whose models compile on backend.
func NewRegistry(backend compile.Backend, opts ...RegistryOption) *Registry {
	if backend == nil {
		panic("model: NewRegistry with nil backend")
	}
	r := &Registry{backend: backend}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = logging.Logger()
	}
	return r
}

// Backend returns the compile backend shared by every model.
func (r *Registry) Backend() compile.Backend {
	return r.backend
}

// Device returns the upload device, or nil.
func (r *Registry) Device() gpu.Device {
	return r.device
}

// Insert appends m. Inserting a model twice is a programming error.
func (r *Registry) Insert(m *Model) {
	if slices.Contains(r.models, m) {
		panic(fmt.Sprintf("model: duplicate registry insert of %s", m.ID))
	}
	r.models = append(r.models, m)
	r.metrics.SetLiveModels(len(r.models))
}

// Remove drops m. Removing an absent model is a no-op.
func (r *Registry) Remove(m *Model) {
	i := slices.Index(r.models, m)
	if i < 0 {
		return
	}
	r.models = slices.Delete(r.models, i, i+1)
	r.metrics.SetLiveModels(len(r.models))
}

// Len returns the number of live models.
func (r *Registry) Len() int {
	return len(r.models)
}

// Live returns a snapshot of the live models in insertion order. Models
// destroyed after the call stay in the snapshot; check Destroyed.
func (r *Registry) Live() []*Model {
	return slices.Clone(r.models)
}

// Incomplete returns the models with queued template compiles.
func (r *Registry) Incomplete() []*Model {
	var out []*Model
	for _, m := range r.models {
		if m.HasPendingShaders() {
			out = append(out, m)
		}
	}
	return out
}

// Renderable returns the visible models with at least one compiled
// template.
func (r *Registry) Renderable() []*Model {
	var out []*Model
	for _, m := range r.models {
		if m.Visible() && m.HasCompleteShaders() {
			out = append(out, m)
		}
	}
	return out
}

// UnloadAll destroys every live model regardless of its reference count.
// Later Hold and Release calls on an unloaded model are ignored.
func (r *Registry) UnloadAll() {
	for _, m := range r.Live() {
		m.unload()
	}
	r.models = nil
	r.metrics.SetLiveModels(0)
}
