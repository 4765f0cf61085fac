package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/LiberalArtist/tangerine/pkg/compile"
	"github.com/LiberalArtist/tangerine/pkg/config"
	"github.com/LiberalArtist/tangerine/pkg/engine"
	"github.com/LiberalArtist/tangerine/pkg/gpu"
	"github.com/LiberalArtist/tangerine/pkg/input"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/logging"
	"github.com/LiberalArtist/tangerine/pkg/metrics"
	"github.com/LiberalArtist/tangerine/pkg/model"
	"github.com/LiberalArtist/tangerine/pkg/router"
	"github.com/LiberalArtist/tangerine/pkg/tessellate"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// App ties the script engine to the model registry. Every method except
// Evaluate's script run happens on the caller's goroutine, which owns the
// registry.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	backend  compile.Backend
	device   gpu.Device
	registry *model.Registry
	router   *router.Router
	sched    *model.Scheduler
	engine   *engine.Engine

	result *engine.Result
	models []*model.Model
}

// ModelData is the JSON-serializable summary of one model.
type ModelData struct {
	ID      uuid.UUID   `json:"id"`
	Name    string      `json:"name"`
	Stats   model.Stats `json:"stats"`
	Bounds  kernel.AABB `json:"bounds"`
	Visible bool        `json:"visible"`
	Listens []string    `json:"listens,omitempty"`
}

// EvalErrorData is a JSON-serializable eval error.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// EvalResult is the full result of one Evaluate call.
type EvalResult struct {
	Models []ModelData     `json:"models"`
	Errors []EvalErrorData `json:"errors"`
	Value  string          `json:"value,omitempty"`
}

// AppOption configures an App.
type AppOption func(*App)

// WithBackend replaces the naga compile backend.
func WithBackend(b compile.Backend) AppOption {
	return func(a *App) { a.backend = b }
}

// WithDevice mirrors model buffers onto d.
func WithDevice(d gpu.Device) AppOption {
	return func(a *App) { a.device = d }
}

// WithRegisterer records pipeline metrics on r.
func WithRegisterer(r prometheus.Registerer) AppOption {
	return func(a *App) { a.metrics = metrics.New(r) }
}

// NewApp creates an App from cfg.
func NewApp(cfg config.Config, opts ...AppOption) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logging.Logger()}
	for _, o := range opts {
		o(a)
	}
	if a.backend == nil {
		a.backend = compile.NewNaga(
			compile.WithWorkers(cfg.Compile.Workers),
			compile.WithMetrics(a.metrics),
			compile.WithLogger(a.logger),
		)
	}
	regOpts := []model.RegistryOption{model.WithMetrics(a.metrics), model.WithLogger(a.logger)}
	if a.device != nil {
		regOpts = append(regOpts, model.WithDevice(a.device))
	}
	a.registry = model.NewRegistry(a.backend, regOpts...)
	a.router = router.New(a.registry)
	a.router.MaxIterations = cfg.RayMarch.MaxIterations
	a.router.Epsilon = cfg.RayMarch.Epsilon
	a.sched = model.NewScheduler(a.registry)
	a.engine = engine.NewEngine(engine.WithTimeout(cfg.Engine.Timeout), engine.WithLogger(a.logger))
	return a, nil
}

// Evaluate runs source and, on success, replaces the previous script's
// models with the new instances. On failure the previous models stay.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{
		Models: []ModelData{},
		Errors: []EvalErrorData{},
	}

	// Step 1: Run the script.
	res, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		// Fatal error (panic, timeout, etc.)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return result
	}

	// Step 2: Compile the declared instances into models.
	models, err := res.Instantiate(a.registry, a.cfg.VoxelSize, model.WithMaxVoxels(a.cfg.MaxVoxelsPerVariant))
	if err != nil {
		res.Close()
		a.logger.Warn("instantiate failed", "err", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}

	// Step 3: Retire the previous script.
	a.clear()
	a.result = res
	a.models = models

	result.Value = res.Value
	for _, m := range models {
		result.Models = append(result.Models, summarize(m))
	}
	return result
}

func summarize(m *model.Model) ModelData {
	d := ModelData{
		ID:      m.ID,
		Name:    m.Name,
		Stats:   m.Stats(),
		Bounds:  m.Bounds(),
		Visible: m.Visible(),
	}
	for k := input.Kind(0); k < input.NumKinds; k++ {
		if m.Listens(k) {
			d.Listens = append(d.Listens, k.String())
		}
	}
	return d
}

func (a *App) clear() {
	for _, m := range a.models {
		if !m.Destroyed() {
			m.Release()
		}
	}
	a.models = nil
	a.result.Close()
	a.result = nil
}

// Models returns the current script's models that are still alive.
func (a *App) Models() []*model.Model {
	var out []*model.Model
	for _, m := range a.models {
		if !m.Destroyed() {
			out = append(out, m)
		}
	}
	return out
}

// Registry returns the model registry.
func (a *App) Registry() *model.Registry { return a.registry }

// Tick materializes instances declared by event callbacks since the last
// tick and submits at most one queued template. It reports whether work
// was submitted.
func (a *App) Tick() bool {
	a.adopt()
	return a.sched.Step()
}

// Drain submits every queued template and waits for the backend.
func (a *App) Drain(ctx context.Context) (int, error) {
	a.adopt()
	return a.sched.Drain(ctx)
}

func (a *App) adopt() {
	if a.result == nil || len(a.result.Instances) == len(a.models) {
		return
	}
	models, err := a.result.Instantiate(a.registry, a.cfg.VoxelSize, model.WithMaxVoxels(a.cfg.MaxVoxelsPerVariant))
	if err != nil {
		a.logger.Warn("instantiate failed", "err", err)
		return
	}
	a.models = models
}

// PointerDown routes a press along the ray and reports whether a model
// consumed it.
func (a *App) PointerDown(origin, dir v3.Vec, button int) bool {
	return a.router.DeliverMouseButton(input.PointerEvent{
		Kind: input.Down, Button: button, Clicks: 1, RayOrigin: origin, RayDir: dir,
	})
}

// PointerUp routes a release along the ray.
func (a *App) PointerUp(origin, dir v3.Vec, button int) bool {
	return a.router.DeliverMouseButton(input.PointerEvent{
		Kind: input.Up, Button: button, Clicks: 1, RayOrigin: origin, RayDir: dir,
	})
}

// Pick returns the nearest visible model along the ray.
func (a *App) Pick(origin, dir v3.Vec) (*model.Model, kernel.RayHit) {
	return a.router.Pick(origin, dir)
}

// Meshes tessellates the current models in world space.
func (a *App) Meshes(cells int) ([]*tessellate.Mesh, error) {
	return tessellate.Models(a.Models(), cells)
}

// Close releases every model and stops the backend.
func (a *App) Close() error {
	a.clear()
	a.registry.UnloadAll()
	if c, ok := a.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close backend: %w", err)
		}
	}
	return nil
}
