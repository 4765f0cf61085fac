package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/LiberalArtist/tangerine/pkg/config"
	"github.com/LiberalArtist/tangerine/pkg/input"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ---------------------------------------------------------------------------
// 1. Replacing scripts: a successful evaluation retires the previous models,
//    a failed one keeps them.
// ---------------------------------------------------------------------------

func TestE2EReplacesPreviousModels(t *testing.T) {
	app := newTestApp(t)
	evalFile(t, app, "examples/buttons.tng")
	old := app.Models()
	if len(old) != 2 {
		t.Fatalf("expected 2 models, got %d", len(old))
	}

	result := app.Evaluate(`(instance (sphere 1) :name "only")`)
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	for _, m := range old {
		if !m.Destroyed() {
			t.Errorf("model %q survived its script", m.Name)
		}
	}
	if got := app.Registry().Len(); got != 1 {
		t.Errorf("registry holds %d models, want 1", got)
	}
}

func TestE2EFailedEvaluationKeepsModels(t *testing.T) {
	app := newTestApp(t)
	evalFile(t, app, "examples/buttons.tng")

	for _, source := range []string{
		`(instance (sphere 1)`,
		`(undefined-func 1 2 3)`,
		`(instance (sphere "big"))`,
	} {
		result := app.Evaluate(source)
		if len(result.Errors) == 0 {
			t.Errorf("expected errors for %q", source)
		}
		if got := len(app.Models()); got != 2 {
			t.Errorf("after %q: %d models, want 2", source, got)
		}
	}
}

func TestE2EInstantiateFailureKeepsModels(t *testing.T) {
	cfg := config.Default()
	cfg.VoxelSize = 1e-6
	app, err := NewApp(cfg, WithBackend(testBackend))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Close()

	result := app.Evaluate(`(instance (sphere 1)) (instance (sphere 1000))`)
	if len(result.Errors) == 0 {
		t.Fatal("expected a partition error for a far too fine voxel size")
	}
	if !strings.Contains(result.Errors[0].Message, "too fine") {
		t.Errorf("unexpected error: %s", result.Errors[0].Message)
	}
	if got := app.Registry().Len(); got != 0 {
		t.Errorf("failed evaluation left %d models registered", got)
	}
}

// ---------------------------------------------------------------------------
// 2. Rapid evaluation: sequential calls never panic or leak models.
// ---------------------------------------------------------------------------

func TestE2ERapidEvaluation(t *testing.T) {
	// Sequential: zygomys sandbox creation shares global state.
	app := newTestApp(t)

	sources := []string{
		`(instance (sphere 1) :name "a")`,
		`(instance (box 2 1 1) :name "b")`,
		`(+ 1 2)`,
		``,
		`(instance (torus 3 1) :name "c")`,
		`(instance (cylinder 1 3) :name "d")`,
		`(+ 100 200)`,
		``,
		`(instance (union (cube 1) (move-x (cube 1) 3)) :name "e")`,
		`(instance (sphere 2) :name "f")`,
	}

	for i, source := range sources {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("iteration %d panicked: %v", i, r)
				}
			}()
			result := app.Evaluate(source)
			if len(result.Errors) > 0 {
				t.Errorf("iteration %d: %v", i, result.Errors)
			}
		}()
	}
	if got := app.Registry().Len(); got != 1 {
		t.Errorf("registry holds %d models, want 1", got)
	}
}

func TestE2ERapidEvaluationAlternating(t *testing.T) {
	// Alternates between valid and invalid sources rapidly.
	// Ensures the engine recovers cleanly between error and success states.
	app := newTestApp(t)

	sources := []string{
		`(instance (sphere 1) :name "ok")`,
		`(instance (sphere 1)`,
		``,
		`(hide 42)`,
		`(instance (cube 2) :name "also-ok")`,
		`(+ 1 2)`,
		`;; just a comment`,
		`(instance (torus 2 0.5) :name "fine")`,
		`(undefined-func 1 2 3)`,
		`(instance (sphere 3) :name "last")`,
	}

	for i, source := range sources {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("iteration %d panicked on source %q: %v", i, source, r)
				}
			}()
			_ = app.Evaluate(source)
		}()
	}
	models := app.Models()
	if len(models) != 1 || models[0].Name != "last" {
		t.Errorf("expected only the last script's model, got %d", len(models))
	}
}

// ---------------------------------------------------------------------------
// 3. Scripts without instances.
// ---------------------------------------------------------------------------

func TestE2ECommentsOnly(t *testing.T) {
	app := newTestApp(t)
	result := app.Evaluate(";; just a comment\n; another one\n")
	if len(result.Errors) > 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	if len(result.Models) != 0 {
		t.Errorf("expected 0 models, got %d", len(result.Models))
	}
}

func TestE2EArithmeticValue(t *testing.T) {
	app := newTestApp(t)
	result := app.Evaluate(`(def w 10) (def h (/ w 2)) (* w h)`)
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.Value != "50" {
		t.Errorf("Value = %q, want 50", result.Value)
	}
}

// ---------------------------------------------------------------------------
// 4. Pointer routing through the App.
// ---------------------------------------------------------------------------

func TestE2EPressMisses(t *testing.T) {
	app := newTestApp(t)
	evalFile(t, app, "examples/buttons.tng")

	if app.PointerDown(v3.Vec{X: 20, Z: 10}, down, 0) {
		t.Error("press beside every model was consumed")
	}
	// The ball listens for releases, so a release is always delivered.
	if !app.PointerUp(v3.Vec{X: 20, Z: 10}, down, 0) {
		t.Error("release was not broadcast")
	}
}

func TestE2EHiddenModelsAreNotPicked(t *testing.T) {
	app := newTestApp(t)
	result := app.Evaluate(`
(def a (instance (sphere 2) :name "a"))
(hide a)
(on-mouse-down a (fn [e] nil))
(instance (move-z (sphere 2) -5) :name "b")
`)
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	m, hit := app.Pick(v3.Vec{Z: 10}, down)
	if m == nil || m.Name != "b" {
		t.Fatalf("expected to pick b, got %v", m)
	}
	if hit.Position.Z > -3.9 || hit.Position.Z < -4.1 {
		t.Errorf("hit at z=%g, want -4", hit.Position.Z)
	}
	if app.PointerDown(v3.Vec{Z: 10}, down, 0) {
		t.Error("hidden listener consumed a press")
	}
}

func TestE2ECallbackDeclaresInstance(t *testing.T) {
	app := newTestApp(t)
	result := app.Evaluate(`
(def spawner (instance (sphere 2) :name "spawner"))
(on-mouse-down spawner (fn [e]
  (move (instance (sphere 1) :name "spawned") (event-cursor e))))
`)
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if !app.PointerDown(v3.Vec{Z: 10}, down, 0) {
		t.Fatal("press was not consumed")
	}
	app.Tick()
	models := app.Models()
	if len(models) != 2 {
		t.Fatalf("expected the spawned model to be adopted, got %d models", len(models))
	}
	spawned := models[1]
	if spawned.Name != "spawned" {
		t.Errorf("Name = %q", spawned.Name)
	}
	if z := spawned.Transform.Position.Z; z < 0.99 || z > 1.01 {
		t.Errorf("spawned at z=%g, want the cursor at 1", z)
	}
	if _, err := app.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !spawned.HasCompleteShaders() {
		t.Error("spawned model never compiled")
	}
}

func TestE2EEventKindsReported(t *testing.T) {
	app := newTestApp(t)
	result := evalFile(t, app, "examples/buttons.tng")
	ball := result.Models[0]
	want := []string{input.Down.String(), input.Up.String()}
	if strings.Join(ball.Listens, ",") != strings.Join(want, ",") {
		t.Errorf("ball listens for %v, want %v", ball.Listens, want)
	}
}

// ---------------------------------------------------------------------------
// 5. Metrics and output.
// ---------------------------------------------------------------------------

func TestE2EMetrics(t *testing.T) {
	app := newTestApp(t)
	result := evalFile(t, app, "examples/buttons.tng")

	if got := testutil.ToFloat64(app.metrics.LiveModels); got != 2 {
		t.Errorf("live models gauge = %g, want 2", got)
	}
	templates := 0
	for _, m := range result.Models {
		templates += m.Stats.Templates
	}
	n, err := app.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != templates {
		t.Errorf("submitted %d compiles, want %d", n, templates)
	}
	if got := testutil.ToFloat64(app.metrics.TemplatesCreated); got != float64(templates) {
		t.Errorf("templates counter = %g, want %d", got, templates)
	}
}

func TestPrintTemplates(t *testing.T) {
	app := newTestApp(t)
	evalFile(t, app, "examples/buttons.tng")
	if _, err := app.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	rows := templateRows(app.Models())
	if len(rows) == 0 {
		t.Fatal("no template rows")
	}
	var buf bytes.Buffer
	if err := printTemplates(&buf, rows); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "MODEL") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "ball") || !strings.Contains(out, "ready") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestPickCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"pick", "examples/buttons.tng", "--origin=-2,0,10", "--dir=0,0,-1"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("pick: %v\n%s", err, out.String())
	}
	got := out.String()
	for _, want := range []string{"hit ball", "press consumed: true", "release consumed: true"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestE2EMeshes(t *testing.T) {
	app := newTestApp(t)
	evalFile(t, app, "examples/buttons.tng")

	meshes, err := app.Meshes(16)
	if err != nil {
		t.Fatalf("Meshes: %v", err)
	}
	if len(meshes) != 2 {
		t.Fatalf("expected 2 meshes, got %d", len(meshes))
	}
	for _, m := range meshes {
		if m.IsEmpty() {
			t.Errorf("mesh %q is empty", m.PartName)
		}
	}
	if meshes[0].PartName != "ball" || meshes[1].PartName != "block" {
		t.Errorf("unexpected part names %q, %q", meshes[0].PartName, meshes[1].PartName)
	}
}
