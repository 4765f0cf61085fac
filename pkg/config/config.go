// Package config loads tangerine settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/LiberalArtist/tangerine/pkg/compile"
	"github.com/LiberalArtist/tangerine/pkg/engine"
	"github.com/LiberalArtist/tangerine/pkg/logging"
	"github.com/LiberalArtist/tangerine/pkg/model"
	"github.com/LiberalArtist/tangerine/pkg/program"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// DefaultVoxelSize is the partition cell edge used when none is configured.
const DefaultVoxelSize = 0.25

// Config is the full set of settings.
type Config struct {
	VoxelSize           float64 `yaml:"voxel_size"`
	MaxVoxelsPerVariant int     `yaml:"max_voxels_per_variant"`

	RayMarch RayMarch `yaml:"ray_march"`
	Compile  Compile  `yaml:"compile"`
	Engine   Engine   `yaml:"engine"`
	Log      Log      `yaml:"log"`
}

// RayMarch tunes hit testing for pointer events.
type RayMarch struct {
	MaxIterations int     `yaml:"max_iterations"`
	Epsilon       float64 `yaml:"epsilon"`
}

// Compile tunes the shader backend.
type Compile struct {
	Workers int `yaml:"workers"`
}

// Engine tunes script evaluation.
type Engine struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Log selects the handler the CLI installs.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		VoxelSize:           DefaultVoxelSize,
		MaxVoxelsPerVariant: program.DefaultMaxVoxels,
		RayMarch: RayMarch{
			MaxIterations: model.DefaultRayIterations,
			Epsilon:       model.DefaultRayEpsilon,
		},
		Compile: Compile{Workers: compile.DefaultWorkers},
		Engine:  Engine{Timeout: engine.EvalTimeout},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads and validates the file at path. Keys missing from the file
// keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w (%s)", err, path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and leaves the defaults.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.VoxelSize > 0, "voxel_size must be positive, got %g", c.VoxelSize)
	check(c.MaxVoxelsPerVariant > 0, "max_voxels_per_variant must be positive, got %d", c.MaxVoxelsPerVariant)
	check(c.RayMarch.MaxIterations > 0, "ray_march.max_iterations must be positive, got %d", c.RayMarch.MaxIterations)
	check(c.RayMarch.Epsilon > 0, "ray_march.epsilon must be positive, got %g", c.RayMarch.Epsilon)
	check(c.Compile.Workers > 0, "compile.workers must be positive, got %d", c.Compile.Workers)
	check(c.Engine.Timeout > 0, "engine.timeout must be positive, got %s", c.Engine.Timeout)
	_, err := logging.New(io.Discard, c.Log.Level, c.Log.Format)
	check(err == nil, "log: %v", err)
	return errors.Join(errs...)
}

// Logger builds the configured logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	return logging.New(w, c.Log.Level, c.Log.Format)
}
