package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/LiberalArtist/tangerine/pkg/config"
	"github.com/LiberalArtist/tangerine/pkg/logging"
	"github.com/LiberalArtist/tangerine/pkg/model"
	"github.com/LiberalArtist/tangerine/pkg/tessellate"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	cfg        config.Config

	jsonOutput     bool
	compileTimeout time.Duration
	rayOrigin      []float64
	rayDir         []float64
	button         int
	meshCells      int
	meshOut        string

	rootCmd = &cobra.Command{
		Use:   "tangerine",
		Short: "Compile signed distance scripts into voxel-partitioned GPU programs",
		Long: `tangerine evaluates a Lisp script that builds signed distance trees,
partitions each declared instance into voxels, and compiles one GPU
program per distinct subtree.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	compileCmd = &cobra.Command{
		Use:   "compile FILE",
		Short: "Evaluate a script and compile every template",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile,
	}

	meshCmd = &cobra.Command{
		Use:   "mesh FILE",
		Short: "Evaluate a script and write its models as JSON triangle meshes",
		Args:  cobra.ExactArgs(1),
		RunE:  runMesh,
	}

	pickCmd = &cobra.Command{
		Use:   "pick FILE",
		Short: "Evaluate a script and send a press and release along a ray",
		Args:  cobra.ExactArgs(1),
		RunE:  runPick,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults built in)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	compileCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")
	compileCmd.Flags().DurationVar(&compileTimeout, "timeout", time.Minute, "give up waiting for compiles after this long")

	pickCmd.Flags().Float64SliceVar(&rayOrigin, "origin", []float64{0, 0, 10}, "ray origin x,y,z")
	pickCmd.Flags().Float64SliceVar(&rayDir, "dir", []float64{0, 0, -1}, "ray direction x,y,z")
	pickCmd.Flags().IntVar(&button, "button", 0, "pointer button")

	meshCmd.Flags().IntVar(&meshCells, "cells", tessellate.DefaultCells, "marching cubes cells along the longest side")
	meshCmd.Flags().StringVarP(&meshOut, "out", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(compileCmd, meshCmd, pickCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	cfg = config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	l, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logging.SetLogger(l)
	return nil
}

// openScript evaluates the script at path in a new App.
func openScript(cmd *cobra.Command, path string) (*App, EvalResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, EvalResult{}, err
	}
	app, err := NewApp(cfg)
	if err != nil {
		return nil, EvalResult{}, err
	}
	res := app.Evaluate(string(src))
	if len(res.Errors) > 0 {
		for _, e := range res.Errors {
			if e.Line > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d: %s\n", path, e.Line, e.Message)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", path, e.Message)
			}
		}
		app.Close()
		return nil, res, errors.New("evaluation failed")
	}
	return app, res, nil
}

// TemplateRow describes one compiled template for output.
type TemplateRow struct {
	Model     string `json:"model"`
	Index     int    `json:"index"`
	DebugName string `json:"debugName"`
	Leaves    int    `json:"leaves"`
	Variants  int    `json:"variants"`
	Voxels    int    `json:"voxels"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

func templateRows(models []*model.Model) []TemplateRow {
	rows := []TemplateRow{}
	for _, m := range models {
		name := m.Name
		if name == "" {
			name = m.ID.String()
		}
		for i, t := range m.Templates() {
			row := TemplateRow{
				Model:     name,
				Index:     i,
				DebugName: t.DebugName,
				Leaves:    t.LeafCount,
				Variants:  len(t.Variants),
				Voxels:    t.Voxels(),
				State:     t.State().String(),
			}
			if err := t.Err(); err != nil {
				row.Error = err.Error()
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func runCompile(cmd *cobra.Command, args []string) error {
	app, res, err := openScript(cmd, args[0])
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), compileTimeout)
	defer cancel()
	submitted, err := app.Drain(ctx)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	rows := templateRows(app.Models())

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			EvalResult
			Submitted int           `json:"submitted"`
			Templates []TemplateRow `json:"templates"`
		}{res, submitted, rows})
	}
	return printTemplates(out, rows)
}

func printTemplates(w io.Writer, rows []TemplateRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tTEMPLATE\tLEAVES\tVARIANTS\tVOXELS\tSTATE\tNAME")
	for _, r := range rows {
		state := r.State
		if r.Error != "" {
			state += " (" + r.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n", r.Model, r.Index, r.Leaves, r.Variants, r.Voxels, state, r.DebugName)
	}
	return tw.Flush()
}

func runMesh(cmd *cobra.Command, args []string) error {
	app, _, err := openScript(cmd, args[0])
	if err != nil {
		return err
	}
	defer app.Close()

	meshes, err := app.Meshes(meshCells)
	if err != nil {
		return err
	}
	if meshes == nil {
		meshes = []*tessellate.Mesh{}
	}
	out := cmd.OutOrStdout()
	if meshOut != "" {
		f, err := os.Create(meshOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := json.NewEncoder(out).Encode(meshes); err != nil {
		return fmt.Errorf("mesh: %w", err)
	}
	return nil
}

func vecFlag(name string, f []float64) (v3.Vec, error) {
	if len(f) != 3 {
		return v3.Vec{}, fmt.Errorf("--%s needs three components, got %d", name, len(f))
	}
	return v3.Vec{X: f[0], Y: f[1], Z: f[2]}, nil
}

func runPick(cmd *cobra.Command, args []string) error {
	origin, err := vecFlag("origin", rayOrigin)
	if err != nil {
		return err
	}
	dir, err := vecFlag("dir", rayDir)
	if err != nil {
		return err
	}
	app, _, err := openScript(cmd, args[0])
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	if m, hit := app.Pick(origin, dir); m != nil {
		name := m.Name
		if name == "" {
			name = m.ID.String()
		}
		fmt.Fprintf(out, "hit %s at (%g, %g, %g) travel %g\n", name, hit.Position.X, hit.Position.Y, hit.Position.Z, hit.Travel)
	} else {
		fmt.Fprintln(out, "miss")
	}
	fmt.Fprintf(out, "press consumed: %t\n", app.PointerDown(origin, dir, button))
	fmt.Fprintf(out, "release consumed: %t\n", app.PointerUp(origin, dir, button))
	return nil
}
