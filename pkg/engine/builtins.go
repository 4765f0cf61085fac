package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/LiberalArtist/tangerine/pkg/input"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/model"
	v3 "github.com/deadsy/sdfx/vec/v3"
	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/go-gl/mathgl/mgl64"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms tangerine Lisp source code before passing it to
// zygomys. It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: blend-union -> blend_union
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// ---------------------------------------------------------------------------
// Custom Sexp types
// ---------------------------------------------------------------------------

// sexpTree wraps an evaluator tree as a zygomys value.
type sexpTree struct {
	e kernel.Evaluator
}

func (t *sexpTree) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(tree leaves=%d)", t.e.LeafCount())
}

func (t *sexpTree) Type() *zygo.RegisteredType { return nil }

// sexpVec3 wraps a 3D vector as a zygomys value.
type sexpVec3 struct {
	vec v3.Vec
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}

func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// sexpModel is the script handle for a declared instance.
type sexpModel struct {
	inst *Instance
}

func (m *sexpModel) SexpString(ps *zygo.PrintState) string {
	if m.inst.Name != "" {
		return fmt.Sprintf("(instance %q)", m.inst.Name)
	}
	return "(instance)"
}

func (m *sexpModel) Type() *zygo.RegisteredType { return nil }

// sexpEvent is the argument passed to pointer callbacks.
type sexpEvent struct {
	ev     input.PointerEvent
	picked bool
}

func (e *sexpEvent) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(event %s picked=%t)", e.ev.Kind, e.picked)
}

func (e *sexpEvent) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// lispName maps a registered builtin name back to the form scripts use.
func lispName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toInt extracts an integer from a SexpInt.
func toInt(s zygo.Sexp) (int64, error) {
	if v, ok := s.(*zygo.SexpInt); ok {
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toTree extracts an evaluator from a sexpTree.
func toTree(s zygo.Sexp) (kernel.Evaluator, error) {
	if t, ok := s.(*sexpTree); ok {
		return t.e, nil
	}
	return nil, fmt.Errorf("expected tree, got %T (%s)", s, s.SexpString(nil))
}

// toInstance extracts the instance behind a sexpModel.
func toInstance(s zygo.Sexp) (*Instance, error) {
	if m, ok := s.(*sexpModel); ok {
		return m.inst, nil
	}
	return nil, fmt.Errorf("expected instance, got %T (%s)", s, s.SexpString(nil))
}

// toVec3 extracts a vector from a sexpVec3.
func toVec3(s zygo.Sexp) (v3.Vec, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return v3.Vec{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// takeVec3 reads a vector at args[i], given either as a vec3 value or as
// three numbers. It returns the index of the next unread argument.
func takeVec3(args []zygo.Sexp, i int) (v3.Vec, int, error) {
	if i >= len(args) {
		return v3.Vec{}, i, fmt.Errorf("missing vector argument")
	}
	if v, ok := args[i].(*sexpVec3); ok {
		return v.vec, i + 1, nil
	}
	if i+3 > len(args) {
		return v3.Vec{}, i, fmt.Errorf("expected vec3 or three numbers")
	}
	var c [3]float64
	for n := range c {
		f, err := toFloat64(args[i+n])
		if err != nil {
			return v3.Vec{}, i, err
		}
		c[n] = f
	}
	return v3.Vec{X: c[0], Y: c[1], Z: c[2]}, i + 3, nil
}

// toTrees extracts at least two evaluators for a boolean operation.
func toTrees(args []zygo.Sexp) ([]kernel.Evaluator, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("requires at least two trees")
	}
	out := make([]kernel.Evaluator, len(args))
	for n, a := range args {
		e, err := toTree(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", n+1, err)
		}
		out[n] = e
	}
	return out, nil
}

// toFunc accepts a function or nil, which clears a callback.
func toFunc(s zygo.Sexp) (*zygo.SexpFunction, error) {
	if s == zygo.SexpNull {
		return nil, nil
	}
	if fn, ok := s.(*zygo.SexpFunction); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("expected function or nil, got %T (%s)", s, s.SexpString(nil))
}

// toColor accepts a vec3 of components in [0, 1] or a "#rrggbb" string.
func toColor(s zygo.Sexp) (kernel.Color, error) {
	switch v := s.(type) {
	case *sexpVec3:
		return kernel.Color{R: v.vec.X, G: v.vec.Y, B: v.vec.Z, A: 1}, nil
	case *zygo.SexpStr:
		return parseHexColor(v.S)
	}
	return kernel.Color{}, fmt.Errorf("expected vec3 or \"#rrggbb\", got %T (%s)", s, s.SexpString(nil))
}

// parseHexColor parses "#rgb", "#rrggbb" or "#rrggbbaa", with or without
// the leading '#'.
func parseHexColor(s string) (kernel.Color, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return kernel.Color{}, fmt.Errorf("invalid color %q", s)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return kernel.Color{}, fmt.Errorf("invalid color %q", s)
	}
	ch := func(shift uint) float64 { return float64((n>>shift)&0xff) / 255 }
	return kernel.Color{R: ch(24), G: ch(16), B: ch(8), A: ch(0)}, nil
}

func floatSexp(f float64) zygo.Sexp { return &zygo.SexpFloat{Val: f} }

func vecSexp(v v3.Vec) zygo.Sexp { return &sexpVec3{vec: v} }

func treeSexp(e kernel.Evaluator) zygo.Sexp { return &sexpTree{e: e} }

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

type builtin = func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error)

// checked wraps fn so its errors carry the script-facing builtin name.
func checked(fn builtin) builtin {
	return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		out, err := fn(env, name, args)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %w", lispName(name), err)
		}
		return out, nil
	}
}

func arity(args []zygo.Sexp, lo, hi int) error {
	switch {
	case len(args) < lo:
		return fmt.Errorf("requires at least %d arguments, got %d", lo, len(args))
	case hi >= 0 && len(args) > hi:
		return fmt.Errorf("takes at most %d arguments, got %d", hi, len(args))
	}
	return nil
}

// numbers converts every argument to a float64.
func numbers(args []zygo.Sexp) ([]float64, error) {
	out := make([]float64, len(args))
	for n, a := range args {
		f, err := toFloat64(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", n+1, err)
		}
		out[n] = f
	}
	return out, nil
}

// registerBuiltins installs the modeling builtins into a zygomys
// environment. Trees are built with the session's kernel; instances are
// recorded on the session.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens and kebab-case names match the registered names.
func registerBuiltins(env *zygo.Zlisp, s *session) {
	add := func(name string, fn builtin) {
		env.AddFunction(name, checked(fn))
	}
	k := s.k

	// -----------------------------------------------------------------------
	// Vectors: (vec3 1 2 3), (vec-x v)
	// -----------------------------------------------------------------------
	add("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := arity(args, 3, 3); err != nil {
			return nil, err
		}
		v, _, err := takeVec3(args, 0)
		if err != nil {
			return nil, err
		}
		return vecSexp(v), nil
	})
	component := func(get func(v3.Vec) float64) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, 1, 1); err != nil {
				return nil, err
			}
			v, err := toVec3(args[0])
			if err != nil {
				return nil, err
			}
			return floatSexp(get(v)), nil
		}
	}
	add("vec_x", component(func(v v3.Vec) float64 { return v.X }))
	add("vec_y", component(func(v v3.Vec) float64 { return v.Y }))
	add("vec_z", component(func(v v3.Vec) float64 { return v.Z }))

	// -----------------------------------------------------------------------
	// Primitives: (sphere 1), (box 1 2 3), (cube 1), (torus 2 0.5),
	// (cylinder 1 2), (cone 1 2), (coninder 2 1 3)
	// -----------------------------------------------------------------------
	primitive := func(n int, build func(f []float64) kernel.Evaluator) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, n, n); err != nil {
				return nil, err
			}
			f, err := numbers(args)
			if err != nil {
				return nil, err
			}
			return treeSexp(build(f)), nil
		}
	}
	add("sphere", primitive(1, func(f []float64) kernel.Evaluator { return k.Sphere(f[0]) }))
	add("cube", primitive(1, func(f []float64) kernel.Evaluator { return k.Cube(f[0]) }))
	add("torus", primitive(2, func(f []float64) kernel.Evaluator { return k.Torus(f[0], f[1]) }))
	add("cylinder", primitive(2, func(f []float64) kernel.Evaluator { return k.Cylinder(f[0], f[1]) }))
	add("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		v, next, err := takeVec3(args, 0)
		if err != nil {
			return nil, err
		}
		if next != len(args) {
			return nil, fmt.Errorf("unexpected arguments after size")
		}
		return treeSexp(k.Box(v.X, v.Y, v.Z)), nil
	})
	add("cone", primitive(2, func(f []float64) kernel.Evaluator { return k.Cone(f[0], f[1]) }))
	add("coninder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		v, next, err := takeVec3(args, 0)
		if err != nil {
			return nil, err
		}
		if next != len(args) {
			return nil, fmt.Errorf("unexpected arguments after size")
		}
		return treeSexp(k.Coninder(v.X, v.Y, v.Z)), nil
	})

	// -----------------------------------------------------------------------
	// Booleans: (union a b ...), (blend-union a b ... k)
	// -----------------------------------------------------------------------
	boolean := func(op func(a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			trees, err := toTrees(args)
			if err != nil {
				return nil, err
			}
			return treeSexp(op(trees[0], trees[1], trees[2:]...)), nil
		}
	}
	add("union", boolean(k.Union))
	add("inter", boolean(k.Inter))
	add("diff", boolean(k.Diff))

	blend := func(op func(r float64, a, b kernel.Evaluator, rest ...kernel.Evaluator) kernel.Evaluator) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, 3, -1); err != nil {
				return nil, err
			}
			r, err := toFloat64(args[len(args)-1])
			if err != nil {
				return nil, fmt.Errorf("threshold: %w", err)
			}
			trees, err := toTrees(args[:len(args)-1])
			if err != nil {
				return nil, err
			}
			return treeSexp(op(r, trees[0], trees[1], trees[2:]...)), nil
		}
	}
	add("blend_union", blend(k.BlendUnion))
	add("blend_inter", blend(k.BlendInter))
	add("blend_diff", blend(k.BlendDiff))

	// -----------------------------------------------------------------------
	// Transforms. Given a tree they return a new tree; given an instance
	// they edit its model transform and return the instance.
	// -----------------------------------------------------------------------
	transform := func(minArgs int, onTree func(e kernel.Evaluator, args []zygo.Sexp) (kernel.Evaluator, error),
		onModel func(t *Instance, args []zygo.Sexp) error) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, minArgs+1, -1); err != nil {
				return nil, err
			}
			if m, ok := args[0].(*sexpModel); ok {
				if err := onModel(m.inst, args[1:]); err != nil {
					return nil, err
				}
				return m, nil
			}
			e, err := toTree(args[0])
			if err != nil {
				return nil, err
			}
			out, err := onTree(e, args[1:])
			if err != nil {
				return nil, err
			}
			return treeSexp(out), nil
		}
	}
	offset := func(args []zygo.Sexp) (v3.Vec, error) {
		v, next, err := takeVec3(args, 0)
		if err == nil && next != len(args) {
			err = fmt.Errorf("unexpected arguments after offset")
		}
		return v, err
	}
	add("move", transform(1,
		func(e kernel.Evaluator, args []zygo.Sexp) (kernel.Evaluator, error) {
			v, err := offset(args)
			if err != nil {
				return nil, err
			}
			return k.Move(e, v), nil
		},
		func(t *Instance, args []zygo.Sexp) error {
			v, err := offset(args)
			if err != nil {
				return err
			}
			t.Transform().Move(v)
			return nil
		}))
	axisMove := func(axis func(d float64) v3.Vec) builtin {
		return transform(1,
			func(e kernel.Evaluator, args []zygo.Sexp) (kernel.Evaluator, error) {
				d, err := toFloat64(args[0])
				if err != nil {
					return nil, err
				}
				return k.Move(e, axis(d)), nil
			},
			func(t *Instance, args []zygo.Sexp) error {
				d, err := toFloat64(args[0])
				if err != nil {
					return err
				}
				t.Transform().Move(axis(d))
				return nil
			})
	}
	add("move_x", axisMove(func(d float64) v3.Vec { return v3.Vec{X: d} }))
	add("move_y", axisMove(func(d float64) v3.Vec { return v3.Vec{Y: d} }))
	add("move_z", axisMove(func(d float64) v3.Vec { return v3.Vec{Z: d} }))

	quat := func(args []zygo.Sexp) (mgl64.Quat, error) {
		if len(args) != 4 {
			return mgl64.Quat{}, fmt.Errorf("expected quaternion x y z w")
		}
		f, err := numbers(args)
		if err != nil {
			return mgl64.Quat{}, err
		}
		return mgl64.Quat{W: f[3], V: mgl64.Vec3{f[0], f[1], f[2]}}, nil
	}
	add("rotate", transform(4,
		func(e kernel.Evaluator, args []zygo.Sexp) (kernel.Evaluator, error) {
			q, err := quat(args)
			if err != nil {
				return nil, err
			}
			return k.Rotate(e, q), nil
		},
		func(t *Instance, args []zygo.Sexp) error {
			q, err := quat(args)
			if err != nil {
				return err
			}
			t.Transform().Rotate(q)
			return nil
		}))
	axisRotate := func(onTree func(kernel.Evaluator, float64) kernel.Evaluator, onModel func(*model.Transform, float64)) builtin {
		return transform(1,
			func(e kernel.Evaluator, args []zygo.Sexp) (kernel.Evaluator, error) {
				deg, err := toFloat64(args[0])
				if err != nil {
					return nil, err
				}
				return onTree(e, deg), nil
			},
			func(t *Instance, args []zygo.Sexp) error {
				deg, err := toFloat64(args[0])
				if err != nil {
					return err
				}
				onModel(t.Transform(), deg)
				return nil
			})
	}
	add("rotate_x", axisRotate(k.RotateX, (*model.Transform).RotateX))
	add("rotate_y", axisRotate(k.RotateY, (*model.Transform).RotateY))
	add("rotate_z", axisRotate(k.RotateZ, (*model.Transform).RotateZ))
	add("scale", transform(1,
		func(e kernel.Evaluator, args []zygo.Sexp) (kernel.Evaluator, error) {
			f, err := toFloat64(args[0])
			if err != nil {
				return nil, err
			}
			return k.Scale(e, f), nil
		},
		func(t *Instance, args []zygo.Sexp) error {
			f, err := toFloat64(args[0])
			if err != nil {
				return err
			}
			t.Transform().ScaleBy(f)
			return nil
		}))

	// -----------------------------------------------------------------------
	// Tree modifiers: (flate t d), (paint t c), (paint-over t c),
	// (align t anchors)
	// -----------------------------------------------------------------------
	add("flate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := arity(args, 2, 2); err != nil {
			return nil, err
		}
		e, err := toTree(args[0])
		if err != nil {
			return nil, err
		}
		d, err := toFloat64(args[1])
		if err != nil {
			return nil, err
		}
		return treeSexp(k.Flate(e, d)), nil
	})
	paint := func(force bool) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, 2, 2); err != nil {
				return nil, err
			}
			e, err := toTree(args[0])
			if err != nil {
				return nil, err
			}
			c, err := toColor(args[1])
			if err != nil {
				return nil, err
			}
			return treeSexp(k.Paint(e, c, force)), nil
		}
	}
	add("paint", paint(false))
	add("paint_over", paint(true))
	add("align", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := arity(args, 2, 4); err != nil {
			return nil, err
		}
		e, err := toTree(args[0])
		if err != nil {
			return nil, err
		}
		v, err := offset(args[1:])
		if err != nil {
			return nil, err
		}
		return treeSexp(k.Align(e, v)), nil
	})

	// -----------------------------------------------------------------------
	// Queries: (distance t p), (gradient t p), (pick-color t p),
	// (ray-cast t origin dir [max-iter [eps]]), (magnet t origin target),
	// (pivot-towards t max-dist margin max-angle pivot heading down)
	// -----------------------------------------------------------------------
	point := func(args []zygo.Sexp) (kernel.Evaluator, v3.Vec, error) {
		if err := arity(args, 2, 4); err != nil {
			return nil, v3.Vec{}, err
		}
		e, err := toTree(args[0])
		if err != nil {
			return nil, v3.Vec{}, err
		}
		p, err := offset(args[1:])
		return e, p, err
	}
	add("distance", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		e, p, err := point(args)
		if err != nil {
			return nil, err
		}
		return floatSexp(e.Eval(p)), nil
	})
	add("gradient", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		e, p, err := point(args)
		if err != nil {
			return nil, err
		}
		return vecSexp(e.Gradient(p)), nil
	})
	add("pick_color", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		e, p, err := point(args)
		if err != nil {
			return nil, err
		}
		c := e.Sample(p)
		return zygo.MakeList([]zygo.Sexp{floatSexp(c.R), floatSexp(c.G), floatSexp(c.B), floatSexp(c.A)}), nil
	})

	// march reads a tree, two vectors and optional iteration/epsilon limits.
	march := func(args []zygo.Sexp) (e kernel.Evaluator, a, b v3.Vec, iter int, eps float64, err error) {
		iter, eps = kernel.DefaultCastIterations, kernel.DefaultCastEpsilon
		if err = arity(args, 3, -1); err != nil {
			return
		}
		if e, err = toTree(args[0]); err != nil {
			return
		}
		next := 1
		if a, next, err = takeVec3(args, next); err != nil {
			return
		}
		if b, next, err = takeVec3(args, next); err != nil {
			return
		}
		rest := args[next:]
		if len(rest) > 2 {
			err = fmt.Errorf("too many arguments")
			return
		}
		if len(rest) > 0 {
			var n int64
			if n, err = toInt(rest[0]); err != nil {
				return
			}
			iter = int(n)
		}
		if len(rest) > 1 {
			if eps, err = toFloat64(rest[1]); err != nil {
				return
			}
		}
		return
	}
	hitOrNil := func(p v3.Vec, ok bool) zygo.Sexp {
		if !ok {
			return zygo.SexpNull
		}
		return vecSexp(p)
	}
	add("ray_cast", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		e, origin, dir, iter, eps, err := march(args)
		if err != nil {
			return nil, err
		}
		return hitOrNil(kernel.RayCast(e, origin, dir, iter, eps)), nil
	})
	add("magnet", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		e, origin, target, iter, eps, err := march(args)
		if err != nil {
			return nil, err
		}
		return hitOrNil(kernel.Magnet(e, origin, target, iter, eps)), nil
	})
	add("pivot_towards", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := arity(args, 7, -1); err != nil {
			return nil, err
		}
		e, err := toTree(args[0])
		if err != nil {
			return nil, err
		}
		f, err := numbers(args[1:4])
		if err != nil {
			return nil, err
		}
		var vecs [3]v3.Vec
		next := 4
		for n := range vecs {
			if vecs[n], next, err = takeVec3(args, next); err != nil {
				return nil, err
			}
		}
		if next != len(args) {
			return nil, fmt.Errorf("unexpected arguments after down vector")
		}
		tail, heading := kernel.PivotTowards(e, f[0], f[1], f[2], vecs[0], vecs[1], vecs[2])
		return zygo.MakeList([]zygo.Sexp{vecSexp(tail), vecSexp(heading)}), nil
	})

	// -----------------------------------------------------------------------
	// Deterministic randomness: (random-seed n), (random), (random lo hi),
	// (shuffle-sequence n)
	// -----------------------------------------------------------------------
	add("random_seed", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		n, err := toInt(args[0])
		if err != nil {
			return nil, err
		}
		s.seed(n)
		return zygo.SexpNull, nil
	})
	add("random", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		switch len(args) {
		case 0:
			return floatSexp(s.rng.Float64()), nil
		case 2:
		default:
			return nil, fmt.Errorf("takes no arguments or a range lo hi")
		}
		// Two integers draw an integer from [lo, hi].
		lo, loInt := args[0].(*zygo.SexpInt)
		hi, hiInt := args[1].(*zygo.SexpInt)
		if loInt && hiInt {
			if hi.Val < lo.Val {
				return nil, fmt.Errorf("empty range [%d, %d]", lo.Val, hi.Val)
			}
			// The width of [lo, hi] may not fit in an int64.
			span := uint64(hi.Val) - uint64(lo.Val)
			var r uint64
			if span == math.MaxUint64 {
				r = s.rng.Uint64()
			} else {
				r = s.rng.Uint64N(span + 1)
			}
			return &zygo.SexpInt{Val: int64(uint64(lo.Val) + r)}, nil
		}
		f, err := numbers(args)
		if err != nil {
			return nil, err
		}
		return floatSexp(f[0] + s.rng.Float64()*(f[1]-f[0])), nil
	})
	add("shuffle_sequence", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		n, err := toInt(args[0])
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative length %d", n)
		}
		out := make([]zygo.Sexp, n)
		for i, j := range s.rng.Perm(int(n)) {
			out[i] = &zygo.SexpInt{Val: int64(j)}
		}
		return zygo.MakeList(out), nil
	})

	// -----------------------------------------------------------------------
	// Instances: (instance t :name "x"), (hide m), (show m),
	// (reset-transform m), (on-mouse-down m fn), (on-mouse-up m fn)
	// -----------------------------------------------------------------------
	add("instance", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return nil, fmt.Errorf("requires exactly one tree")
		}
		e, err := toTree(pa.positional[0])
		if err != nil {
			return nil, err
		}
		var label string
		if v, ok := pa.kw["name"]; ok {
			if label, err = toString(v); err != nil {
				return nil, fmt.Errorf("name: %w", err)
			}
		}
		inst := newInstance(e, label)
		s.add(inst)
		return &sexpModel{inst: inst}, nil
	})
	modelOp := func(op func(*Instance)) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, 1, 1); err != nil {
				return nil, err
			}
			inst, err := toInstance(args[0])
			if err != nil {
				return nil, err
			}
			op(inst)
			return args[0], nil
		}
	}
	add("hide", modelOp(func(i *Instance) { i.setVisible(false) }))
	add("show", modelOp(func(i *Instance) { i.setVisible(true) }))
	add("reset_transform", modelOp(func(i *Instance) { i.Transform().Reset() }))
	callback := func(kind input.Kind) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, 2, 2); err != nil {
				return nil, err
			}
			inst, err := toInstance(args[0])
			if err != nil {
				return nil, err
			}
			fn, err := toFunc(args[1])
			if err != nil {
				return nil, err
			}
			inst.setHandler(kind, fn)
			return args[0], nil
		}
	}
	add("on_mouse_down", callback(input.Down))
	add("on_mouse_up", callback(input.Up))

	// -----------------------------------------------------------------------
	// Event accessors: (event-picked e), (event-button e), (event-clicks e),
	// (event-cursor e), (event-kind e)
	// -----------------------------------------------------------------------
	accessor := func(get func(*sexpEvent) zygo.Sexp) builtin {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if err := arity(args, 1, 1); err != nil {
				return nil, err
			}
			ev, ok := args[0].(*sexpEvent)
			if !ok {
				return nil, fmt.Errorf("expected event, got %T (%s)", args[0], args[0].SexpString(nil))
			}
			return get(ev), nil
		}
	}
	add("event_picked", accessor(func(e *sexpEvent) zygo.Sexp { return &zygo.SexpBool{Val: e.picked} }))
	add("event_button", accessor(func(e *sexpEvent) zygo.Sexp { return &zygo.SexpInt{Val: int64(e.ev.Button)} }))
	add("event_clicks", accessor(func(e *sexpEvent) zygo.Sexp { return &zygo.SexpInt{Val: int64(e.ev.Clicks)} }))
	add("event_kind", accessor(func(e *sexpEvent) zygo.Sexp { return &zygo.SexpStr{S: e.ev.Kind.String()} }))
	add("event_cursor", accessor(func(e *sexpEvent) zygo.Sexp {
		if !e.ev.AnyHit {
			return zygo.SexpNull
		}
		return vecSexp(e.ev.HitPosition)
	}))
}
