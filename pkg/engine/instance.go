package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/LiberalArtist/tangerine/pkg/input"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/model"
	zygo "github.com/glycerine/zygomys/zygo"
)

// DefaultSeed seeds `random` until a script calls random-seed, so repeated
// evaluations of one script build the same geometry.
const DefaultSeed = 1

// ErrClosed is returned by Instantiate on a closed result.
var ErrClosed = errors.New("engine: result closed")

// session is the builtins' view of one evaluation.
type session struct {
	k         kernel.Kernel
	rng       *rand.Rand
	instances []*Instance
	result    *Result // set once evaluation succeeds
}

func newSession(k kernel.Kernel) *session {
	s := &session{k: k}
	s.seed(DefaultSeed)
	return s
}

func (s *session) seed(n int64) {
	s.rng = rand.New(rand.NewPCG(uint64(n), uint64(n)^0x9e3779b97f4a7c15))
}

// add records inst. Instances declared by callbacks after evaluation show
// up in the result too.
func (s *session) add(inst *Instance) {
	s.instances = append(s.instances, inst)
	if s.result != nil {
		s.result.Instances = s.instances
	}
}

func (s *session) release() {
	for _, inst := range s.instances {
		inst.release()
	}
	s.instances = nil
}

// Instance is a model declared by a script. Model operations made during
// evaluation are recorded and replayed when the instance is materialized;
// operations made from event callbacks apply to the live model.
type Instance struct {
	Name string
	Tree kernel.Evaluator

	// Model is set by Instantiate.
	Model *model.Model

	visible   bool
	transform model.Transform
	handlers  [input.NumKinds]*zygo.SexpFunction
	held      bool
	result    *Result
}

func newInstance(tree kernel.Evaluator, name string) *Instance {
	tree.Hold()
	return &Instance{
		Name:      name,
		Tree:      tree,
		visible:   true,
		transform: model.Identity(),
		held:      true,
	}
}

func (i *Instance) release() {
	if i.held {
		i.held = false
		i.Tree.Release()
	}
}

// Visible reports the instance's visibility.
func (i *Instance) Visible() bool {
	if i.Model != nil {
		return i.Model.Visible()
	}
	return i.visible
}

func (i *Instance) setVisible(v bool) {
	if i.Model != nil {
		i.Model.SetVisible(v)
		return
	}
	i.visible = v
}

// Transform returns the transform to edit: the live model's once
// materialized, the recorded one before.
func (i *Instance) Transform() *model.Transform {
	if i.Model != nil {
		return &i.Model.Transform
	}
	return &i.transform
}

// Listens reports whether a handler is installed for k.
func (i *Instance) Listens(k input.Kind) bool {
	return i.handlers[k] != nil
}

func (i *Instance) setHandler(k input.Kind, fn *zygo.SexpFunction) {
	i.handlers[k] = fn
	if i.Model == nil {
		return
	}
	if fn == nil {
		i.Model.SetEventCallback(k, nil)
		return
	}
	i.Model.SetEventCallback(k, i.result.handler(fn))
}

// Result is the outcome of one evaluation. It keeps the script
// environment alive so event callbacks can run after evaluation.
type Result struct {
	Instances []*Instance
	Value     string // printed form of the last expression

	env     *zygo.Zlisp
	session *session
	closed  bool
}

// Instantiate compiles every instance into a model registered with reg.
// It must run on the goroutine that owns reg. On error the models created
// so far are released.
func (r *Result) Instantiate(reg *model.Registry, voxelSize float64, opts ...model.Option) ([]*model.Model, error) {
	if r == nil || r.closed {
		return nil, ErrClosed
	}
	var out []*model.Model
	var created []*Instance
	for n, inst := range r.Instances {
		if inst.Model != nil {
			out = append(out, inst.Model)
			continue
		}
		o := opts
		if inst.Name != "" {
			o = append(o[:len(o):len(o)], model.WithName(inst.Name))
		}
		m, err := model.New(reg, inst.Tree, voxelSize, o...)
		if err != nil {
			for _, i := range created {
				i.Model.Release()
				i.Model = nil
			}
			return nil, fmt.Errorf("engine: instance %d: %w", n, err)
		}
		m.Transform = inst.transform
		m.SetVisible(inst.visible)
		inst.result = r
		inst.Model = m
		for k, fn := range inst.handlers {
			if fn != nil {
				m.SetEventCallback(input.Kind(k), r.handler(fn))
			}
		}
		created = append(created, inst)
		out = append(out, m)
	}
	return out, nil
}

// handler adapts a script callback. The callback receives one event
// object; any error it raises unsubscribes it.
func (r *Result) handler(fn *zygo.SexpFunction) model.Handler {
	return func(ev input.PointerEvent, picked bool) error {
		if r.closed {
			return ErrClosed
		}
		_, err := r.env.Apply(fn, []zygo.Sexp{&sexpEvent{ev: ev, picked: picked}})
		return err
	}
}

// Close stops the script environment and drops the instances' tree
// references. Models created by Instantiate are not released.
func (r *Result) Close() {
	if r == nil || r.closed {
		return
	}
	r.closed = true
	if r.session != nil {
		r.session.release()
	}
	if r.env != nil {
		r.env.Stop()
	}
}
