package model

import (
	"context"
)

// Waiter is implemented by backends that can block until in-flight
// compiles finish.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Scheduler advances template compilation one submission per step.
type Scheduler struct {
	Registry *Registry
}

// NewScheduler returns a scheduler over reg.
func NewScheduler(reg *Registry) *Scheduler {
	return &Scheduler{Registry: reg}
}

// Step submits one queued template of the first incomplete model in
// registry order. It reports false when no model has queued work.
func (s *Scheduler) Step() bool {
	for _, m := range s.Registry.Live() {
		if !m.Destroyed() && m.HasPendingShaders() {
			return m.CompileNextShader()
		}
	}
	return false
}

// Drain submits every queued template and then waits for the backend to
// finish, when it supports waiting. It returns the number of submissions.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	n := 0
	for s.Step() {
		n++
		if err := ctx.Err(); err != nil {
			return n, err
		}
	}
	if w, ok := s.Registry.Backend().(Waiter); ok {
		if err := w.Wait(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}
