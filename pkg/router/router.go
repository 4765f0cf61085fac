// Package router resolves pointer events against the live models of a
// registry and dispatches them to model handlers.
//
// A press goes to the nearest visible hit among the models listening for
// presses. A release is broadcast to every model listening for releases,
// visible or not, so that an interaction started by a press can always
// finish; only the nearest visible hit sees picked = true.
package router

import (
	"math"

	"github.com/LiberalArtist/tangerine/pkg/input"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
	"github.com/LiberalArtist/tangerine/pkg/model"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Router dispatches pointer events. It runs on the scheduling goroutine.
type Router struct {
	Registry *model.Registry

	// MaxIterations and Epsilon tune the hit-test ray march. Zero selects
	// the model defaults.
	MaxIterations int
	Epsilon       float64
}

// New returns a router over reg.
func New(reg *model.Registry) *Router {
	return &Router{Registry: reg}
}

// DeliverMouseButton routes a press or release. It reports whether at
// least one model received the event; an unconsumed event should go to
// the fallback handler (camera navigation, for instance).
func (r *Router) DeliverMouseButton(ev input.PointerEvent) (consumed bool) {
	press := ev.Kind == input.Down
	release := ev.Kind == input.Up
	if !press && !release {
		return false
	}

	nearest := math.Inf(1)
	var picked *model.Model
	var recipients []*model.Model

	for _, m := range r.Registry.Live() {
		if m.Destroyed() || !m.Listens(ev.Kind) {
			continue
		}
		if release {
			recipients = append(recipients, m)
		}
		if !m.Visible() {
			continue
		}
		hit := m.RayMarch(ev.RayOrigin, ev.RayDir, r.MaxIterations, r.Epsilon)
		if hit.Hit && hit.Travel < nearest {
			nearest = hit.Travel
			picked = m
			ev.AnyHit = true
			ev.HitPosition = hit.Position
		}
	}

	if press && picked != nil {
		picked.Deliver(ev, true)
		return true
	}
	for _, m := range recipients {
		// An earlier handler may have destroyed this model.
		if !m.Destroyed() {
			m.Deliver(ev, m == picked)
		}
	}
	return len(recipients) > 0
}

// Pick returns the nearest visible model hit by the ray, listening or
// not. m is nil on a miss.
func (r *Router) Pick(origin, dir v3.Vec) (m *model.Model, hit kernel.RayHit) {
	nearest := math.Inf(1)
	for _, c := range r.Registry.Live() {
		if c.Destroyed() || !c.Visible() {
			continue
		}
		h := c.RayMarch(origin, dir, r.MaxIterations, r.Epsilon)
		if h.Hit && h.Travel < nearest {
			nearest = h.Travel
			m, hit = c, h
		}
	}
	return m, hit
}

// DeliverMouseMove is not routed to models yet: whether move listeners
// subscribe globally or per model, and how occlusion applies, is still
// undecided. It always reports the event as not consumed.
func (r *Router) DeliverMouseMove(ev input.PointerEvent) (consumed bool) {
	return false
}

// DeliverMouseScroll is not routed either; see DeliverMouseMove.
func (r *Router) DeliverMouseScroll(ev input.PointerEvent) (consumed bool) {
	return false
}
