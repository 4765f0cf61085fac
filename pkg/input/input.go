// Package input defines the pointer events routed to models and the
// listen-mask bitset models use to subscribe to them.
package input

import (
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Kind identifies a pointer event.
type Kind int

const (
	Down Kind = iota
	Up
	Move
	Scroll

	// NumKinds is the number of event kinds.
	NumKinds
)

var kindNames = [NumKinds]string{"mouse-down", "mouse-up", "mouse-move", "mouse-scroll"}

func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Valid reports whether k names a known event kind.
func (k Kind) Valid() bool {
	return k >= 0 && k < NumKinds
}

// Mask is a set of event kinds.
type Mask uint32

// Flag returns the mask bit of k.
func Flag(k Kind) Mask {
	return 1 << uint(k)
}

func (m Mask) Has(k Kind) bool     { return m&Flag(k) != 0 }
func (m Mask) With(k Kind) Mask    { return m | Flag(k) }
func (m Mask) Without(k Kind) Mask { return m &^ Flag(k) }

// PointerEvent is one pointer event with the world-space ray under the
// cursor. AnyHit and HitPosition are filled in by the router.
type PointerEvent struct {
	Kind   Kind
	Button int
	Clicks int

	RayOrigin v3.Vec
	RayDir    v3.Vec

	ScreenX, ScreenY int
	ScrollX, ScrollY int

	AnyHit      bool
	HitPosition v3.Vec
}
