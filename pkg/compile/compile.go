// Package compile turns generated WGSL into GPU programs asynchronously.
//
// StartCompile never blocks. The returned Future is polled from the
// scheduling thread; it may outlive every template that referenced it, and
// an abandoned in-flight compile simply finishes unobserved.
package compile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// ErrClosed is reported by futures started after the backend was closed.
var ErrClosed = errors.New("compile: backend closed")

// Program is a compiled GPU program.
type Program struct {
	Hash  string   // hex sha256 of the source
	SPIRV []uint32 // SPIR-V words
}

// Backend compiles generated source.
type Backend interface {
	StartCompile(source string) *Future
}

// Status is the observable state of a Future.
type Status int

const (
	Pending Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Future is the shared completion handle of one compile.
type Future struct {
	done chan struct{}
	once sync.Once
	prog *Program
	err  error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(p *Program, err error) *Future {
	f := NewFuture()
	f.Complete(p, err)
	return f
}

// Complete resolves the future. Later calls are ignored.
func (f *Future) Complete(p *Program, err error) {
	f.once.Do(func() {
		f.prog, f.err = p, err
		if err == nil && p == nil {
			f.err = errors.New("compile: backend returned no program")
		}
		close(f.done)
	})
}

// Poll reports the current state without blocking.
func (f *Future) Poll() (*Program, Status) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, Failed
		}
		return f.prog, Ready
	default:
		return nil, Pending
	}
}

// Err returns the compile error once the future failed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hash returns the hex sha256 of source.
func Hash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Func adapts a synchronous compiler into a Backend that resolves every
// future before returning it.
type Func func(source string) (*Program, error)

// StartCompile runs f inline.
func (f Func) StartCompile(source string) *Future {
	return Resolved(f(source))
}
