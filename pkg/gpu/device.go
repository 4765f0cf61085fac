// Package gpu is the minimal buffer surface the model layer needs from a
// graphics device. Buffers are addressed by opaque IDs; zero is invalid.
package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gputypes"
)

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// InvalidID is the zero value, representing no buffer.
const InvalidID BufferID = 0

// Usage flags for the mirrors the model layer uploads.
const (
	StorageUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	UniformUsage = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
)

// Device creates and releases buffers.
type Device interface {
	CreateBuffer(label string, usage gputypes.BufferUsage, data []byte) (BufferID, error)
	ReleaseBuffer(id BufferID)
}

// Float32Bytes encodes v little-endian, the layout of WGSL f32 arrays.
func Float32Bytes(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// Buffer is one live allocation of a MemoryDevice.
type Buffer struct {
	Label string
	Usage gputypes.BufferUsage
	Data  []byte
}

// MemoryDevice keeps buffers in host memory. It backs tests and headless
// runs.
type MemoryDevice struct {
	mu      sync.Mutex
	next    BufferID
	buffers map[BufferID]*Buffer
}

// Compile-time interface check.
var _ Device = (*MemoryDevice)(nil)

// NewMemoryDevice returns an empty device.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{buffers: make(map[BufferID]*Buffer)}
}

// CreateBuffer copies data into a new buffer.
func (d *MemoryDevice) CreateBuffer(label string, usage gputypes.BufferUsage, data []byte) (BufferID, error) {
	if usage == 0 {
		return InvalidID, fmt.Errorf("gpu: buffer %q: empty usage", label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.buffers[d.next] = &Buffer{Label: label, Usage: usage, Data: append([]byte(nil), data...)}
	return d.next, nil
}

// ReleaseBuffer frees id. Releasing an unknown id panics.
func (d *MemoryDevice) ReleaseBuffer(id BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; !ok {
		panic(fmt.Sprintf("gpu: release of unknown buffer %d", id))
	}
	delete(d.buffers, id)
}

// Live returns the number of unreleased buffers.
func (d *MemoryDevice) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Buffer returns a live buffer by id.
func (d *MemoryDevice) Buffer(id BufferID) (*Buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	return b, ok
}
