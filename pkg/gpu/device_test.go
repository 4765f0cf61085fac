package gpu

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32Bytes(t *testing.T) {
	b := Float32Bytes([]float32{1, -2})
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xc0}, b)
}

func TestMemoryDevice(t *testing.T) {
	d := NewMemoryDevice()
	data := []byte{1, 2, 3, 4}
	id, err := d.CreateBuffer("params", StorageUsage, data)
	require.NoError(t, err)
	assert.NotEqual(t, InvalidID, id)
	assert.Equal(t, 1, d.Live())

	data[0] = 9
	buf, ok := d.Buffer(id)
	require.True(t, ok)
	assert.Equal(t, byte(1), buf.Data[0], "device must copy uploads")
	assert.True(t, buf.Usage.Contains(gputypes.BufferUsageStorage))

	d.ReleaseBuffer(id)
	assert.Equal(t, 0, d.Live())
	assert.Panics(t, func() { d.ReleaseBuffer(id) })
}

func TestMemoryDeviceRejectsEmptyUsage(t *testing.T) {
	_, err := NewMemoryDevice().CreateBuffer("x", 0, nil)
	assert.Error(t, err)
}
