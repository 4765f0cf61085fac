package program

import (
	"fmt"

	"github.com/LiberalArtist/tangerine/pkg/gpu"
	"github.com/LiberalArtist/tangerine/pkg/kernel"
)

// VoxelUpload is the GPU layout of one voxel: vec4 center, vec4 half
// extent.
type VoxelUpload struct {
	Center [4]float32
	Extent [4]float32
}

// NewVoxelUpload converts a voxel box.
func NewVoxelUpload(b kernel.AABB) VoxelUpload {
	ext := b.Size().MulScalar(0.5)
	c := b.Min.Add(ext)
	return VoxelUpload{
		Center: [4]float32{float32(c.X), float32(c.Y), float32(c.Z), 1},
		Extent: [4]float32{float32(ext.X), float32(ext.Y), float32(ext.Z), 0},
	}
}

// Variant is one instantiation of a template: a parameter vector and the
// voxels drawn with it.
type Variant struct {
	Template int
	Subtree  int
	Params   []float32
	Voxels   []kernel.AABB

	ParamsBuffer gpu.BufferID
	VoxelsBuffer gpu.BufferID
	device       gpu.Device
}

// Uploads returns the GPU layout of every voxel.
func (v *Variant) Uploads() []VoxelUpload {
	out := make([]VoxelUpload, len(v.Voxels))
	for i, b := range v.Voxels {
		out[i] = NewVoxelUpload(b)
	}
	return out
}

func voxelBytes(us []VoxelUpload) []byte {
	fs := make([]float32, 0, len(us)*8)
	for _, u := range us {
		fs = append(fs, u.Center[:]...)
		fs = append(fs, u.Extent[:]...)
	}
	return gpu.Float32Bytes(fs)
}

// Upload creates the device mirrors of params and voxels. Uploading twice
// is a no-op.
func (v *Variant) Upload(d gpu.Device) error {
	if v.device != nil {
		return nil
	}
	params, err := d.CreateBuffer(fmt.Sprintf("template %d params", v.Template), gpu.StorageUsage, gpu.Float32Bytes(v.Params))
	if err != nil {
		return fmt.Errorf("program: upload params: %w", err)
	}
	voxels, err := d.CreateBuffer(fmt.Sprintf("template %d voxels", v.Template), gpu.StorageUsage, voxelBytes(v.Uploads()))
	if err != nil {
		d.ReleaseBuffer(params)
		return fmt.Errorf("program: upload voxels: %w", err)
	}
	v.ParamsBuffer, v.VoxelsBuffer, v.device = params, voxels, d
	return nil
}

// Uploaded reports whether the variant has device mirrors.
func (v *Variant) Uploaded() bool {
	return v.device != nil
}

// Release frees the device mirrors, if any.
func (v *Variant) Release() {
	if v.device == nil {
		return
	}
	v.device.ReleaseBuffer(v.ParamsBuffer)
	v.device.ReleaseBuffer(v.VoxelsBuffer)
	v.ParamsBuffer, v.VoxelsBuffer, v.device = gpu.InvalidID, gpu.InvalidID, nil
}
