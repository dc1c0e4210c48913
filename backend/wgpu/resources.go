package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gv/gpu"
)

// formatTable enumerates the WebGPU formats the adapter exposes, best
// first. Storage support follows the WebGPU core capability matrix.
func formatTable() []*gpu.Format {
	const render = gpu.FormatCapSampleable | gpu.FormatCapRenderable |
		gpu.FormatCapBlittable | gpu.FormatCapLinear | gpu.FormatCapBlendable |
		gpu.FormatCapHostReadable

	mk := func(name string, typ gpu.FormatType, comps, depth int,
		caps gpu.FormatCaps, glslType, glslFmt string, wg gputypes.TextureFormat) *gpu.Format {

		f := &gpu.Format{
			Name:          name,
			Type:          typ,
			NumComponents: comps,
			TexelSize:     comps * (depth / 8),
			Caps:          caps,
			GLSLType:      glslType,
			GLSLFormat:    glslFmt,
			WebGPU:        wg,
		}
		for c := 0; c < comps; c++ {
			f.ComponentDepth[c] = depth
		}
		return f
	}

	return []*gpu.Format{
		mk("rgba16f", gpu.FormatTypeFloat, 4, 16, render|gpu.FormatCapStorable,
			"vec4", "rgba16f", gputypes.TextureFormatRGBA16Float),
		mk("rgba32f", gpu.FormatTypeFloat, 4, 32, render|gpu.FormatCapStorable,
			"vec4", "rgba32f", gputypes.TextureFormatRGBA32Float),
		mk("rg16f", gpu.FormatTypeFloat, 2, 16, render, "vec2", "rg16f",
			gputypes.TextureFormatRG16Float),
		mk("r16f", gpu.FormatTypeFloat, 1, 16, render, "float", "r16f",
			gputypes.TextureFormatR16Float),
		mk("rgba8", gpu.FormatTypeUNORM, 4, 8, render|gpu.FormatCapStorable,
			"vec4", "rgba8", gputypes.TextureFormatRGBA8Unorm),
		mk("bgra8", gpu.FormatTypeUNORM, 4, 8, render, "vec4", "",
			gputypes.TextureFormatBGRA8Unorm),
		mk("rg8", gpu.FormatTypeUNORM, 2, 8, render, "vec2", "rg8",
			gputypes.TextureFormatRG8Unorm),
		mk("r8", gpu.FormatTypeUNORM, 1, 8, render, "float", "r8",
			gputypes.TextureFormatR8Unorm),
		mk("rgb10a2", gpu.FormatTypeUNORM, 4, 10, render, "vec4", "rgb10_a2",
			gputypes.TextureFormatRGB10A2Unorm),
	}
}

// texture wraps a hal.Texture.
type texture struct {
	backend *Backend
	params  gpu.TextureParams
	raw     hal.Texture
}

func newTexture(b *Backend, params *gpu.TextureParams) (gpu.Texture, error) {
	var usage gputypes.TextureUsage
	if params.Sampleable {
		usage |= gputypes.TextureUsageTextureBinding
	}
	if params.Renderable {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	if params.Storable {
		usage |= gputypes.TextureUsageStorageBinding
	}
	if params.Blittable || params.InitialData != nil {
		usage |= gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc
	}
	if params.HostReadable {
		usage |= gputypes.TextureUsageCopySrc
	}

	dim := gputypes.TextureDimension2D
	switch params.Dimensions() {
	case 1:
		dim = gputypes.TextureDimension1D
	case 3:
		dim = gputypes.TextureDimension3D
	}

	raw, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Size: hal.Extent3D{
			Width:              uint32(params.W),
			Height:             uint32(max(params.H, 1)),
			DepthOrArrayLayers: uint32(max(params.D, 1)),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        gputypes.TextureFormat(params.Format.WebGPU),
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: creating texture: %w", err)
	}

	t := &texture{backend: b, params: *params, raw: raw}
	if params.InitialData != nil {
		if err := t.Upload(&gpu.TextureTransfer{Data: params.InitialData}); err != nil {
			t.Destroy()
			return nil, err
		}
	}
	return t, nil
}

func (t *texture) Params() *gpu.TextureParams { return &t.params }

func (t *texture) Upload(tr *gpu.TextureTransfer) error {
	pitch := tr.RowPitch
	if pitch == 0 {
		pitch = t.params.W * t.params.Format.TexelSize
	}
	dst := &hal.ImageCopyTexture{
		Texture: t.raw,
		Aspect:  gputypes.TextureAspectAll,
	}
	layout := &hal.ImageDataLayout{
		BytesPerRow:  uint32(pitch),
		RowsPerImage: uint32(max(t.params.H, 1)),
	}
	size := &hal.Extent3D{
		Width:              uint32(t.params.W),
		Height:             uint32(max(t.params.H, 1)),
		DepthOrArrayLayers: uint32(max(t.params.D, 1)),
	}
	t.backend.queue.WriteTexture(dst, tr.Data, layout, size)
	return nil
}

func (t *texture) Download(tr *gpu.TextureTransfer) error {
	return ErrNotImplemented
}

func (t *texture) Clear(color [4]float32) error {
	return ErrNotImplemented
}

func (t *texture) Blit(src gpu.Texture, dstRect, srcRect gpu.Rect2D) error {
	return ErrNotImplemented
}

func (t *texture) Invalidate() {}

func (t *texture) Destroy() {
	t.backend.device.DestroyTexture(t.raw)
}

// buffer wraps a hal.Buffer.
type buffer struct {
	backend *Backend
	params  gpu.BufferParams
	raw     hal.Buffer
}

func newBuffer(b *Backend, params *gpu.BufferParams) (gpu.Buffer, error) {
	var usage gputypes.BufferUsage
	if params.Uniform {
		usage |= gputypes.BufferUsageUniform
	}
	if params.Storage {
		usage |= gputypes.BufferUsageStorage
	}
	if params.Vertex {
		usage |= gputypes.BufferUsageVertex
	}
	if params.Index {
		usage |= gputypes.BufferUsageIndex
	}
	if params.HostWritable || params.InitialData != nil {
		usage |= gputypes.BufferUsageCopyDst
	}
	if params.HostReadable {
		usage |= gputypes.BufferUsageCopySrc
	}

	raw, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Size:  uint64(params.Size),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: creating buffer: %w", err)
	}

	buf := &buffer{backend: b, params: *params, raw: raw}
	if params.InitialData != nil {
		if err := buf.Write(0, params.InitialData); err != nil {
			buf.Destroy()
			return nil, err
		}
	}
	return buf, nil
}

func (b *buffer) Params() *gpu.BufferParams { return &b.params }

func (b *buffer) Write(offset int, data []byte) error {
	b.backend.queue.WriteBuffer(b.raw, uint64(offset), data)
	return nil
}

func (b *buffer) Read(offset int, data []byte) error {
	return ErrNotImplemented
}

func (b *buffer) CopyFrom(src gpu.Buffer, dstOffset, srcOffset, size int) error {
	return ErrNotImplemented
}

func (b *buffer) Destroy() {
	b.backend.device.DestroyBuffer(b.raw)
}
