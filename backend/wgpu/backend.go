// Package wgpu adapts the gogpu WebGPU stack to the gv gpu.GPU
// interface. Texture and buffer traffic run over wgpu/hal; the device
// is either shared from a host application via gpucontext, or created
// from a fresh wgpu instance.
//
// Pass compilation is not implemented yet: the dispatch engine emits
// GLSL, and a GLSL front-end for naga is still pending upstream. Until
// then CreatePass returns ErrNotImplemented and renderers running on
// this backend degrade to their no-FBO paths. Compute pipelines built
// from WGSL (this package's own helpers, tests) compile fine through
// naga.
package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gv/gpu"
)

// ErrNotImplemented marks functionality pending wgpu support.
var ErrNotImplemented = errors.New("wgpu: not implemented")

// DeviceProvider supplies a shared HAL device from the host
// application, avoiding a second GPU instance. gogpu's application
// context implements this.
type DeviceProvider interface {
	HalDevice() any
	HalQueue() any
}

// Backend implements gpu.GPU over wgpu/hal.
type Backend struct {
	device hal.Device
	queue  hal.Queue

	formats []*gpu.Format
	failed  bool
}

// New creates a backend from a shared device provider. The provider is
// typically a gpucontext.DeviceProvider that also exposes HAL access.
func New(provider any) (*Backend, error) {
	dp, ok := provider.(DeviceProvider)
	if !ok {
		if _, isCtx := provider.(gpucontext.DeviceProvider); isCtx {
			return nil, fmt.Errorf("wgpu: provider lacks HAL access (HalDevice/HalQueue)")
		}
		return nil, fmt.Errorf("wgpu: unsupported device provider %T", provider)
	}

	device, ok := dp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider returned no hal.Device")
	}
	queue, ok := dp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider returned no hal.Queue")
	}

	return &Backend{
		device:  device,
		queue:   queue,
		formats: formatTable(),
	}, nil
}

func (b *Backend) Caps() gpu.Caps {
	// WebGPU guarantees compute; loose uniforms don't exist there.
	return gpu.CapCompute | gpu.CapParallelCompute
}

func (b *Backend) Limits() gpu.Limits {
	// WebGPU baseline limits; push constants are a native-only
	// extension and stay disabled here.
	return gpu.Limits{
		MaxTexDim1D: 8192,
		MaxTexDim2D: 8192,
		MaxTexDim3D: 2048,
		MaxUBOSize:  65536,
		MaxSSBOSize: 1 << 27,
		MaxBufSize:  1 << 28,
	}
}

func (b *Backend) GLSL() gpu.GLSLInfo {
	return gpu.GLSLInfo{Version: 450, Vulkan: true}
}

func (b *Backend) Formats() []*gpu.Format { return b.formats }

func (b *Backend) CreateTexture(params *gpu.TextureParams) (gpu.Texture, error) {
	if params.Format == nil || params.Format.WebGPU == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("wgpu: format has no WebGPU equivalent")
	}
	return newTexture(b, params)
}

func (b *Backend) CreateBuffer(params *gpu.BufferParams) (gpu.Buffer, error) {
	return newBuffer(b, params)
}

func (b *Backend) CreatePass(params *gpu.PassParams) (gpu.Pass, error) {
	// GLSL passes need a GLSL front-end in naga.
	// TODO: compile via naga once gogpu/naga gains GLSL input support.
	return nil, ErrNotImplemented
}

func (b *Backend) CreateTimer() gpu.Timer { return nil }

func (b *Backend) Flush() {}

func (b *Backend) Finish() {
	fence, err := b.device.CreateFence()
	if err != nil {
		b.failed = true
		return
	}
	defer b.device.DestroyFence(fence)
	if _, err := b.queue.Submit(nil); err != nil {
		b.failed = true
	}
}

func (b *Backend) IsFailed() bool { return b.failed }

// CompileWGSL compiles WGSL source to SPIR-V words, the form
// hal.ShaderSource accepts.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compiling shader: %w", err)
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// CreateShaderModule compiles WGSL and wraps it into a HAL shader
// module.
func (b *Backend) CreateShaderModule(label, wgsl string) (hal.ShaderModule, error) {
	words, err := CompileWGSL(wgsl)
	if err != nil {
		return nil, err
	}
	return b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: label,
		Source: hal.ShaderSource{
			SPIRV: words,
		},
	})
}
