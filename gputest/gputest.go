// Package gputest provides an in-memory implementation of gpu.GPU for
// testing rendering pipelines without a real graphics device. It
// records compiled passes and executed runs, and supports fault
// injection and capability reconfiguration.
package gputest

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gv/gpu"
)

// Options configures the fake backend.
type Options struct {
	Caps   gpu.Caps
	Limits gpu.Limits
	GLSL   gpu.GLSLInfo
}

// DefaultOptions describes a capable Vulkan-style device.
func DefaultOptions() *Options {
	return &Options{
		Caps: gpu.CapCompute | gpu.CapParallelCompute | gpu.CapInputVariables,
		Limits: gpu.Limits{
			MaxTexDim1D:      16384,
			MaxTexDim2D:      16384,
			MaxTexDim3D:      2048,
			MaxPushConstSize: 128,
			MaxUBOSize:       65536,
			MaxSSBOSize:      1 << 27,
			MaxBufSize:       1 << 27,
		},
		GLSL: gpu.GLSLInfo{Version: 450, Vulkan: true},
	}
}

// GPU is the fake backend. Counters are exported for assertions.
type GPU struct {
	opts    Options
	formats []*gpu.Format

	// PassesCreated counts successful CreatePass calls; ProgramsCompiled counts
	// the subset that had no usable cached program attached.
	PassesCreated    atomic.Int64
	ProgramsCompiled atomic.Int64

	// TexturesCreated counts successful CreateTexture calls.
	TexturesCreated atomic.Int64

	// PassRuns counts executed pass runs across all passes.
	PassRuns atomic.Int64

	// FailTextures makes the next n CreateTexture calls fail.
	FailTextures int

	// FailPasses makes the next n CreatePass calls fail (simulating
	// shader compilation failure).
	FailPasses int

	failed bool
}

// New creates a fake GPU. A nil opts uses DefaultOptions.
func New(opts *Options) *GPU {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &GPU{
		opts:    *opts,
		formats: defaultFormats(),
	}
}

const (
	capsAll = gpu.FormatCapSampleable | gpu.FormatCapRenderable |
		gpu.FormatCapStorable | gpu.FormatCapBlittable | gpu.FormatCapLinear |
		gpu.FormatCapBlendable | gpu.FormatCapHostReadable
	capsNoStore = capsAll &^ gpu.FormatCapStorable
)

func defaultFormats() []*gpu.Format {
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
		mk("rgba16f", gpu.FormatTypeFloat, 4, 16, capsAll, "vec4", "rgba16f", gputypes.TextureFormatRGBA16Float),
		mk("rg16f", gpu.FormatTypeFloat, 2, 16, capsAll, "vec2", "rg16f", gputypes.TextureFormatRG16Float),
		mk("r16f", gpu.FormatTypeFloat, 1, 16, capsAll, "float", "r16f", gputypes.TextureFormatR16Float),
		mk("rgba32f", gpu.FormatTypeFloat, 4, 32, capsAll, "vec4", "rgba32f", gputypes.TextureFormatRGBA32Float),
		mk("rgba8", gpu.FormatTypeUNORM, 4, 8, capsAll, "vec4", "rgba8", gputypes.TextureFormatRGBA8Unorm),
		mk("rg8", gpu.FormatTypeUNORM, 2, 8, capsAll, "vec2", "rg8", gputypes.TextureFormatRG8Unorm),
		mk("r8", gpu.FormatTypeUNORM, 1, 8, capsAll, "float", "r8", gputypes.TextureFormatR8Unorm),
		mk("rgba16", gpu.FormatTypeUNORM, 4, 16, capsAll, "vec4", "rgba16", gputypes.TextureFormatUndefined),
		mk("rg16", gpu.FormatTypeUNORM, 2, 16, capsAll, "vec2", "rg16", gputypes.TextureFormatUndefined),
		mk("r16", gpu.FormatTypeUNORM, 1, 16, capsAll, "float", "r16", gputypes.TextureFormatUndefined),
		mk("rgb10a2", gpu.FormatTypeUNORM, 4, 10, capsNoStore, "vec4", "rgb10_a2", gputypes.TextureFormatRGB10A2Unorm),
	}
}

// RemoveFormats drops all formats matching the predicate, for
// capability-shortfall tests.
func (g *GPU) RemoveFormats(pred func(*gpu.Format) bool) {
	kept := g.formats[:0]
	for _, f := range g.formats {
		if !pred(f) {
			kept = append(kept, f)
		}
	}
	g.formats = kept
}

func (g *GPU) Caps() gpu.Caps          { return g.opts.Caps }
func (g *GPU) Limits() gpu.Limits      { return g.opts.Limits }
func (g *GPU) GLSL() gpu.GLSLInfo     { return g.opts.GLSL }
func (g *GPU) Formats() []*gpu.Format { return g.formats }

// SetCaps reconfigures the capability flags.
func (g *GPU) SetCaps(caps gpu.Caps) { g.opts.Caps = caps }

// SetGLSL reconfigures the dialect.
func (g *GPU) SetGLSL(glsl gpu.GLSLInfo) { g.opts.GLSL = glsl }

// SetLimits reconfigures the limits.
func (g *GPU) SetLimits(l gpu.Limits) { g.opts.Limits = l }

func (g *GPU) CreateTexture(params *gpu.TextureParams) (gpu.Texture, error) {
	if g.FailTextures > 0 {
		g.FailTextures--
		return nil, fmt.Errorf("gputest: injected texture creation failure")
	}
	if params.Format == nil {
		return nil, fmt.Errorf("gputest: texture needs a format")
	}

	w, h, d := params.W, max(params.H, 1), max(params.D, 1)
	t := &Texture{
		gpu:    g,
		params: *params,
		Data:   make([]byte, w*h*d*params.Format.TexelSize),
	}
	if params.InitialData != nil {
		copy(t.Data, params.InitialData)
	}
	g.TexturesCreated.Add(1)
	return t, nil
}

func (g *GPU) CreateBuffer(params *gpu.BufferParams) (gpu.Buffer, error) {
	if params.Size <= 0 {
		return nil, fmt.Errorf("gputest: buffer needs a size")
	}
	b := &Buffer{
		params: *params,
		Data:   make([]byte, params.Size),
	}
	if params.InitialData != nil {
		copy(b.Data, params.InitialData)
	}
	return b, nil
}

func (g *GPU) CreatePass(params *gpu.PassParams) (gpu.Pass, error) {
	if g.FailPasses > 0 {
		g.FailPasses--
		return nil, fmt.Errorf("gputest: injected pass compilation failure")
	}
	g.PassesCreated.Add(1)

	p := &Pass{gpu: g, params: *params}
	if len(params.CachedProgram) > 0 {
		p.program = params.CachedProgram
	} else {
		g.ProgramsCompiled.Add(1)
		// A stand-in program binary derived from the sources
		p.program = []byte(fmt.Sprintf("prog:%d:%d",
			len(params.GLSLShader), len(params.VertexShader)))
	}
	return p, nil
}

func (g *GPU) CreateTimer() gpu.Timer { return &Timer{} }

func (g *GPU) Flush()  {}
func (g *GPU) Finish() {}

// MarkFailed puts the backend into the unrecoverable-failure state.
func (g *GPU) MarkFailed() { g.failed = true }

func (g *GPU) IsFailed() bool { return g.failed }

// Texture is an in-memory texture.
type Texture struct {
	gpu       *GPU
	params    gpu.TextureParams
	Data      []byte
	destroyed bool
}

func (t *Texture) Params() *gpu.TextureParams { return &t.params }

func (t *Texture) Upload(tr *gpu.TextureTransfer) error {
	copy(t.Data, tr.Data)
	return nil
}

func (t *Texture) Download(tr *gpu.TextureTransfer) error {
	if !t.params.HostReadable {
		return fmt.Errorf("gputest: texture is not host readable")
	}
	copy(tr.Data, t.Data)
	return nil
}

func (t *Texture) Clear(color [4]float32) error { return nil }

func (t *Texture) Blit(src gpu.Texture, dstRect, srcRect gpu.Rect2D) error {
	if t.params.Format.Caps&gpu.FormatCapBlittable == 0 {
		return fmt.Errorf("gputest: format is not blittable")
	}
	return nil
}

func (t *Texture) Invalidate() {}

func (t *Texture) Destroy() { t.destroyed = true }

// Destroyed reports whether Destroy was called.
func (t *Texture) Destroyed() bool { return t.destroyed }

// Buffer is an in-memory buffer.
type Buffer struct {
	params    gpu.BufferParams
	Data      []byte
	destroyed bool
}

func (b *Buffer) Params() *gpu.BufferParams { return &b.params }

func (b *Buffer) Write(offset int, data []byte) error {
	if offset+len(data) > len(b.Data) {
		return fmt.Errorf("gputest: buffer write out of bounds")
	}
	copy(b.Data[offset:], data)
	return nil
}

func (b *Buffer) Read(offset int, data []byte) error {
	if offset+len(data) > len(b.Data) {
		return fmt.Errorf("gputest: buffer read out of bounds")
	}
	copy(data, b.Data[offset:])
	return nil
}

func (b *Buffer) CopyFrom(src gpu.Buffer, dstOffset, srcOffset, size int) error {
	sb := src.(*Buffer)
	copy(b.Data[dstOffset:dstOffset+size], sb.Data[srcOffset:srcOffset+size])
	return nil
}

func (b *Buffer) Destroy() { b.destroyed = true }

// Pass is a fake compiled pass recording its runs.
type Pass struct {
	gpu     *GPU
	params  gpu.PassParams
	program []byte

	// Runs records the parameters of every Run call.
	Runs []gpu.PassRunParams
}

func (p *Pass) Params() *gpu.PassParams { return &p.params }

func (p *Pass) Run(params *gpu.PassRunParams) error {
	p.gpu.PassRuns.Add(1)
	p.Runs = append(p.Runs, *params)
	return nil
}

func (p *Pass) CachedProgram() []byte { return p.program }

func (p *Pass) Destroy() {}

// Timer is a fake timer that always reports one millisecond.
type Timer struct{}

func (t *Timer) Query() (uint64, bool) { return 1e6, true }
func (t *Timer) Destroy()              {}
