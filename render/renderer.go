// Package render implements the render pipeline planner: it turns a
// source frame, a target frame and a parameter bundle into an ordered
// sequence of shader passes (plane read, merge, hooks, scaling, color
// mapping, dithering, per-plane writes), recycling intermediate
// textures from a pool and caching rendered frames for temporal
// mixing.
package render

import (
	"log/slog"

	"github.com/gogpu/gv/dispatch"
	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/internal/logx"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

// sampler holds the persistent scaler state for one sampling site.
type sampler struct {
	upscaler   *shader.Obj
	downscaler *shader.Obj
}

func (s *sampler) destroy() {
	shader.ObjDestroy(&s.upscaler)
	shader.ObjDestroy(&s.downscaler)
}

// cachedFrame is one entry of the frame-mixing cache.
type cachedFrame struct {
	signature  uint64
	paramsHash uint64
	color      video.ColorSpace
	profile    video.ICCProfile
	tex        gpu.Texture
	evict      bool
}

// index into lutState
const (
	lutImage = iota
	lutTarget
	lutParams
)

// Renderer plans and executes rendering of video frames. It owns a
// dispatch engine, a pool of intermediate textures and the frame cache
// used for mixing. Not safe for concurrent use.
type Renderer struct {
	log *slog.Logger
	gpu gpu.GPU
	dp  *dispatch.Dispatch

	// fboFmt[n] is the intermediate texture format for n components;
	// all nil when no usable FBO format exists.
	fboFmt [5]*gpu.Format

	// Feature latches: set on first failure, checked (and the feature
	// skipped) ever after.
	disableCompute    bool
	disableSampling   bool
	disableDebanding  bool
	disableLinearHDR  bool
	disableLinearSDR  bool
	disableBlending   bool
	disableOverlay    bool
	disableICC        bool
	disablePeakDetect bool
	disableGrain      bool
	disableHooks      bool
	disableMixing     bool

	// Persistent shader generator state
	peakDetectState *shader.Obj
	ditherState     *shader.Obj
	iccState        *shader.Obj
	grainState      [4]*shader.Obj
	lutState        [3]*shader.Obj

	// Intermediate texture pool
	fbos []gpu.Texture

	samplerMain sampler
	samplersSrc [4]sampler
	samplersDst [4]sampler
	samplersOSD []sampler

	// Frame cache for mixing, plus retired textures awaiting reuse
	frames    []cachedFrame
	frameFBOs []gpu.Texture
}

// New creates a renderer for the given backend. A nil logger disables
// logging.
func New(log *slog.Logger, g gpu.GPU) *Renderer {
	rr := &Renderer{
		log: logx.Or(log),
		gpu: g,
		dp:  dispatch.New(log, g),
	}
	rr.findFBOFormat()
	return rr
}

// Destroy releases all GPU objects owned by the renderer.
func (rr *Renderer) Destroy() {
	rr.gpu.Finish()

	for _, tex := range rr.fbos {
		if tex != nil {
			tex.Destroy()
		}
	}
	rr.fbos = nil
	for i := range rr.frames {
		if rr.frames[i].tex != nil {
			rr.frames[i].tex.Destroy()
		}
	}
	rr.frames = nil
	for _, tex := range rr.frameFBOs {
		if tex != nil {
			tex.Destroy()
		}
	}
	rr.frameFBOs = nil

	shader.ObjDestroy(&rr.peakDetectState)
	shader.ObjDestroy(&rr.ditherState)
	shader.ObjDestroy(&rr.iccState)
	for i := range rr.grainState {
		shader.ObjDestroy(&rr.grainState[i])
	}
	for i := range rr.lutState {
		shader.ObjDestroy(&rr.lutState[i])
	}

	rr.samplerMain.destroy()
	for i := range rr.samplersSrc {
		rr.samplersSrc[i].destroy()
	}
	for i := range rr.samplersDst {
		rr.samplersDst[i].destroy()
	}
	for i := range rr.samplersOSD {
		rr.samplersOSD[i].destroy()
	}

	rr.dp.Destroy()
}

// Save serializes the compiled program cache of the underlying
// dispatch engine.
func (rr *Renderer) Save() []byte { return rr.dp.Save() }

// Load restores a program cache saved by Save.
func (rr *Renderer) Load(cache []byte) error { return rr.dp.Load(cache) }

// FlushCache evicts all cached frames and resets the peak detection
// state, e.g. after a seek.
func (rr *Renderer) FlushCache() {
	for i := range rr.frames {
		if rr.frames[i].tex != nil {
			rr.frames[i].tex.Destroy()
		}
	}
	rr.frames = rr.frames[:0]

	shader.ObjDestroy(&rr.peakDetectState)
}

// findFBOFormat probes for the best intermediate texture format:
// renderable float 16 with linear sampling if possible, decreasingly
// capable fallbacks otherwise. The chosen format decides several
// feature latches up front.
func (rr *Renderer) findFBOFormat() {
	configs := []struct {
		typ   gpu.FormatType
		depth int
		caps  gpu.FormatCaps
	}{
		// Prefer floating point formats
		{gpu.FormatTypeFloat, 16, gpu.FormatCapLinear},
		{gpu.FormatTypeFloat, 16, gpu.FormatCapSampleable},

		// Otherwise unorm/snorm, preferring linearly sampleable
		{gpu.FormatTypeUNORM, 16, gpu.FormatCapLinear},
		{gpu.FormatTypeSNORM, 16, gpu.FormatCapLinear},
		{gpu.FormatTypeUNORM, 16, gpu.FormatCapSampleable},
		{gpu.FormatTypeSNORM, 16, gpu.FormatCapSampleable},

		// Final fallback: 8-bit unorm
		{gpu.FormatTypeUNORM, 8, gpu.FormatCapLinear},
		{gpu.FormatTypeUNORM, 8, gpu.FormatCapSampleable},
	}

	var fmt4 *gpu.Format
	for _, cfg := range configs {
		fmt4 = gpu.FindFormat(rr.gpu, cfg.typ, 4, cfg.depth, cfg.caps|gpu.FormatCapRenderable)
		if fmt4 == nil {
			continue
		}
		rr.fboFmt[4] = fmt4

		// Probe the per-channel-count variants, falling back to the
		// next bigger format
		for c := 3; c >= 1; c-- {
			rr.fboFmt[c] = gpu.FindFormat(rr.gpu, cfg.typ, c, cfg.depth, fmt4.Caps)
			if rr.fboFmt[c] == nil {
				rr.fboFmt[c] = rr.fboFmt[c+1]
			}
		}
		break
	}

	if fmt4 == nil {
		rr.log.Warn("found no renderable FBO format, most features disabled")
		return
	}

	if fmt4.Caps&gpu.FormatCapStorable == 0 {
		rr.log.Info("found no storable FBO format, compute shaders disabled")
		rr.disableCompute = true
	}
	if fmt4.Type != gpu.FormatTypeFloat {
		rr.log.Info("found no floating point FBO format, " +
			"linear light processing disabled for HDR material")
		rr.disableLinearHDR = true
	}
	if fmt4.Depth() < 16 {
		rr.log.Warn("FBO format precision low (<16 bit), " +
			"linear light processing disabled")
		rr.disableLinearSDR = true
	}
}

// fboFormat honors the DisableFBOs parameter.
func (rr *Renderer) fboFormat(comps int, params *Params) *gpu.Format {
	if params.DisableFBOs {
		return nil
	}
	return rr.fboFmt[comps]
}
