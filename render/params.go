package render

import (
	"reflect"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/internal/hashutil"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

// Params bundles every tunable of the rendering pipeline. The zero
// value renders with built-in sampling only; DefaultParams enables the
// usual set of quality features.
type Params struct {
	// Upscaler/Downscaler select the main scaler per direction. Nil
	// falls back to built-in GPU sampling.
	Upscaler   *shader.FilterConfig
	Downscaler *shader.FilterConfig

	// FrameMixer enables frame mixing; OversampleMixer weights frames
	// by vsync coverage instead of a kernel. Nil disables mixing.
	FrameMixer *shader.FilterConfig

	// LUTEntries is the scaler weight LUT resolution; 0 means 64.
	LUTEntries int

	// PolarCutoff skips negligible polar kernel taps.
	PolarCutoff float32

	// AntiringingStrength dampens ringing of the main scaler.
	AntiringingStrength float32

	Deband          *shader.DebandParams
	Sigmoid         *shader.SigmoidParams
	ColorAdjustment *shader.ColorAdjustment
	PeakDetect      *shader.PeakDetectParams
	ColorMap        *shader.ColorMapParams
	Dither          *shader.DitherParams
	Cone            *shader.ConeParams
	ICC             *shader.ICCParams

	// Blend is applied when writing the final output.
	Blend *gpu.BlendParams

	// LUT is a parameter-level lookup table, applied according to
	// LUTKind between input and output conversion.
	LUT     *video.LUT
	LUTKind video.LUTKind

	// Hooks are the user shader hooks, invoked at their declared
	// stages.
	Hooks []*Hook

	// SkipAntiAliasing disables kernel widening when downscaling.
	SkipAntiAliasing bool

	// DisableBuiltinScalers forces the complex samplers even for
	// bilinear/bicubic configurations.
	DisableBuiltinScalers bool

	// DisableOverlaySampling samples overlays with built-in filtering
	// only.
	DisableOverlaySampling bool

	// DisableFBOs forbids intermediate textures; only direct sampling
	// remains possible.
	DisableFBOs bool

	// ForceDither dithers even for sample depths above 16 bits.
	ForceDither bool

	// DisableLinearScaling skips linearization during scaling.
	DisableLinearScaling bool

	// AllowDelayedPeakDetect lets peak detection lag one frame when an
	// intermediate pass would otherwise be needed just for it.
	AllowDelayedPeakDetect bool

	// ForceICC performs ICC-style conversion even when both profiles
	// are absent.
	ForceICC bool

	// PreserveMixingCache reuses cached mixing frames even when the
	// parameters changed; the caller accepts possibly stale output.
	PreserveMixingCache bool
}

// OversampleMixer is the kernel-less frame mixer: each frame is
// weighted by its visible fraction of the vsync interval.
var OversampleMixer = &shader.FilterConfig{Name: "oversample"}

// DefaultParams is a balanced quality/performance configuration.
var DefaultParams = Params{
	Upscaler:               shader.FilterSpline36,
	Downscaler:             shader.FilterMitchell,
	FrameMixer:             OversampleMixer,
	LUTEntries:             64,
	PolarCutoff:            0.001,
	Sigmoid:                &shader.DefaultSigmoidParams,
	PeakDetect:             &shader.DefaultPeakDetectParams,
	ColorMap:               &shader.DefaultColorMapParams,
	Dither:                 &shader.DefaultDitherParams,
	AllowDelayedPeakDetect: true,
}

// HighQualityParams additionally enables debanding and a polar
// upscaler.
var HighQualityParams = Params{
	Upscaler:               shader.FilterEWALanczos,
	Downscaler:             shader.FilterMitchell,
	FrameMixer:             OversampleMixer,
	LUTEntries:             64,
	PolarCutoff:            0.001,
	Deband:                 &shader.DefaultDebandParams,
	Sigmoid:                &shader.DefaultSigmoidParams,
	PeakDetect:             &shader.DefaultPeakDetectParams,
	ColorMap:               &shader.DefaultColorMapParams,
	Dither:                 &shader.DefaultDitherParams,
	AllowDelayedPeakDetect: true,
}

// MixerPreset names a frame mixer for configuration UIs.
type MixerPreset struct {
	Name        string
	Config      *shader.FilterConfig
	Description string
}

// MixerPresets lists the built-in frame mixers.
var MixerPresets = []MixerPreset{
	{"none", nil, "No frame mixing"},
	{"oversample", OversampleMixer, "Oversample (AKA SmoothMotion)"},
	{"mitchell_clamp", shader.FilterMitchellClamp, "Cubic spline (clamped)"},
}

// hash computes the 64-bit parameter hash deciding frame-cache
// compatibility: pointer-typed sub-structs hash by value, filters by
// their kernel/window contents, hooks by identity, LUTs by signature.
func (p *Params) hash() uint64 {
	var hash uint64

	hashFilter := func(f *shader.FilterConfig) {
		if f == nil {
			return
		}
		h := hashutil.New()
		h.WriteString(f.Name)
		h.WriteBool(f.Polar)
		h.WriteFloat64(f.Clamp)
		if f.Kernel != nil {
			h.WriteString(f.Kernel.Name)
			h.WriteFloat64(f.Kernel.Radius)
		}
		if f.Window != nil {
			h.WriteString(f.Window.Name)
			h.WriteFloat64(f.Window.Radius)
		}
		hashutil.Merge(&hash, h.Sum())
	}
	hashValue := func(ptr any) {
		v := reflect.ValueOf(ptr)
		if v.IsNil() {
			return
		}
		h := hashutil.New()
		hashReflect(&h, v.Elem())
		hashutil.Merge(&hash, h.Sum())
	}

	hashFilter(p.Upscaler)
	hashFilter(p.Downscaler)
	hashFilter(p.FrameMixer)

	hashValue(p.Deband)
	hashValue(p.Sigmoid)
	hashValue(p.ColorAdjustment)
	hashValue(p.PeakDetect)
	hashValue(p.ColorMap)
	hashValue(p.Dither)
	hashValue(p.Cone)
	hashValue(p.ICC)
	hashValue(p.Blend)

	// Hooks hash by identity
	for _, hook := range p.Hooks {
		hashutil.Merge(&hash, uint64(reflect.ValueOf(hook).Pointer()))
	}

	// LUTs hash by declared signature only
	if p.LUT != nil {
		hashutil.Merge(&hash, p.LUT.Signature)
	}

	h := hashutil.New()
	h.WriteInt(p.LUTEntries)
	h.WriteFloat32(p.PolarCutoff)
	h.WriteFloat32(p.AntiringingStrength)
	h.WriteInt(int(p.LUTKind))
	h.WriteBool(p.SkipAntiAliasing)
	h.WriteBool(p.DisableBuiltinScalers)
	h.WriteBool(p.DisableOverlaySampling)
	h.WriteBool(p.DisableFBOs)
	h.WriteBool(p.ForceDither)
	h.WriteBool(p.DisableLinearScaling)
	h.WriteBool(p.AllowDelayedPeakDetect)
	h.WriteBool(p.ForceICC)
	hashutil.Merge(&hash, h.Sum())
	return hash
}

// hashReflect folds an arbitrary flat struct (numbers and bools only)
// into h. The parameter sub-structs all satisfy this shape.
func hashReflect(h *hashutil.Hash, v reflect.Value) {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			hashReflect(h, v.Field(i))
		}
	case reflect.Bool:
		h.WriteBool(v.Bool())
	case reflect.Float32, reflect.Float64:
		h.WriteFloat64(v.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		h.WriteUint64(uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		h.WriteUint64(v.Uint())
	}
}
