package render

import (
	"math"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
)

// samplerType classifies how a sampling operation will be realized.
type samplerType uint8

const (
	samplerDirect  samplerType = iota // texture's own filtering
	samplerNearest                    // forced nearest
	samplerBicubic                    // fast hardware-assisted bicubic
	samplerComplex                    // full custom filter
)

// samplerDir is the scaling direction, ordered so that downscaling
// wins when the axes disagree.
type samplerDir uint8

const (
	samplerNoop samplerDir = iota
	samplerUp
	samplerDown
)

type samplerInfo struct {
	config *shader.FilterConfig
	typ    samplerType
	dir    samplerDir
	dirSep [2]samplerDir
}

// sampleSrcInfo decides the scaling direction and sampler type for a
// sampling operation, preferring free built-in replacements where the
// configuration and format allow.
func (rr *Renderer) sampleSrcInfo(src *shader.SampleSrc, params *Params) samplerInfo {
	var info samplerInfo

	rx := float64(src.NewW) / math.Abs(float64(src.Rect.W()))
	if rx < 1-1e-6 {
		info.dirSep[0] = samplerDown
	} else if rx > 1+1e-6 {
		info.dirSep[0] = samplerUp
	}

	ry := float64(src.NewH) / math.Abs(float64(src.Rect.H()))
	if ry < 1-1e-6 {
		info.dirSep[1] = samplerDown
	} else if ry > 1+1e-6 {
		info.dirSep[1] = samplerUp
	}

	// Downscaling overrides upscaling when choosing the scaler
	info.dir = max(info.dirSep[0], info.dirSep[1])
	switch info.dir {
	case samplerDown:
		info.config = params.Downscaler
	case samplerUp:
		info.config = params.Upscaler
	case samplerNoop:
		info.typ = samplerNearest
		return info
	}

	comps := src.Components
	if comps == 0 {
		comps = 4
	}
	if rr.fboFormat(comps, params) == nil || rr.disableSampling || info.config == nil {
		info.typ = samplerDirect
		return info
	}

	info.typ = samplerComplex

	// Replace the complex samplers with faster built-ins where the
	// result is equivalent
	texFmt := rr.fboFmt[comps]
	if src.Tex != nil {
		texFmt = src.Tex.Params().Format
	}
	canLinear := texFmt != nil && texFmt.Caps&gpu.FormatCapLinear != 0
	canFast := info.dir == samplerUp || params.SkipAntiAliasing

	if canFast && !params.DisableBuiltinScalers {
		if canLinear && info.config == shader.FilterBicubic {
			info.typ = samplerBicubic
		}
		if canLinear && info.config == shader.FilterBilinear {
			info.typ = samplerDirect
		}
		if info.config == shader.FilterNearest {
			if canLinear {
				info.typ = samplerNearest
			} else {
				info.typ = samplerDirect
			}
		}
	}

	return info
}

// dispatchSampler emits the sampling operation into sh: a built-in
// fast path where possible, a single polar pass, or an orthogonal
// two-pass separable convolution with an intermediate texture.
func (ps *passState) dispatchSampler(sh *shader.Shader, smp *sampler,
	noCompute bool, params *Params, src *shader.SampleSrc) {

	rr := ps.rr
	if smp == nil {
		sh.SampleDirect(src)
		return
	}

	info := rr.sampleSrcInfo(src, params)
	var lut **shader.Obj
	switch info.dir {
	case samplerNoop:
		sh.SampleDirect(src)
		return
	case samplerDown:
		lut = &smp.downscaler
	case samplerUp:
		lut = &smp.upscaler
	}

	switch info.typ {
	case samplerDirect:
		sh.SampleDirect(src)
		return
	case samplerNearest:
		sh.SampleNearestTex(src)
		return
	case samplerBicubic:
		sh.SampleBicubic(src)
		return
	case samplerComplex:
		// continue below
	}

	fparams := shader.SampleFilterParams{
		Filter:     *info.config,
		LUTEntries: params.LUTEntries,
		Cutoff:     params.PolarCutoff,
		Antiring:   params.AntiringingStrength,
		NoCompute:  rr.disableCompute || noCompute,
		NoWidening: params.SkipAntiAliasing,
		LUT:        lut,
	}

	ok := false
	if info.config.Polar {
		// Polar samplers are always a single pass
		ok = sh.SamplePolar(src, &fparams)
	} else if info.dirSep[0] != samplerNoop && info.dirSep[1] != samplerNoop {
		// Scaling on both axes: vertical pass into an intermediate
		// texture, then horizontal
		tsh := rr.dp.BeginUnique()
		if tsh.SampleOrtho(shader.SepVert, src, &fparams) {
			im := img{
				sh:    tsh,
				w:     src.Tex.Params().W,
				h:     src.NewH,
				comps: src.Components,
			}
			src2 := *src
			src2.Tex = ps.imgTex(&im)
			src2.Scale = 1
			ok = src2.Tex != nil && sh.SampleOrtho(shader.SepHoriz, &src2, &fparams)
		} else {
			rr.dp.Abort(tsh)
		}
	} else if info.dirSep[0] != samplerNoop {
		ok = sh.SampleOrtho(shader.SepHoriz, src, &fparams)
	} else {
		ok = sh.SampleOrtho(shader.SepVert, src, &fparams)
	}

	if !ok {
		rr.log.Error("failed dispatching scaler, disabling")
		rr.disableSampling = true
		sh.SampleDirect(src)
	}
}

// debandSrc outcomes
const (
	debandNoop   = iota // no debanding performed
	debandNormal        // debanded; the plane still needs scaling
	debandScaled        // debanding took care of the scaling too
)

// debandSrc optionally debands the source before plane sampling. The
// debanding shader can replace direct sampling outright; for scaled
// planes it renders an integer-rounded cut-out into an intermediate
// texture and adjusts src to point at it.
func (ps *passState) debandSrc(psh *shader.Shader, params *Params, psrc *shader.SampleSrc) int {
	rr := ps.rr
	if rr.disableDebanding || params.Deband == nil {
		return debandNoop
	}

	if psrc.Tex.Params().Format.Caps&gpu.FormatCapLinear == 0 {
		rr.log.Warn("debanding requires a linearly sampleable source format, " +
			"disabling debanding")
		rr.disableDebanding = true
		return debandNoop
	}

	debandScales := rr.sampleSrcInfo(psrc, params).typ == samplerDirect

	sh := psh
	src := psrc
	var fixed shader.SampleSrc
	if !debandScales {
		// Deband only the relevant cut-out, rounded to integers to
		// avoid fractional scaling
		fixed = *src
		fixed.Rect.X0 = floorf(fixed.Rect.X0)
		fixed.Rect.Y0 = floorf(fixed.Rect.Y0)
		fixed.Rect.X1 = ceilf(fixed.Rect.X1)
		fixed.Rect.Y1 = ceilf(fixed.Rect.Y1)
		fixed.NewW = int(fixed.Rect.W())
		fixed.NewH = int(fixed.Rect.H())
		src = &fixed

		if fixed.NewW == psrc.NewW && fixed.NewH == psrc.NewH && fixed.Rect == psrc.Rect {
			// Exact integer crop without scaling: skip the scalers too
			debandScales = true
		} else {
			sh = rr.dp.BeginUnique()
		}
	}

	// Normalize the grain intensity against the source brightness, as
	// this happens well before any output adaptation
	dparams := *params.Deband
	scale := ps.image.Color.Transfer.NominalPeak() * ps.image.Color.SigScale
	if scale > 0 {
		dparams.Grain /= scale
	}

	sh.Deband(src, &dparams)

	if debandScales {
		return debandScaled
	}

	im := img{
		sh:    sh,
		w:     src.NewW,
		h:     src.NewH,
		comps: src.Components,
	}
	tex := ps.imgTex(&im)
	if tex == nil {
		rr.log.Error("failed dispatching debanding shader, disabling debanding")
		rr.disableDebanding = true
		return debandNoop
	}

	psrc.Tex = tex
	psrc.Rect.X0 -= src.Rect.X0
	psrc.Rect.Y0 -= src.Rect.Y0
	psrc.Rect.X1 -= src.Rect.X0
	psrc.Rect.Y1 -= src.Rect.Y0
	psrc.Scale = 1
	return debandNormal
}

func floorf(x float32) float32 { return float32(math.Floor(float64(x))) }
func ceilf(x float32) float32  { return float32(math.Ceil(float64(x))) }
func roundf(x float32) float32 { return float32(math.Round(float64(x))) }
