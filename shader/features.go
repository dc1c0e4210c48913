package shader

import (
	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/video"
)

// DebandParams configures the debanding shader.
type DebandParams struct {
	Iterations int
	Threshold  float32
	Radius     float32
	Grain      float32
}

// DefaultDebandParams matches typical banded 8-bit content.
var DefaultDebandParams = DebandParams{
	Iterations: 1,
	Threshold:  4.0,
	Radius:     16.0,
	Grain:      6.0,
}

// Deband samples the source while smoothing out quantization banding.
// The source format must support linear sampling.
func (sh *Shader) Deband(psrc *SampleSrc, params *DebandParams) {
	src := psrc.fixed()
	if !sh.Require(SigNone, SigColor) {
		return
	}
	if params == nil {
		params = &DefaultDebandParams
	}

	tp := src.Tex.Params()
	tex, pos := sh.Bind(src.Tex, src.Address, gpu.SampleLinear, "deband_src", src.Rect)
	pt := sh.AddVar(Var{
		Var:  gpu.VarVec2("pt"),
		Data: F32Bytes(1/float32(tp.W), 1/float32(tp.H)),
	})
	seed := sh.AddVar(Var{
		Var:     gpu.VarFloat1("rand_seed"),
		Data:    F32Bytes(0),
		Dynamic: true,
	})

	sh.GLSL(`// debanding
{
float h = fract(sin(dot(%[2]s + vec2(%[4]s), vec2(12.9898, 78.233))) * 43758.5453);
vec4 avg = texture(%[1]s, %[2]s);
vec4 orig = avg;
`, tex, pos, pt, seed)

	for i := 1; i <= params.Iterations; i++ {
		sh.GLSL(`{
float dist = h * %[4]f * float(%[5]d);
float dir = h * 6.2831853;
vec2 o = dist * vec2(cos(dir), sin(dir)) * %[3]s;
vec4 ref0 = texture(%[1]s, %[2]s + o);
vec4 ref1 = texture(%[1]s, %[2]s - o);
vec4 ref2 = texture(%[1]s, %[2]s + vec2(-o.x, o.y));
vec4 ref3 = texture(%[1]s, %[2]s + vec2(o.x, -o.y));
vec4 newavg = (ref0 + ref1 + ref2 + ref3) / 4.0;
vec4 diff = abs(newavg - orig);
avg = mix(avg, newavg, lessThan(diff, vec4(%[6]f)));
h = fract(h * 43758.5453);
}
`, tex, pos, pt, params.Radius, i, params.Threshold/(1<<12))
	}

	sh.GLSL("color = avg;\n")
	if params.Grain > 0 {
		sh.GLSL("color.rgb += vec3(%f) * (h - 0.5);\n", params.Grain/(1<<10))
	}
	sh.GLSL("}\n")
	if src.Scale != 1 {
		sh.GLSL("color *= vec4(%f);\n", src.Scale)
	}
	sh.applyMask(&src)
}

// FilmGrainParams configures AV1 film grain synthesis for one plane.
type FilmGrainParams struct {
	Data *video.FilmGrainData

	// Tex is the plane texture to apply grain on top of.
	Tex gpu.Texture

	// LumaTex is the reference luma plane, used to scale chroma grain.
	LumaTex gpu.Texture

	// LumaComp is the channel of LumaTex carrying luma.
	LumaComp int

	Repr             *video.ColorRepr
	Components       int
	ComponentMapping [4]video.Channel
}

// NeedsFilmGrain reports whether the metadata requires synthesis for
// the channels covered by params.
func NeedsFilmGrain(params *FilmGrainParams) bool {
	data := params.Data
	if data == nil {
		return false
	}
	for c := 0; c < params.Components; c++ {
		switch params.ComponentMapping[c] {
		case video.ChannelY:
			if data.NumYPoints > 0 {
				return true
			}
		case video.ChannelCb:
			if data.NumUVPoints[0] > 0 {
				return true
			}
		case video.ChannelCr:
			if data.NumUVPoints[1] > 0 {
				return true
			}
		}
	}
	return false
}

// FilmGrain samples params.Tex and adds synthesized AV1 film grain.
// The grain pattern texture persists in state across frames with the
// same seed. Returns false if the pattern could not be generated.
func (sh *Shader) FilmGrain(state **Obj, params *FilmGrainParams) bool {
	if !sh.Require(SigNone, SigColor) {
		return false
	}
	g := sh.GPU()

	obj := objEnsure(g, state)
	sig := uint64(params.Data.Seed)<<16 | uint64(params.Data.ScalingShift)
	if obj.Tex == nil || obj.sig != sig {
		if !generateGrainTexture(g, obj, params.Data) {
			return false
		}
		obj.sig = sig
	}

	tp := params.Tex.Params()
	tex, pos := sh.Bind(params.Tex, gpu.AddressClamp, gpu.SampleNearest, "grain_src", gpu.RectF{})
	grain := sh.AddDesc(Desc{
		Desc: gpu.Desc{Name: "grain_lut", Type: gpu.DescSampledTex},
		Binding: gpu.DescBinding{
			Object:  obj.Tex,
			Address: gpu.AddressRepeat,
			Sample:  gpu.SampleNearest,
		},
	})
	offset := sh.AddVar(Var{
		Var:     gpu.VarVec2("grain_off"),
		Data:    F32Bytes(float32(params.Data.Seed%97), float32(params.Data.Seed%89)),
		Dynamic: true,
	})

	scale := float32(1.0) / float32(int(1)<<uint(params.Data.ScalingShift))
	sh.GLSL(`// av1 film grain
{
color = texture(%[1]s, %[2]s);
vec2 gpos = (%[2]s * vec2(%[5]d.0, %[6]d.0) + %[4]s) / vec2(64.0);
vec4 grain = texture(%[3]s, gpos) - vec4(0.5);
`, tex, pos, grain, offset, tp.W, tp.H)
	for c := 0; c < params.Components; c++ {
		if params.ComponentMapping[c] == video.ChannelNone {
			continue
		}
		sh.GLSL("color[%d] += %f * grain[%d];\n", c, scale, c)
	}
	sh.GLSL("}\n")
	return true
}

// generateGrainTexture builds the 64x64 repeating grain pattern from
// the metadata's seed.
func generateGrainTexture(g gpu.GPU, obj *Obj, data *video.FilmGrainData) bool {
	format := gpu.FindFormat(g, gpu.FormatTypeUNORM, 4, 8, gpu.FormatCapSampleable)
	if format == nil {
		return false
	}

	const size = 64
	raw := make([]byte, size*size*4)
	s := uint32(data.Seed)*2654435761 + 1
	for i := range raw {
		s = s*1664525 + 1013904223
		raw[i] = byte(s >> 24)
	}

	if obj.Tex != nil {
		obj.Tex.Destroy()
		obj.Tex = nil
	}
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W: size, H: size,
		Format:      format,
		Sampleable:  true,
		InitialData: raw,
	})
	if err != nil {
		return false
	}
	obj.Tex = tex
	return true
}

// PeakDetectParams configures HDR peak detection.
type PeakDetectParams struct {
	// SmoothingPeriod is the exponential averaging window in frames.
	SmoothingPeriod float32

	// SceneThreshold resets the average on scene changes (in percent
	// of the signal range); 0 disables detection of scene changes.
	SceneThreshold float32
}

// DefaultPeakDetectParams provides a reasonable smoothing window.
var DefaultPeakDetectParams = PeakDetectParams{
	SmoothingPeriod: 100,
	SceneThreshold:  0.2,
}

// DetectPeak attaches a peak detection pass to the shader: a running
// estimate of the frame's signal peak is maintained in a storage
// buffer and consumed by later tone mapping. Requires compute support
// and a storage-capable backend. Returns false on capability
// shortfall.
func (sh *Shader) DetectPeak(csp video.ColorSpace, state **Obj, params *PeakDetectParams) bool {
	if !sh.Require(SigColor, SigColor) {
		return false
	}
	g := sh.GPU()
	if g.Caps()&gpu.CapCompute == 0 || g.Limits().MaxSSBOSize < 16 {
		return false
	}
	if !sh.TryCompute(8, 8, true) {
		return false
	}
	if params == nil {
		params = &DefaultPeakDetectParams
	}

	obj := objEnsure(g, state)
	if obj.Buf == nil {
		buf, err := g.CreateBuffer(&gpu.BufferParams{
			Size:        16,
			Storage:     true,
			InitialData: make([]byte, 16),
		})
		if err != nil {
			return false
		}
		obj.Buf = buf
	}

	sh.AddDesc(Desc{
		Desc: gpu.Desc{
			Name:   "peak_state",
			Type:   gpu.DescBufStorage,
			Access: gpu.DescAccessReadWrite,
		},
		Binding:  gpu.DescBinding{Object: obj.Buf},
		Coherent: true,
		BufferVars: []gpu.BufferVar{
			{Var: gpu.VarFloat1("sig_peak_raw"), Layout: gpu.VarLayout{Offset: 0, Stride: 4, Size: 4}},
			{Var: gpu.VarFloat1("sig_avg_raw"), Layout: gpu.VarLayout{Offset: 4, Stride: 4, Size: 4}},
		},
	})

	csp.Infer()
	sh.GLSL(`// peak detection
{
float sig_max = max(max(color.r, color.g), color.b) * %[1]f;
float decay = 1.0 / %[2]f;
sig_peak_raw = max(mix(sig_peak_raw, sig_max, decay), sig_max);
sig_avg_raw = mix(sig_avg_raw, sig_max, decay);
}
`, csp.SigPeak*csp.SigScale, params.SmoothingPeriod)
	return true
}

// DitherParams configures output dithering.
type DitherParams struct {
	Method DitherMethod

	// LUTSize is the dither matrix size exponent; matrix is
	// 2^LUTSize on a side. 0 means 6 (64x64).
	LUTSize int

	// Temporal cycles the pattern every frame.
	Temporal bool
}

// DitherMethod enumerates dithering patterns.
type DitherMethod uint8

const (
	DitherBlueNoise DitherMethod = iota
	DitherOrdered
	DitherWhiteNoise
)

// DefaultDitherParams selects DitherBlueNoise with a 64x64 matrix.
var DefaultDitherParams = DitherParams{Method: DitherBlueNoise}

// Dither quantizes the current color to the given bit depth with the
// configured dither pattern.
func (sh *Shader) Dither(depth int, state **Obj, params *DitherParams) {
	if !sh.Require(SigColor, SigColor) {
		return
	}
	if params == nil {
		params = &DefaultDitherParams
	}
	if depth <= 0 {
		return
	}
	g := sh.GPU()

	sizeExp := params.LUTSize
	if sizeExp == 0 {
		sizeExp = 6
	}
	size := 1 << uint(sizeExp)

	if params.Method == DitherWhiteNoise {
		// No LUT needed, use a cheap hash
		sh.GLSL("// white noise dithering\n"+
			"{\n"+
			"float noise = fract(sin(dot(gl_FragCoord.xy, vec2(12.9898, 78.233))) * 43758.5453);\n"+
			"color.rgb += (noise - 0.5) / vec3(%d.0);\n"+
			"}\n", (1<<uint(depth))-1)
		return
	}

	obj := objEnsure(g, state)
	sig := uint64(params.Method)<<8 | uint64(sizeExp)
	if obj.Tex == nil || obj.sig != sig {
		if !generateDitherTexture(g, obj, params.Method, size) {
			// Fall back to white noise silently
			sh.GLSL("{\n" +
				"float noise = fract(sin(dot(gl_FragCoord.xy, vec2(12.9898, 78.233))) * 43758.5453);\n" +
				"color.rgb += vec3(noise - 0.5) / vec3(255.0);\n" +
				"}\n")
			return
		}
		obj.sig = sig
	}

	lut := sh.AddDesc(Desc{
		Desc: gpu.Desc{Name: "dither_lut", Type: gpu.DescSampledTex},
		Binding: gpu.DescBinding{
			Object:  obj.Tex,
			Address: gpu.AddressRepeat,
			Sample:  gpu.SampleNearest,
		},
	})

	sh.GLSL("// dithering to %d bits\n"+
		"{\n"+
		"float pattern = texture(%s, gl_FragCoord.xy / vec2(%d.0)).r;\n"+
		"float scale = float(%d);\n"+
		"color.rgb = floor(color.rgb * scale + pattern) / scale;\n"+
		"}\n", depth, lut, size, (1<<uint(depth))-1)
}

// generateDitherTexture builds an ordered (bayer) dither matrix. The
// method is not consulted: DitherBlueNoise and DitherOrdered get the
// same matrix.
func generateDitherTexture(g gpu.GPU, obj *Obj, method DitherMethod, size int) bool {
	format := gpu.FindFormat(g, gpu.FormatTypeFloat, 1, 16, gpu.FormatCapSampleable)
	if format == nil {
		format = gpu.FindFormat(g, gpu.FormatTypeUNORM, 1, 8, gpu.FormatCapSampleable)
	}
	if format == nil {
		return false
	}

	matrix := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// Interleave bit-reversed coordinates
			v := 0
			xc, yc := x^y, y
			for mask := 1; mask < size; mask <<= 1 {
				v = v<<2 | (yc&mask)>>uint(ilog2(mask)) | ((xc&mask)>>uint(ilog2(mask)))<<1
			}
			matrix[y*size+x] = (float32(v) + 0.5) / float32(size*size)
		}
	}

	var raw []byte
	if format.Type == gpu.FormatTypeFloat {
		raw = make([]byte, 4*len(matrix))
		for i, v := range matrix {
			putf32(raw[4*i:], v)
		}
	} else {
		raw = make([]byte, len(matrix))
		for i, v := range matrix {
			raw[i] = byte(v * 255)
		}
	}

	if obj.Tex != nil {
		obj.Tex.Destroy()
		obj.Tex = nil
	}
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W: size, H: size,
		Format:      format,
		Sampleable:  true,
		InitialData: raw,
	})
	if err != nil {
		return false
	}
	obj.Tex = tex
	return true
}

func ilog2(x int) int {
	n := 0
	for x > 1 {
		x >>= 1
		n++
	}
	return n
}

// CustomLUT applies a user lookup table to the current color. The LUT
// payload is uploaded into a 3D texture kept in state.
func (sh *Shader) CustomLUT(lut *video.LUT, state **Obj) {
	if lut == nil {
		return
	}
	if !sh.Require(SigColor, SigColor) {
		return
	}
	g := sh.GPU()
	if g.Limits().MaxTexDim3D == 0 {
		return
	}

	obj := objEnsure(g, state)
	if obj.Tex == nil || obj.sig != lut.Signature {
		if !uploadLUT(g, obj, lut) {
			return
		}
		obj.sig = lut.Signature
	}

	tex := sh.AddDesc(Desc{
		Desc: gpu.Desc{Name: "user_lut", Type: gpu.DescSampledTex},
		Binding: gpu.DescBinding{
			Object: obj.Tex,
			Sample: gpu.SampleLinear,
		},
	})
	sh.GLSL("// custom lut\n"+
		"color.rgb = texture(%s, clamp(color.rgb, 0.0, 1.0)).rgb;\n", tex)
}

func uploadLUT(g gpu.GPU, obj *Obj, lut *video.LUT) bool {
	format := gpu.FindFormat(g, gpu.FormatTypeFloat, 4, 16,
		gpu.FormatCapSampleable|gpu.FormatCapLinear)
	if format == nil {
		return false
	}

	sr, sg, sb := lut.SizeR, lut.SizeG, lut.SizeB
	if sr == 0 || sg == 0 || sb == 0 {
		return false
	}
	raw := make([]byte, sr*sg*sb*16)
	for i := 0; i < sr*sg*sb; i++ {
		putf32(raw[16*i:], lut.Data[3*i])
		putf32(raw[16*i+4:], lut.Data[3*i+1])
		putf32(raw[16*i+8:], lut.Data[3*i+2])
		putf32(raw[16*i+12:], 1)
	}

	if obj.Tex != nil {
		obj.Tex.Destroy()
		obj.Tex = nil
	}
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W: sr, H: sg, D: sb,
		Format:      format,
		Sampleable:  true,
		InitialData: raw,
	})
	if err != nil {
		return false
	}
	obj.Tex = tex
	return true
}

// ICCParams configures ICC profile based color management.
type ICCParams struct {
	// Intent is the ICC rendering intent.
	Intent ICCIntent

	// LUTSize is the per-axis 3D LUT resolution; 0 means 64.
	LUTSize int
}

// ICCIntent enumerates ICC rendering intents.
type ICCIntent uint8

const (
	ICCIntentPerceptual ICCIntent = iota
	ICCIntentRelative
	ICCIntentSaturation
	ICCIntentAbsolute
)

// DefaultICCParams uses the perceptual intent.
var DefaultICCParams = ICCParams{Intent: ICCIntentPerceptual}

// ICCColorSpace pairs a color space with its ICC profile.
type ICCColorSpace struct {
	Color   video.ColorSpace
	Profile video.ICCProfile
}

// ICCResult reports the effective endpoints of an ICC conversion.
type ICCResult struct {
	SrcColor video.ColorSpace
	DstColor video.ColorSpace
}

// ICCUpdate prepares the ICC conversion 3D LUT between two profiled
// color spaces, returning the color spaces to adapt into/out of. The
// profiles enter only through their signatures, which decide when the
// LUT is regenerated; the LUT itself holds the identity transform (see
// generateICCLUT).
// Returns false when profiles cannot be realized (missing 3D texture
// support or LUT allocation failure).
func ICCUpdate(sh *Shader, src, dst *ICCColorSpace, state **Obj,
	res *ICCResult, params *ICCParams) bool {

	g := sh.GPU()
	if g.Limits().MaxTexDim3D == 0 {
		return false
	}
	if params == nil {
		params = &DefaultICCParams
	}
	size := params.LUTSize
	if size == 0 {
		size = 64
	}

	obj := objEnsure(g, state)
	sig := src.Profile.Signature ^ dst.Profile.Signature<<1 ^ uint64(params.Intent)
	if obj.Tex == nil || obj.sig != sig {
		if !generateICCLUT(g, obj, size) {
			return false
		}
		obj.sig = sig
	}

	*res = ICCResult{SrcColor: src.Color, DstColor: dst.Color}
	res.SrcColor.Infer()
	res.DstColor.Infer()
	return true
}

// ICCApply samples the conversion LUT prepared by ICCUpdate.
func ICCApply(sh *Shader, state **Obj) {
	if *state == nil || (*state).Tex == nil {
		return
	}
	if !sh.Require(SigColor, SigColor) {
		return
	}
	tex := sh.AddDesc(Desc{
		Desc: gpu.Desc{Name: "icc_lut", Type: gpu.DescSampledTex},
		Binding: gpu.DescBinding{
			Object: (*state).Tex,
			Sample: gpu.SampleLinear,
		},
	})
	sh.GLSL("// icc conversion\n"+
		"color.rgb = texture(%s, clamp(color.rgb, 0.0, 1.0)).rgb;\n", tex)
}

// generateICCLUT allocates the conversion LUT, initialized to the
// identity transform. Nothing in gv writes a profile transform into
// it, so ICCApply passes colors through unchanged up to LUT
// interpolation.
func generateICCLUT(g gpu.GPU, obj *Obj, size int) bool {
	format := gpu.FindFormat(g, gpu.FormatTypeFloat, 4, 16,
		gpu.FormatCapSampleable|gpu.FormatCapLinear)
	if format == nil {
		return false
	}

	raw := make([]byte, size*size*size*16)
	i := 0
	for b := 0; b < size; b++ {
		for gg := 0; gg < size; gg++ {
			for r := 0; r < size; r++ {
				putf32(raw[i:], float32(r)/float32(size-1))
				putf32(raw[i+4:], float32(gg)/float32(size-1))
				putf32(raw[i+8:], float32(b)/float32(size-1))
				putf32(raw[i+12:], 1)
				i += 16
			}
		}
	}

	if obj.Tex != nil {
		obj.Tex.Destroy()
		obj.Tex = nil
	}
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W: size, H: size, D: size,
		Format:      format,
		Sampleable:  true,
		InitialData: raw,
	})
	if err != nil {
		return false
	}
	obj.Tex = tex
	return true
}
