package shader

import (
	"math"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/internal/hashutil"
)

// SampleSrc describes a texture region to be sampled and the size it
// is being sampled to.
type SampleSrc struct {
	Tex gpu.Texture

	// Components is the number of channels to keep; 0 means all.
	Components int

	// ComponentMask selects specific channels instead (bit per
	// channel); 0 means the first Components channels.
	ComponentMask uint8

	// Scale multiplies the sampled value; 0 means 1.
	Scale float32

	// Rect is the source region in pixels; zero means the full
	// texture. May be flipped.
	Rect gpu.RectF

	// NewW, NewH is the effective target size of the sampling
	// operation.
	NewW, NewH int

	Address gpu.AddressMode
}

func (src *SampleSrc) fixed() SampleSrc {
	s := *src
	tp := s.Tex.Params()
	if s.Rect.IsZero() {
		s.Rect = gpu.RectF{X1: float32(tp.W), Y1: float32(tp.H)}
	}
	if s.NewW == 0 {
		s.NewW = int(math.Abs(float64(s.Rect.W())))
	}
	if s.NewH == 0 {
		s.NewH = int(math.Abs(float64(s.Rect.H())))
	}
	if s.Scale == 0 {
		s.Scale = 1
	}
	if s.Components == 0 {
		s.Components = s.Tex.Params().Format.NumComponents
	}
	return s
}

// Bind declares a sampled-texture descriptor plus a position varying
// covering src.Rect in normalized texture coordinates. It returns the
// texture and position identifiers.
func (sh *Shader) Bind(tex gpu.Texture, address gpu.AddressMode,
	sample gpu.SampleMode, name string, rect gpu.RectF) (texID, pos Ident) {

	tp := tex.Params()
	if rect.IsZero() {
		rect = gpu.RectF{X1: float32(tp.W), Y1: float32(tp.H)}
	}

	texID = sh.AddDesc(Desc{
		Desc: gpu.Desc{Name: name, Type: gpu.DescSampledTex},
		Binding: gpu.DescBinding{
			Object:  tex,
			Address: address,
			Sample:  sample,
		},
	})

	w, h := float32(tp.W), float32(tp.H)
	pos = sh.AttrVec2(name+"_pos", gpu.RectF{
		X0: rect.X0 / w, Y0: rect.Y0 / h,
		X1: rect.X1 / w, Y1: rect.Y1 / h,
	})
	return texID, pos
}

func (sh *Shader) sampleMode(src *SampleSrc, want gpu.SampleMode) gpu.SampleMode {
	if want == gpu.SampleLinear &&
		src.Tex.Params().Format.Caps&gpu.FormatCapLinear == 0 {
		return gpu.SampleNearest
	}
	return want
}

func (sh *Shader) applyMask(src *SampleSrc) {
	if src.ComponentMask == 0 {
		return
	}
	c := 0
	var tmp [4]int
	for ch := 0; ch < 4; ch++ {
		if src.ComponentMask&(1<<ch) != 0 {
			tmp[c] = ch
			c++
		}
	}
	orig := sh.Fresh("masked")
	sh.GLSL("vec4 %s = color;\n", orig)
	for i := 0; i < c; i++ {
		sh.GLSL("color[%d] = %s[%d];\n", i, orig, tmp[i])
	}
	src.Components = c
}

// SampleDirect samples the source with the texture's own filtering,
// preferring linear when available.
func (sh *Shader) SampleDirect(psrc *SampleSrc) {
	src := psrc.fixed()
	if !sh.Require(SigNone, SigColor) {
		return
	}
	tex, pos := sh.Bind(src.Tex, src.Address,
		sh.sampleMode(&src, gpu.SampleLinear), "src_tex", src.Rect)
	sh.GLSL("// direct sampling\n"+
		"color = vec4(%f) * texture(%s, %s);\n", src.Scale, tex, pos)
	sh.applyMask(&src)
}

// SampleNearestTex samples the source with nearest-neighbour
// filtering.
func (sh *Shader) SampleNearestTex(psrc *SampleSrc) {
	src := psrc.fixed()
	if !sh.Require(SigNone, SigColor) {
		return
	}
	tex, pos := sh.Bind(src.Tex, src.Address, gpu.SampleNearest, "src_tex", src.Rect)
	sh.GLSL("// nearest sampling\n"+
		"color = vec4(%f) * texture(%s, %s);\n", src.Scale, tex, pos)
	sh.applyMask(&src)
}

// SampleBicubic samples with the fast 4-tap bicubic approximation,
// exploiting hardware linear filtering. Requires a linearly sampleable
// source format.
func (sh *Shader) SampleBicubic(psrc *SampleSrc) {
	src := psrc.fixed()
	if !sh.Require(SigNone, SigColor) {
		return
	}
	tp := src.Tex.Params()
	tex, pos := sh.Bind(src.Tex, src.Address, gpu.SampleLinear, "src_tex", src.Rect)
	size := sh.AddVar(Var{
		Var:  gpu.VarVec2("tex_size"),
		Data: F32Bytes(float32(tp.W), float32(tp.H)),
	})
	sh.GLSL(`// fast bicubic sampling
{
vec2 size = %[3]s;
vec2 frac = fract(%[2]s * size + vec2(0.5));
vec2 frac2 = frac * frac;
vec2 inv = vec2(1.0) - frac;
vec2 inv2 = inv * inv;
vec2 w0 = inv2 * inv / 6.0;
vec2 w1 = (4.0 + 3.0 * frac2 * frac - 6.0 * frac2) / 6.0;
vec2 w3 = frac2 * frac / 6.0;
vec2 w2 = vec2(1.0) - w0 - w1 - w3;
vec4 g = vec4(w0 + w1, w2 + w3);
vec4 fc = vec4(w1 / (w0 + w1), w3 / (w2 + w3));
vec4 c = %[2]s.xyxy + vec4(-fc.xy, fc.zw) / size.xyxy;
vec4 c00 = texture(%[1]s, c.xy);
vec4 c01 = texture(%[1]s, c.xw);
vec4 c10 = texture(%[1]s, c.zy);
vec4 c11 = texture(%[1]s, c.zw);
color = vec4(%[4]f) * mix(mix(c11, c01, g.x), mix(c10, c00, g.x), g.y);
}
`, tex, pos, size, src.Scale)
	sh.applyMask(&src)
}

// SampleFilterParams configures the complex samplers.
type SampleFilterParams struct {
	Filter FilterConfig

	// LUTEntries is the resolution of the generated weight LUT.
	LUTEntries int

	// Cutoff is the minimum polar weight before taps are skipped.
	Cutoff float32

	// Antiring is the anti-ringing strength in [0,1].
	Antiring float32

	// NoCompute forbids compute shader usage.
	NoCompute bool

	// NoWidening disables anti-aliasing kernel widening when
	// downscaling.
	NoWidening bool

	// LUT is the persistent weight LUT slot.
	LUT **Obj
}

// SepDir selects the axis of an orthogonal sampling pass.
type SepDir int

const (
	SepHoriz SepDir = 0
	SepVert  SepDir = 1
)

// lutTex returns (creating on demand) a 1D texture holding the filter
// weights sampled over [0, radius).
func lutTex(sh *Shader, params *SampleFilterParams, sig uint64) gpu.Texture {
	g := sh.GPU()
	obj := objEnsure(g, params.LUT)
	if obj.Tex != nil && obj.sig == sig {
		return obj.Tex
	}

	entries := params.LUTEntries
	if entries <= 0 {
		entries = 64
	}

	format := gpu.FindFormat(g, gpu.FormatTypeFloat, 1, 16,
		gpu.FormatCapSampleable|gpu.FormatCapLinear)
	if format == nil {
		return nil
	}

	radius := params.Filter.Radius()
	data := make([]float32, entries)
	for i := range data {
		x := float64(i) / float64(entries-1) * radius
		data[i] = float32(params.Filter.Sample(x))
	}

	raw := make([]byte, 4*entries)
	for i, v := range data {
		putf32(raw[4*i:], v)
	}

	if obj.Tex != nil {
		obj.Tex.Destroy()
		obj.Tex = nil
	}
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W:           entries,
		Format:      format,
		Sampleable:  true,
		InitialData: raw,
	})
	if err != nil {
		return nil
	}
	obj.Tex = tex
	obj.sig = sig
	return tex
}

func filterSig(params *SampleFilterParams) uint64 {
	var sig uint64 = uint64(params.LUTEntries)<<32 | uint64(math.Float32bits(params.Antiring))
	h := hashutil.New()
	h.WriteString(params.Filter.Name)
	h.WriteFloat64(params.Filter.Clamp)
	if params.Filter.Kernel != nil {
		sig ^= math.Float64bits(params.Filter.Kernel.Radius)
		h.WriteString(params.Filter.Kernel.Name)
	}
	if params.Filter.Window != nil {
		h.WriteString(params.Filter.Window.Name)
	}
	return sig ^ h.Sum()
}

// SampleOrtho emits a one-axis separable convolution of the source.
// Returns false if the weight LUT could not be created.
func (sh *Shader) SampleOrtho(dir SepDir, psrc *SampleSrc, params *SampleFilterParams) bool {
	src := psrc.fixed()
	if !sh.Require(SigNone, SigColor) {
		return false
	}

	lut := lutTex(sh, params, filterSig(params))
	if lut == nil {
		return false
	}

	ratio := []float64{
		float64(src.NewW) / math.Abs(float64(src.Rect.W())),
		float64(src.NewH) / math.Abs(float64(src.Rect.H())),
	}[dir]

	radius := params.Filter.Radius()
	if ratio < 1 && !params.NoWidening {
		radius /= ratio // widen for anti-aliasing
	}
	taps := 2 * int(math.Ceil(radius))

	tp := src.Tex.Params()
	tex, pos := sh.Bind(src.Tex, src.Address, gpu.SampleNearest, "src_tex", src.Rect)
	lutID := sh.AddDesc(Desc{
		Desc: gpu.Desc{Name: "weights", Type: gpu.DescSampledTex},
		Binding: gpu.DescBinding{
			Object: lut,
			Sample: gpu.SampleLinear,
		},
	})
	pt := sh.AddVar(Var{
		Var:  gpu.VarVec2("pt"),
		Data: F32Bytes(1/float32(tp.W), 1/float32(tp.H)),
	})

	axis := "x"
	if dir == SepVert {
		axis = "y"
	}

	sh.GLSL(`// orthogonal scaling (%[6]s axis, %[4]d taps)
{
vec2 dir = vec2(0.0);
dir.%[6]s = 1.0;
vec2 sizef = vec2(textureSize(%[1]s, 0));
vec2 base = %[2]s - fract(%[2]s * sizef - vec2(0.5)) * %[3]s * dir;
float wsum = 0.0;
vec4 csum = vec4(0.0);
for (int n = 0; n < %[4]d; n++) {
float off = float(n) - float(%[4]d / 2 - 1);
vec2 p = base + off * %[3]s * dir;
float d = abs(dot(p - %[2]s, dir)) / (%[3]s.%[6]s * float(%[5]f));
float w = texture(%[7]s, vec2(d, 0.5)).r;
wsum += w;
csum += w * texture(%[1]s, p);
}
color = vec4(%[8]f) * csum / vec4(wsum);
}
`, tex, pos, pt, taps, radius, axis, lutID, src.Scale)
	sh.applyMask(&src)
	return true
}

// SamplePolar emits a single-pass polar (EWA) convolution of the
// source. Returns false if the weight LUT could not be created.
func (sh *Shader) SamplePolar(psrc *SampleSrc, params *SampleFilterParams) bool {
	src := psrc.fixed()
	if !sh.Require(SigNone, SigColor) {
		return false
	}

	lut := lutTex(sh, params, filterSig(params))
	if lut == nil {
		return false
	}

	if !params.NoCompute && sh.GPU().Caps()&gpu.CapParallelCompute != 0 {
		// Polar sampling parallelizes well; group size matches the
		// framebuffer promotion tiling.
		sh.TryCompute(16, 16, true)
	}

	radius := params.Filter.Radius()
	tp := src.Tex.Params()
	tex, pos := sh.Bind(src.Tex, src.Address, gpu.SampleNearest, "src_tex", src.Rect)
	lutID := sh.AddDesc(Desc{
		Desc: gpu.Desc{Name: "weights", Type: gpu.DescSampledTex},
		Binding: gpu.DescBinding{
			Object: lut,
			Sample: gpu.SampleLinear,
		},
	})
	pt := sh.AddVar(Var{
		Var:  gpu.VarVec2("pt"),
		Data: F32Bytes(1/float32(tp.W), 1/float32(tp.H)),
	})

	bound := int(math.Ceil(radius))
	sh.GLSL(`// polar scaling (radius %[4]f)
{
vec2 sizef = vec2(textureSize(%[1]s, 0));
vec2 fcoord = fract(%[2]s * sizef - vec2(0.5));
vec2 base = %[2]s - fcoord * %[3]s;
float wsum = 0.0;
vec4 csum = vec4(0.0);
for (int y = %[5]d; y <= %[6]d; y++) {
for (int x = %[5]d; x <= %[6]d; x++) {
vec2 off = vec2(float(x), float(y));
float d = length(off - fcoord) / float(%[4]f);
if (d >= 1.0)
continue;
float w = texture(%[7]s, vec2(d, 0.5)).r;
if (abs(w) < %[8]f)
continue;
wsum += w;
csum += w * texture(%[1]s, base + off * %[3]s);
}
}
color = vec4(%[9]f) * csum / vec4(wsum);
}
`, tex, pos, pt, radius, 1-bound, bound, lutID, params.Cutoff, src.Scale)
	sh.applyMask(&src)
	return true
}
