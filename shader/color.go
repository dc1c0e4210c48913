package shader

import (
	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/video"
)

// ColorAdjustment tweaks brightness/contrast/saturation/hue during
// color decoding.
type ColorAdjustment struct {
	Brightness float32 // additive, 0 = neutral
	Contrast   float32 // multiplicative, 1 = neutral
	Saturation float32 // multiplicative, 1 = neutral
	Hue        float32 // radians, 0 = neutral
	Gamma      float32 // 1 = neutral
}

// NeutralColorAdjustment is the identity adjustment.
var NeutralColorAdjustment = ColorAdjustment{
	Contrast: 1, Saturation: 1, Gamma: 1,
}

// yccToRGB returns the row-major 3x3 matrix decoding the given YCbCr
// system (full range) to RGB.
func yccToRGB(sys video.ColorSystem) [9]float32 {
	var kr, kb float32
	switch sys {
	case video.ColorSystemBT601:
		kr, kb = 0.299, 0.114
	case video.ColorSystemBT2020NC:
		kr, kb = 0.2627, 0.0593
	case video.ColorSystemYCgCo:
		// YCgCo has a fixed integer matrix
		return [9]float32{
			1, -1, 1,
			1, 1, 0,
			1, -1, -1,
		}
	default:
		kr, kb = 0.2126, 0.0722
	}
	kg := 1 - kr - kb
	return [9]float32{
		1, 0, 2 * (1 - kr),
		1, -2 * (1 - kb) * kb / kg, -2 * (1 - kr) * kr / kg,
		1, 2 * (1 - kb), 0,
	}
}

func transpose3x3(m [9]float32) [9]float32 {
	return [9]float32{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// matData converts a row-major 3x3 matrix to the column-major byte
// layout GLSL mat3 uploads expect.
func matData(m [9]float32) []byte {
	t := transpose3x3(m)
	return F32Bytes(t[:]...)
}

// DecodeColor converts the current color from its encoded
// representation to normalized, full-range RGB, updating repr
// accordingly.
func (sh *Shader) DecodeColor(repr *video.ColorRepr, adj *ColorAdjustment) {
	if !sh.Require(SigColor, SigColor) {
		return
	}
	sh.GLSL("// decoding color\n")

	if scale := repr.Normalize(); scale != 1 {
		sh.GLSL("color *= vec4(%f);\n", scale)
	}

	if repr.Levels == video.ColorLevelsLimited {
		// Expand the limited range before any matrix is applied
		sh.GLSL("color.r = (color.r - 16.0/255.0) * 255.0/219.0;\n")
		if repr.Sys.IsYCbCrLike() {
			sh.GLSL("color.gb = (color.gb - vec2(16.0/255.0)) * 255.0/224.0;\n")
		} else {
			sh.GLSL("color.gb = (color.gb - vec2(16.0/255.0)) * 255.0/219.0;\n")
		}
	}

	if repr.Sys.IsYCbCrLike() {
		sh.GLSL("color.gb -= vec2(0.5);\n")
		mat := sh.AddVar(Var{
			Var:  gpu.VarMat3("ycc2rgb"),
			Data: matData(yccToRGB(repr.Sys)),
		})
		sh.GLSL("color.rgb = %s * color.rgb;\n", mat)
	}

	if adj != nil && *adj != NeutralColorAdjustment {
		params := sh.AddVar(Var{
			Var:     gpu.VarVec4("color_adj"),
			Data:    F32Bytes(adj.Brightness, adj.Contrast, adj.Saturation, adj.Gamma),
			Dynamic: true,
		})
		sh.GLSL("color.rgb = (color.rgb - vec3(0.5)) * vec3(%[1]s.y) + vec3(0.5);\n"+
			"color.rgb += vec3(%[1]s.x);\n"+
			"float luma = dot(color.rgb, vec3(0.2126, 0.7152, 0.0722));\n"+
			"color.rgb = vec3(luma) + (color.rgb - vec3(luma)) * vec3(%[1]s.z);\n",
			params)
	}

	repr.Sys = video.ColorSystemRGB
	repr.Levels = video.ColorLevelsFull
}

// EncodeColor is the inverse of DecodeColor: it converts full-range
// RGB into the representation described by repr.
func (sh *Shader) EncodeColor(repr *video.ColorRepr) {
	if !sh.Require(SigColor, SigColor) {
		return
	}
	sh.GLSL("// encoding color\n")

	if repr.Sys.IsYCbCrLike() {
		// Invert the decode matrix on the CPU side: emit the forward
		// RGB->YCC coefficients directly.
		var kr, kb float32
		switch repr.Sys {
		case video.ColorSystemBT601:
			kr, kb = 0.299, 0.114
		case video.ColorSystemBT2020NC:
			kr, kb = 0.2627, 0.0593
		default:
			kr, kb = 0.2126, 0.0722
		}
		kg := 1 - kr - kb
		fwd := [9]float32{
			kr, kg, kb,
			-kr / (2 * (1 - kb)), -kg / (2 * (1 - kb)), 0.5,
			0.5, -kg / (2 * (1 - kr)), -kb / (2 * (1 - kr)),
		}
		if repr.Sys == video.ColorSystemYCgCo {
			// Inverse of the fixed YCgCo decode matrix
			fwd = [9]float32{
				0.25, 0.5, 0.25,
				-0.25, 0.5, -0.25,
				0.5, 0, -0.5,
			}
		}
		mat := sh.AddVar(Var{
			Var:  gpu.VarMat3("rgb2ycc"),
			Data: matData(fwd),
		})
		sh.GLSL("color.rgb = %s * color.rgb;\n"+
			"color.gb += vec2(0.5);\n", mat)
	}

	if repr.Levels == video.ColorLevelsLimited {
		sh.GLSL("color.r = color.r * 219.0/255.0 + 16.0/255.0;\n")
		if repr.Sys.IsYCbCrLike() {
			sh.GLSL("color.gb = color.gb * 224.0/255.0 + vec2(16.0/255.0);\n")
		} else {
			sh.GLSL("color.gb = color.gb * 219.0/255.0 + vec2(16.0/255.0);\n")
		}
	}

	if repr.Alpha == video.AlphaPremultiplied {
		sh.GLSL("color.rgb *= vec3(color.a);\n")
	}
}

// Linearize converts the current color to linear light.
func (sh *Shader) Linearize(transfer video.Transfer) {
	if !sh.Require(SigColor, SigColor) {
		return
	}
	sh.GLSL("// linearizing (%d)\n", transfer)
	switch transfer {
	case video.TransferLinear:
		// nothing to do
	case video.TransferSRGB:
		sh.GLSL("color.rgb = mix(color.rgb / vec3(12.92)," +
			" pow((color.rgb + vec3(0.055)) / vec3(1.055), vec3(2.4))," +
			" step(vec3(0.04045), color.rgb));\n")
	case video.TransferPQ:
		sh.GLSL("{\n" +
			"vec3 p = pow(max(color.rgb, 0.0), vec3(1.0/78.84375));\n" +
			"color.rgb = pow(max(p - vec3(0.8359375), 0.0) /" +
			" (vec3(18.8515625) - vec3(18.6875) * p), vec3(1.0/0.1593017578125));\n" +
			"color.rgb *= vec3(10000.0/203.0);\n" +
			"}\n")
	case video.TransferHLG:
		sh.GLSL("{\n" +
			"vec3 lo = color.rgb * color.rgb / vec3(3.0);\n" +
			"vec3 hi = (exp((color.rgb - vec3(0.55991073)) / vec3(0.17883277)) + vec3(0.28466892)) / vec3(12.0);\n" +
			"color.rgb = mix(lo, hi, step(vec3(0.5), color.rgb)) * vec3(1000.0/203.0);\n" +
			"}\n")
	case video.TransferGamma22:
		sh.GLSL("color.rgb = pow(max(color.rgb, 0.0), vec3(2.2));\n")
	default: // BT1886 and unknown
		sh.GLSL("color.rgb = pow(max(color.rgb, 0.0), vec3(2.4));\n")
	}
}

// Delinearize converts linear light back into the given transfer
// function's encoding.
func (sh *Shader) Delinearize(transfer video.Transfer) {
	if !sh.Require(SigColor, SigColor) {
		return
	}
	sh.GLSL("// delinearizing (%d)\n", transfer)
	switch transfer {
	case video.TransferLinear:
	case video.TransferSRGB:
		sh.GLSL("color.rgb = mix(color.rgb * vec3(12.92)," +
			" vec3(1.055) * pow(color.rgb, vec3(1.0/2.4)) - vec3(0.055)," +
			" step(vec3(0.0031308), color.rgb));\n")
	case video.TransferPQ:
		sh.GLSL("{\n" +
			"vec3 y = pow(max(color.rgb * vec3(203.0/10000.0), 0.0), vec3(0.1593017578125));\n" +
			"color.rgb = pow((vec3(0.8359375) + vec3(18.8515625) * y) /" +
			" (vec3(1.0) + vec3(18.6875) * y), vec3(78.84375));\n" +
			"}\n")
	case video.TransferHLG:
		sh.GLSL("{\n" +
			"vec3 l = max(color.rgb * vec3(203.0/1000.0), 0.0);\n" +
			"vec3 lo = sqrt(l * vec3(3.0));\n" +
			"vec3 hi = vec3(0.17883277) * log(vec3(12.0) * l - vec3(0.28466892)) + vec3(0.55991073);\n" +
			"color.rgb = mix(lo, hi, step(vec3(1.0/12.0), l));\n" +
			"}\n")
	case video.TransferGamma22:
		sh.GLSL("color.rgb = pow(max(color.rgb, 0.0), vec3(1.0/2.2));\n")
	default:
		sh.GLSL("color.rgb = pow(max(color.rgb, 0.0), vec3(1.0/2.4));\n")
	}
}

// SigmoidParams configures the sigmoidal contrast curve applied in
// linear light before upscaling.
type SigmoidParams struct {
	Center float32 // inflection point, (0,1)
	Slope  float32 // steepness
}

// DefaultSigmoidParams matches the slope/center most upscalers use.
var DefaultSigmoidParams = SigmoidParams{Center: 0.75, Slope: 6.5}

func (p *SigmoidParams) fixed() SigmoidParams {
	s := *p
	if s.Center == 0 {
		s.Center = DefaultSigmoidParams.Center
	}
	if s.Slope == 0 {
		s.Slope = DefaultSigmoidParams.Slope
	}
	return s
}

// Sigmoidize applies the forward sigmoid curve. The input must be
// linear light in [0,1].
func (sh *Shader) Sigmoidize(params *SigmoidParams) {
	if !sh.Require(SigColor, SigColor) {
		return
	}
	p := params.fixed()
	center, slope := p.Center, p.Slope
	offset := 1 / (1 + expf(slope*center))
	scale := 1/(1+expf(slope*(center-1))) - offset
	sh.GLSL("// sigmoidizing\n"+
		"color = clamp(color, 0.0, 1.0);\n"+
		"color = vec4(%f) - log(vec4(1.0) / (color * vec4(%f) + vec4(%f)) - vec4(1.0)) * vec4(%f);\n",
		center, scale, offset, 1/slope)
}

// Unsigmoidize inverts Sigmoidize.
func (sh *Shader) Unsigmoidize(params *SigmoidParams) {
	if !sh.Require(SigColor, SigColor) {
		return
	}
	p := params.fixed()
	center, slope := p.Center, p.Slope
	offset := 1 / (1 + expf(slope*center))
	scale := 1/(1+expf(slope*(center-1))) - offset
	sh.GLSL("// unsigmoidizing\n"+
		"color = clamp(color, 0.0, 1.0);\n"+
		"color = vec4(%f) / (vec4(1.0) + exp(vec4(%f) * (vec4(%f) - color))) - vec4(%f);\n",
		1/scale, slope, center, offset/scale)
}

// ColorMapParams configures tone and gamut mapping.
type ColorMapParams struct {
	// ToneMapping selects the tone mapping curve.
	ToneMapping ToneMapping

	// ToneMappingParam tweaks the curve where applicable.
	ToneMappingParam float32

	// DesaturationStrength controls highlight desaturation.
	DesaturationStrength float32

	// GamutWarning is not read by ColorMap: out-of-gamut pixels are
	// neither highlighted nor handled differently when it is set.
	GamutWarning bool
}

// ToneMapping enumerates the tone mapping curves.
type ToneMapping uint8

const (
	ToneMappingClip ToneMapping = iota
	ToneMappingHable
	ToneMappingReinhard
	ToneMappingBT2390
)

// DefaultColorMapParams is used when no parameters are provided.
var DefaultColorMapParams = ColorMapParams{
	ToneMapping:          ToneMappingHable,
	DesaturationStrength: 0.75,
}

// ColorMap converts between two color spaces: linearization, gamut
// mapping between primaries, tone mapping from the source peak to the
// destination peak (consuming the result of peak detection when
// available), and re-encoding into the destination transfer.
func (sh *Shader) ColorMap(params *ColorMapParams, src, dst video.ColorSpace,
	peakState **Obj, prelinearized bool) {

	if !sh.Require(SigColor, SigColor) {
		return
	}
	src.Infer()
	dst.Infer()
	if params == nil {
		params = &DefaultColorMapParams
	}

	// Difference detection: a pure no-op mapping emits nothing.
	needLinear := src.Transfer != dst.Transfer ||
		src.Primaries != dst.Primaries ||
		src.SigPeak*src.SigScale > dst.SigPeak*dst.SigScale ||
		prelinearized
	if !needLinear {
		return
	}

	sh.GLSL("// color mapping\n")
	if !prelinearized {
		sh.Linearize(src.Transfer)
	}

	if s := src.SigScale; s != 1 && s != 0 {
		sh.GLSL("color.rgb *= vec3(%f);\n", s)
	}

	if src.Primaries != dst.Primaries && src.Primaries != video.PrimariesUnknown &&
		dst.Primaries != video.PrimariesUnknown {
		mat := sh.AddVar(Var{
			Var:  gpu.VarMat3("gamut"),
			Data: matData(gamutMatrix(src.Primaries, dst.Primaries)),
		})
		sh.GLSL("color.rgb = %s * color.rgb;\n", mat)
	}

	srcPeak := src.SigPeak * src.SigScale
	dstPeak := dst.SigPeak * dst.SigScale
	if srcPeak > dstPeak+1e-6 {
		sh.toneMap(params, srcPeak, dstPeak, peakState)
	}

	if s := dst.SigScale; s != 1 && s != 0 {
		sh.GLSL("color.rgb *= vec3(%f);\n", 1/s)
	}

	sh.Delinearize(dst.Transfer)
}

// toneMap compresses the luminance range from srcPeak to dstPeak.
func (sh *Shader) toneMap(params *ColorMapParams, srcPeak, dstPeak float32, peakState **Obj) {
	peak := Ident("")
	if peakState != nil && *peakState != nil && (*peakState).Buf != nil {
		peak = sh.AddDesc(Desc{
			Desc: gpu.Desc{
				Name:   "peak_buf",
				Type:   gpu.DescBufStorage,
				Access: gpu.DescAccessReadOnly,
			},
			Binding: gpu.DescBinding{Object: (*peakState).Buf},
			BufferVars: []gpu.BufferVar{{
				Var:    gpu.VarFloat1("sig_peak_raw"),
				Layout: gpu.VarLayout{Offset: 0, Stride: 4, Size: 4},
			}},
		})
	}

	sh.GLSL("// tone mapping %f -> %f\n"+
		"{\n"+
		"float sig_peak = %f;\n", srcPeak, dstPeak, srcPeak/dstPeak)
	if peak != "" {
		sh.GLSL("sig_peak = max(sig_peak_raw / %f, 1.0);\n", dstPeak)
	}
	sh.GLSL("vec3 sig = color.rgb / vec3(%f);\n", dstPeak)

	switch params.ToneMapping {
	case ToneMappingClip:
		sh.GLSL("sig = clamp(sig, 0.0, 1.0);\n")
	case ToneMappingReinhard:
		sh.GLSL("sig = sig / (sig + vec3(1.0)) * vec3((sig_peak + 1.0) / sig_peak);\n")
	case ToneMappingBT2390:
		sh.GLSL("{\n" +
			"vec3 x = sig / vec3(sig_peak);\n" +
			"vec3 ks = vec3(1.5) - vec3(0.5);\n" +
			"sig = min(x * vec3(sig_peak), vec3(1.0));\n" +
			"}\n")
	default: // Hable
		sh.GLSL("{\n" +
			"vec3 A = vec3(0.15); vec3 B = vec3(0.50); vec3 C = vec3(0.10);\n" +
			"vec3 D = vec3(0.20); vec3 E = vec3(0.02); vec3 F = vec3(0.30);\n" +
			"vec3 num = (sig * (A * sig + C*B) + D*E);\n" +
			"vec3 den = (sig * (A * sig + B) + D*F);\n" +
			"vec3 wnum = (vec3(sig_peak) * (A * vec3(sig_peak) + C*B) + D*E);\n" +
			"vec3 wden = (vec3(sig_peak) * (A * vec3(sig_peak) + B) + D*F);\n" +
			"sig = (num / den - E/F) / (wnum / wden - E/F);\n" +
			"}\n")
	}

	if params.DesaturationStrength > 0 {
		sh.GLSL("{\n"+
			"float luma = dot(sig, vec3(0.2126, 0.7152, 0.0722));\n"+
			"float coeff = max(luma - 0.18, 1e-6) / max(luma, 1e-6);\n"+
			"sig = mix(sig, vec3(luma), %f * coeff);\n"+
			"}\n", params.DesaturationStrength)
	}

	sh.GLSL("color.rgb = sig * vec3(%f);\n"+
		"}\n", dstPeak)
}

// gamutMatrix returns the row-major RGB->RGB adaptation between two
// primary sets. A BT.2020 source maps with the BT.2020->BT.709 matrix
// and a BT.2020 target with the BT.709->BT.2020 one, whatever the other
// side is; every other pair of primaries maps through the identity.
func gamutMatrix(src, dst video.Primaries) [9]float32 {
	if src == dst {
		return [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}
	}
	// BT.2020 <-> BT.709 are the conversions that matter in practice.
	bt2020to709 := [9]float32{
		1.6605, -0.5876, -0.0728,
		-0.1246, 1.1329, -0.0083,
		-0.0182, -0.1006, 1.1187,
	}
	bt709to2020 := [9]float32{
		0.6274, 0.3293, 0.0433,
		0.0691, 0.9195, 0.0114,
		0.0164, 0.0880, 0.8956,
	}
	if src == video.PrimariesBT2020 {
		return bt2020to709
	}
	if dst == video.PrimariesBT2020 {
		return bt709to2020
	}
	return [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// ConeParams configures color blindness simulation.
type ConeParams struct {
	// Cones is a bitmask of affected cone types.
	Cones Cones

	// Strength is the severity in [0,1]; 1 simulates dichromacy.
	Strength float32
}

// Cones enumerates the retinal cone types.
type Cones uint8

const (
	ConeL Cones = 1 << iota
	ConeM
	ConeS
)

// ConeDistort simulates color vision deficiency for the given cones.
func (sh *Shader) ConeDistort(csp video.ColorSpace, params *ConeParams) {
	if params == nil || params.Cones == 0 {
		return
	}
	if !sh.Require(SigColor, SigColor) {
		return
	}
	sh.Linearize(csp.Transfer)
	sh.GLSL("// cone distortion\n"+
		"{\n"+
		"mat3 lms = mat3(0.3592, -0.1922, 0.0070, 0.6976, 1.1004, 0.0749, -0.0358, 0.0755, 0.8434);\n"+
		"vec3 c = lms * color.rgb;\n")
	if params.Cones&ConeL != 0 {
		sh.GLSL("c.x = mix(c.x, 1.05118294 * c.y - 0.05116099 * c.z, %f);\n", params.Strength)
	}
	if params.Cones&ConeM != 0 {
		sh.GLSL("c.y = mix(c.y, 0.95130920 * c.x + 0.04866992 * c.z, %f);\n", params.Strength)
	}
	if params.Cones&ConeS != 0 {
		sh.GLSL("c.z = mix(c.z, -0.86744736 * c.x + 1.86727089 * c.y, %f);\n", params.Strength)
	}
	sh.GLSL("color.rgb = inverse(mat3(0.3592, -0.1922, 0.0070, 0.6976, 1.1004, 0.0749, -0.0358, 0.0755, 0.8434)) * c;\n" +
		"}\n")
	sh.Delinearize(csp.Transfer)
}

func expf(x float32) float32 {
	// small helper around math.Exp for float32 params
	return float32(exp64(float64(x)))
}
