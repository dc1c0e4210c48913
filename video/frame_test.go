package video

import (
	"testing"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/gputest"
)

func testTexture(t *testing.T, g *gputest.GPU, w, h, comps int) gpu.Texture {
	t.Helper()
	var typ gpu.FormatType = gpu.FormatTypeUNORM
	format := gpu.FindFormat(g, typ, comps, 8, gpu.FormatCapSampleable)
	if format == nil {
		t.Fatalf("no %d-component format", comps)
	}
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W: w, H: h,
		Format:     format,
		Sampleable: true,
		Renderable: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tex
}

func yuv420Frame(t *testing.T, g *gputest.GPU, w, h int) *Frame {
	t.Helper()
	return &Frame{
		Planes: []Plane{
			{Texture: testTexture(t, g, w, h, 1), Components: 1,
				ComponentMapping: [4]Channel{ChannelY, ChannelNone, ChannelNone, ChannelNone}},
			{Texture: testTexture(t, g, w/2, h/2, 2), Components: 2,
				ComponentMapping: [4]Channel{ChannelCb, ChannelCr, ChannelNone, ChannelNone}},
		},
		Repr: ColorRepr{
			Sys:    ColorSystemBT709,
			Levels: ColorLevelsLimited,
			Bits:   BitEncoding{SampleDepth: 8, ColorDepth: 8},
		},
		Color: ColorSpace{Primaries: PrimariesBT709, Transfer: TransferBT1886},
		Crop:  gpu.RectF{X1: float32(w), Y1: float32(h)},
	}
}

func TestDetectPlaneType(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)

	if typ := DetectPlaneType(&f.Planes[0], &f.Repr); typ != PlaneLuma {
		t.Errorf("luma plane detected as %v", typ)
	}
	if typ := DetectPlaneType(&f.Planes[1], &f.Repr); typ != PlaneChroma {
		t.Errorf("chroma plane detected as %v", typ)
	}

	rgb := Plane{Components: 3, ComponentMapping: [4]Channel{ChannelR, ChannelG, ChannelB, ChannelNone}}
	repr := ColorRepr{Sys: ColorSystemRGB}
	if typ := DetectPlaneType(&rgb, &repr); typ != PlaneRGB {
		t.Errorf("rgb plane detected as %v", typ)
	}

	alpha := Plane{Components: 1, ComponentMapping: [4]Channel{ChannelA}}
	if typ := DetectPlaneType(&alpha, &repr); typ != PlaneAlpha {
		t.Errorf("alpha plane detected as %v", typ)
	}

	xyz := Plane{Components: 3, ComponentMapping: [4]Channel{0, 1, 2, ChannelNone}}
	reprXYZ := ColorRepr{Sys: ColorSystemXYZ}
	if typ := DetectPlaneType(&xyz, &reprXYZ); typ != PlaneXYZ {
		t.Errorf("xyz plane detected as %v", typ)
	}
}

func TestValidateRejectsChromaOnly(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)
	f.Planes = f.Planes[1:] // drop luma

	if err := f.Validate(false); err == nil {
		t.Error("chroma-only frame passed validation")
	}
}

func TestValidateRejectsBadMapping(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)
	f.Planes[0].ComponentMapping[0] = 7

	if err := f.Validate(false); err == nil {
		t.Error("out-of-range channel id passed validation")
	}
}

func TestValidateRejectsHalfZeroCrop(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)
	f.Crop = gpu.RectF{X1: 64} // zero height, nonzero width

	if err := f.Validate(false); err == nil {
		t.Error("zero-area-on-one-axis crop passed validation")
	}
}

func TestValidateOK(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)
	if err := f.Validate(false); err != nil {
		t.Errorf("valid frame rejected: %v", err)
	}
}

func TestRefPlane(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)
	if ref := f.RefPlane(); ref != 0 {
		t.Errorf("ref plane = %d, want 0", ref)
	}
}

func TestGuessPrimaries(t *testing.T) {
	tests := []struct {
		w, h int
		want Primaries
	}{
		{720, 576, PrimariesBT601_625},
		{720, 480, PrimariesBT601_525},
		{1920, 1080, PrimariesBT709},
		{3840, 2160, PrimariesBT2020},
	}
	for _, tt := range tests {
		if got := GuessPrimaries(tt.w, tt.h); got != tt.want {
			t.Errorf("GuessPrimaries(%d,%d) = %v, want %v", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestReprNormalize(t *testing.T) {
	// 10-bit color in 16-bit samples, no shift
	r := ColorRepr{Bits: BitEncoding{SampleDepth: 16, ColorDepth: 10}}
	scale := r.Normalize()
	want := float32(65535.0 / 1023.0)
	if scale < want-0.001 || scale > want+0.001 {
		t.Errorf("scale = %f, want %f", scale, want)
	}
	if r.Bits.SampleDepth != 10 || r.Bits.BitShift != 0 {
		t.Errorf("bits not reset: %+v", r.Bits)
	}

	// Equal depths are a no-op
	r = ColorRepr{Bits: BitEncoding{SampleDepth: 8, ColorDepth: 8}}
	if s := r.Normalize(); s != 1 {
		t.Errorf("8-in-8 scale = %f, want 1", s)
	}
}

func TestTransferIsHDR(t *testing.T) {
	if !TransferPQ.IsHDR() || !TransferHLG.IsHDR() {
		t.Error("PQ/HLG not detected as HDR")
	}
	if TransferSRGB.IsHDR() || TransferBT1886.IsHDR() {
		t.Error("SDR transfer detected as HDR")
	}
}

func TestGuessLUTKind(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)

	if GuessLUTKind(f, false) != LUTUnknown {
		t.Error("frame without LUT guessed a kind")
	}

	// RGB -> RGB is a normalized LUT
	f.LUT = &LUT{
		ReprIn:  ColorRepr{Sys: ColorSystemRGB},
		ReprOut: ColorRepr{Sys: ColorSystemRGB},
	}
	if got := GuessLUTKind(f, false); got != LUTNormalized {
		t.Errorf("RGB->RGB guessed %v, want normalized", got)
	}

	// native system -> RGB is a conversion LUT
	f.LUT = &LUT{
		ReprIn:  ColorRepr{Sys: ColorSystemBT709},
		ReprOut: ColorRepr{Sys: ColorSystemRGB},
	}
	if got := GuessLUTKind(f, false); got != LUTConversion {
		t.Errorf("native->RGB guessed %v, want conversion", got)
	}

	// reversed direction flips the reasoning
	if got := GuessLUTKind(f, true); got == LUTConversion {
		t.Errorf("reversed native->RGB still guessed conversion")
	}

	// explicit kind wins
	f.LUTKind = LUTNative
	if got := GuessLUTKind(f, false); got != LUTNative {
		t.Errorf("explicit kind ignored, got %v", got)
	}
}

func TestSetChromaLocation(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)

	f.SetChromaLocation(ChromaLeft)
	if f.Planes[0].ShiftX != 0 {
		t.Error("luma plane was shifted")
	}
	if f.Planes[1].ShiftX != -0.5 || f.Planes[1].ShiftY != 0 {
		t.Errorf("chroma shift = %f,%f, want -0.5,0",
			f.Planes[1].ShiftX, f.Planes[1].ShiftY)
	}
}

func TestIsCropped(t *testing.T) {
	g := gputest.New(nil)
	f := yuv420Frame(t, g, 64, 64)

	if f.IsCropped() {
		t.Error("full-frame crop reported as cropped")
	}
	f.Crop = gpu.RectF{X0: 8, Y0: 8, X1: 56, Y1: 56}
	if !f.IsCropped() {
		t.Error("sub-rect crop not reported as cropped")
	}
}

func TestColorSpaceInfer(t *testing.T) {
	c := ColorSpace{Transfer: TransferPQ}
	c.Infer()
	if c.SigPeak <= 1 {
		t.Errorf("PQ peak = %f, want > 1", c.SigPeak)
	}
	if c.SigScale != 1 {
		t.Errorf("SigScale = %f, want 1", c.SigScale)
	}

	sdr := ColorSpace{}
	sdr.Infer()
	if sdr.IsHDR() {
		t.Error("inferred SDR space reports HDR")
	}
}
