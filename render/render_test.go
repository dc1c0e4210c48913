package render

import (
	"testing"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/gputest"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

func findFormat(t *testing.T, g *gputest.GPU, name string) *gpu.Format {
	t.Helper()
	for _, f := range g.Formats() {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("format %q not found", name)
	return nil
}

func makeTexture(t *testing.T, g *gputest.GPU, w, h int, format *gpu.Format) gpu.Texture {
	t.Helper()
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W: w, H: h,
		Format:     format,
		Sampleable: true,
		Renderable: true,
		Storable:   format.Caps&gpu.FormatCapStorable != 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tex
}

func yuv420Frame(t *testing.T, g *gputest.GPU, w, h int) *video.Frame {
	t.Helper()
	return &video.Frame{
		Planes: []video.Plane{
			{Texture: makeTexture(t, g, w, h, findFormat(t, g, "r8")), Components: 1,
				ComponentMapping: [4]video.Channel{video.ChannelY, video.ChannelNone, video.ChannelNone, video.ChannelNone}},
			{Texture: makeTexture(t, g, w/2, h/2, findFormat(t, g, "rg8")), Components: 2,
				ComponentMapping: [4]video.Channel{video.ChannelCb, video.ChannelCr, video.ChannelNone, video.ChannelNone}},
		},
		Repr: video.ColorRepr{
			Sys:    video.ColorSystemBT709,
			Levels: video.ColorLevelsLimited,
			Bits:   video.BitEncoding{SampleDepth: 8, ColorDepth: 8},
		},
		Color: video.ColorSpace{
			Primaries: video.PrimariesBT709,
			Transfer:  video.TransferBT1886,
		},
		Crop: gpu.RectF{X1: float32(w), Y1: float32(h)},
	}
}

func rgbFrame(t *testing.T, g *gputest.GPU, w, h int, format *gpu.Format,
	color video.ColorSpace) *video.Frame {
	t.Helper()
	return &video.Frame{
		Planes: []video.Plane{{
			Texture:          makeTexture(t, g, w, h, format),
			Components:       format.NumComponents,
			ComponentMapping: [4]video.Channel{0, 1, 2, 3},
		}},
		Repr: video.ColorRepr{
			Sys:    video.ColorSystemRGB,
			Levels: video.ColorLevelsFull,
		},
		Color: color,
		Crop:  gpu.RectF{X1: float32(w), Y1: float32(h)},
	}
}

func simpleParams() *Params {
	p := Params{
		Upscaler:   shader.FilterBilinear,
		Downscaler: shader.FilterBicubic,
		FrameMixer: OversampleMixer,
		LUTEntries: 64,
	}
	return &p
}

func TestRenderYUV420Downscale(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	src := yuv420Frame(t, g, 1920, 1080)
	dst := rgbFrame(t, g, 1280, 720, findFormat(t, g, "rgba8"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB})

	if err := rr.RenderImage(src, dst, simpleParams()); err != nil {
		t.Fatalf("RenderImage: %v", err)
	}

	// Plane combine, two separable downscale passes and the final
	// color convert + encode: all distinct pipelines
	if n := g.PassesCreated.Load(); n < 3 || n > 6 {
		t.Errorf("passes created = %d, want 3..6", n)
	}
	if g.PassRuns.Load() < 3 {
		t.Errorf("pass runs = %d, want >= 3", g.PassRuns.Load())
	}

	// A second identical render reuses every compiled pass
	created := g.PassesCreated.Load()
	if err := rr.RenderImage(src, dst, simpleParams()); err != nil {
		t.Fatalf("second RenderImage: %v", err)
	}
	if g.PassesCreated.Load() != created {
		t.Errorf("second render compiled %d new passes",
			g.PassesCreated.Load()-created)
	}
}

func TestRenderNoopIsDirect(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	format := findFormat(t, g, "rgba8")
	color := video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB}
	src := rgbFrame(t, g, 640, 480, format, color)
	dst := rgbFrame(t, g, 640, 480, format, color)

	if err := rr.RenderImage(src, dst, simpleParams()); err != nil {
		t.Fatalf("RenderImage: %v", err)
	}

	// Identity transform: the main scaler is skipped, a single pass
	// samples the source into the target
	if n := g.PassRuns.Load(); n != 1 {
		t.Errorf("pass runs = %d, want 1 for a no-op render", n)
	}
}

func TestRenderHDRPeakDetect(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	src := rgbFrame(t, g, 3840, 2160, findFormat(t, g, "rgba16f"),
		video.ColorSpace{Primaries: video.PrimariesBT2020, Transfer: video.TransferPQ})
	src.Repr.Bits = video.BitEncoding{SampleDepth: 16, ColorDepth: 16}
	dst := rgbFrame(t, g, 1920, 1080, findFormat(t, g, "rgb10a2"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferBT1886})

	params := simpleParams()
	params.PeakDetect = &shader.DefaultPeakDetectParams
	params.ColorMap = &shader.DefaultColorMapParams
	params.AllowDelayedPeakDetect = true

	if err := rr.RenderImage(src, dst, params); err != nil {
		t.Fatalf("RenderImage: %v", err)
	}

	if rr.peakDetectState == nil || rr.peakDetectState.Buf == nil {
		t.Error("peak detection state was not created for HDR tone mapping")
	}
	if rr.disablePeakDetect {
		t.Error("peak detection latched off")
	}

	// Rendering SDR content afterwards cleans the state up again
	sdr := rgbFrame(t, g, 640, 480, findFormat(t, g, "rgba8"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferBT1886})
	if err := rr.RenderImage(sdr, dst, params); err != nil {
		t.Fatalf("SDR RenderImage: %v", err)
	}
	if rr.peakDetectState != nil {
		t.Error("stale peak detection state survived an SDR frame")
	}
}

func TestRenderFlipped(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	format := findFormat(t, g, "rgba8")
	color := video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB}
	src := rgbFrame(t, g, 64, 64, format, color)
	dst := rgbFrame(t, g, 64, 64, format, color)
	// Vertically flipped target crop
	dst.Crop = gpu.RectF{X0: 0, Y0: 64, X1: 64, Y1: 0}

	if err := rr.RenderImage(src, dst, simpleParams()); err != nil {
		t.Fatalf("flipped RenderImage: %v", err)
	}
}

func TestFailureLatchesDegradeGracefully(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	src := yuv420Frame(t, g, 1920, 1080)
	dst := rgbFrame(t, g, 1280, 720, findFormat(t, g, "rgba8"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB})

	// Force the first intermediate texture allocation to fail: the
	// current call may fail, but the FBO latch must engage
	g.FailTextures = 1
	_ = rr.RenderImage(src, dst, simpleParams())
	if rr.fboFmt[4] != nil {
		t.Fatal("FBO format not latched off after allocation failure")
	}

	// Subsequent renders succeed with degraded output
	if err := rr.RenderImage(src, dst, simpleParams()); err != nil {
		t.Fatalf("degraded RenderImage failed: %v", err)
	}
	if rr.fboFmt[4] != nil {
		t.Error("latch did not persist")
	}
}

func TestDeviceLossSurfaced(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	format := findFormat(t, g, "rgba8")
	color := video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB}
	src := rgbFrame(t, g, 64, 64, format, color)
	dst := rgbFrame(t, g, 64, 64, format, color)

	if err := rr.RenderImage(src, dst, simpleParams()); err != nil {
		t.Fatalf("RenderImage: %v", err)
	}

	g.MarkFailed()
	if err := rr.RenderImage(src, dst, simpleParams()); err == nil {
		t.Error("device loss not surfaced on the next call")
	}
}

func TestRectInference(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	src := yuv420Frame(t, g, 1920, 1080)
	src.Crop = gpu.RectF{} // unset: infer from the reference texture
	dst := rgbFrame(t, g, 1280, 720, findFormat(t, g, "rgba8"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB})
	dst.Crop = gpu.RectF{}

	ps := &passState{rr: rr, image: *src, target: *dst}
	if err := ps.inferState(true); err != nil {
		t.Fatal(err)
	}
	if ps.image.Crop != (gpu.RectF{X1: 1920, Y1: 1080}) {
		t.Errorf("inferred source crop = %+v", ps.image.Crop)
	}
	if ps.dstRect != (gpu.Rect2D{X1: 1280, Y1: 720}) {
		t.Errorf("inferred dst rect = %+v", ps.dstRect)
	}
	if ps.srcRef != 0 {
		t.Errorf("source ref plane = %d", ps.srcRef)
	}
}

func TestRectAdjustProportional(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	src := yuv420Frame(t, g, 1920, 1080)
	dst := rgbFrame(t, g, 1280, 720, findFormat(t, g, "rgba8"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB})
	// Destination crop partially outside the target: it gets clipped,
	// and the source adjusts by the same proportion
	dst.Crop = gpu.RectF{X0: -640, Y0: 0, X1: 1280, Y1: 720}

	ps := &passState{rr: rr, image: *src, target: *dst}
	if err := ps.inferState(true); err != nil {
		t.Fatal(err)
	}
	if ps.dstRect.X0 != 0 || ps.dstRect.X1 != 1280 {
		t.Errorf("clipped dst = %+v", ps.dstRect)
	}
	// A third of the horizontal extent was clipped away on the left
	wantX0 := float32(1920.0 / 3)
	if ps.image.Crop.X0 < wantX0-1 || ps.image.Crop.X0 > wantX0+1 {
		t.Errorf("adjusted source crop X0 = %f, want ~%f", ps.image.Crop.X0, wantX0)
	}
}

func TestParamsHash(t *testing.T) {
	a := simpleParams()
	b := simpleParams()
	if a.hash() != b.hash() {
		t.Error("identical params hash differently")
	}

	// Sub-structs hash by value, not pointer identity
	b.Sigmoid = &shader.SigmoidParams{Center: 0.75, Slope: 6.5}
	c := simpleParams()
	c.Sigmoid = &shader.SigmoidParams{Center: 0.75, Slope: 6.5}
	if b.hash() != c.hash() {
		t.Error("equal-valued sub-structs hash differently")
	}
	if b.hash() == a.hash() {
		t.Error("added sub-struct did not change the hash")
	}

	d := simpleParams()
	d.Downscaler = shader.FilterMitchell
	if d.hash() == a.hash() {
		t.Error("changed filter did not change the hash")
	}

	// Hooks hash by identity
	h1 := &Hook{Stages: HookStageRGB}
	h2 := &Hook{Stages: HookStageRGB}
	e1, e2 := simpleParams(), simpleParams()
	e1.Hooks = []*Hook{h1}
	e2.Hooks = []*Hook{h2}
	if e1.hash() == e2.hash() {
		t.Error("distinct hooks with equal contents must hash differently")
	}
	e3 := simpleParams()
	e3.Hooks = []*Hook{h1}
	if e1.hash() != e3.hash() {
		t.Error("same hook identity hashed differently")
	}

	// LUTs hash by signature only
	f1, f2 := simpleParams(), simpleParams()
	f1.LUT = &video.LUT{Signature: 42, SizeR: 2, SizeG: 2, SizeB: 2}
	f2.LUT = &video.LUT{Signature: 42, SizeR: 64, SizeG: 64, SizeB: 64}
	if f1.hash() != f2.hash() {
		t.Error("LUTs with equal signatures must hash equally")
	}
}

func TestHookInvocation(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	var stages []HookStage
	hook := &Hook{
		Stages: HookStageRGB | HookStageOutput,
		Input:  HookSigColor,
		Hook: func(p *HookParams) HookResult {
			stages = append(stages, p.Stage)
			if p.Shader == nil {
				t.Error("color hook received no shader")
			}
			return HookResult{}
		},
	}

	format := findFormat(t, g, "rgba8")
	color := video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB}
	src := rgbFrame(t, g, 64, 64, format, color)
	dst := rgbFrame(t, g, 64, 64, format, color)

	params := simpleParams()
	params.Hooks = []*Hook{hook}
	if err := rr.RenderImage(src, dst, params); err != nil {
		t.Fatalf("RenderImage: %v", err)
	}

	if len(stages) != 2 || stages[0] != HookStageRGB || stages[1] != HookStageOutput {
		t.Errorf("hook stages = %v", stages)
	}
}

func TestHookResizeRejected(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	badTex := makeTexture(t, g, 13, 13, findFormat(t, g, "rgba8"))
	hook := &Hook{
		Stages: HookStageScaled, // not resizable
		Input:  HookSigColor,
		Hook: func(p *HookParams) HookResult {
			return HookResult{
				Output:     HookSigTex,
				Tex:        badTex,
				Rect:       gpu.RectF{X1: 13, Y1: 13},
				Components: 4,
			}
		},
	}

	src := yuv420Frame(t, g, 128, 128)
	dst := rgbFrame(t, g, 64, 64, findFormat(t, g, "rgba8"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB})

	params := simpleParams()
	params.Hooks = []*Hook{hook}
	_ = rr.RenderImage(src, dst, params)

	if !rr.disableHooks {
		t.Error("resizing a non-resizable stage did not latch hooks off")
	}
}
