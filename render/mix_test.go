package render

import (
	"testing"

	"github.com/gogpu/gv/gputest"
	"github.com/gogpu/gv/video"
)

func mixOf(t *testing.T, g *gputest.GPU, times []float32, vsync float32) *FrameMix {
	t.Helper()
	mix := &FrameMix{VsyncDuration: vsync}
	for i, pts := range times {
		mix.Frames = append(mix.Frames, yuv420Frame(t, g, 128, 128))
		mix.Signatures = append(mix.Signatures, uint64(1000+i))
		mix.Timestamps = append(mix.Timestamps, pts)
	}
	return mix
}

func mixTarget(t *testing.T, g *gputest.GPU) *video.Frame {
	t.Helper()
	return rgbFrame(t, g, 128, 128, findFormat(t, g, "rgba8"),
		video.ColorSpace{Primaries: video.PrimariesBT709, Transfer: video.TransferSRGB})
}

func cachedSignatures(rr *Renderer) map[uint64]bool {
	sigs := make(map[uint64]bool)
	for _, f := range rr.frames {
		sigs[f.signature] = true
	}
	return sigs
}

func TestOversampleWeights(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	// Visible intervals clipped to [0, 0.4]: the frame at t=0 covers
	// [0, 0.2], the one at t=0.2 covers [0.2, 0.4]. Everything earlier
	// has zero overlap and must not enter the cache.
	mix := mixOf(t, g, []float32{-0.5, -0.3, 0.0, 0.2}, 0.4)
	if err := rr.RenderMix(mix, mixTarget(t, g), simpleParams()); err != nil {
		t.Fatalf("RenderMix: %v", err)
	}

	sigs := cachedSignatures(rr)
	if len(sigs) != 2 || !sigs[1002] || !sigs[1003] {
		t.Errorf("cached signatures = %v, want {1002, 1003}", sigs)
	}
}

func TestMixerCacheGC(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	target := mixTarget(t, g)
	params := simpleParams()

	mix := mixOf(t, g, []float32{0.0, 0.5}, 1.0)
	if err := rr.RenderMix(mix, target, params); err != nil {
		t.Fatal(err)
	}
	if len(rr.frames) != 2 {
		t.Fatalf("cache size = %d, want 2", len(rr.frames))
	}

	// The next mix references only one previous signature; the other
	// entry is swept and its texture retired for reuse
	mix2 := mixOf(t, g, []float32{0.0, 0.5}, 1.0)
	mix2.Signatures[0] = 1001 // keep
	mix2.Signatures[1] = 2000 // new
	if err := rr.RenderMix(mix2, target, params); err != nil {
		t.Fatal(err)
	}

	sigs := cachedSignatures(rr)
	if len(sigs) != 2 || !sigs[1001] || !sigs[2000] {
		t.Errorf("cached signatures after GC = %v, want {1001, 2000}", sigs)
	}
	if len(rr.frameFBOs) == 0 {
		t.Error("evicted texture was not retired into the FBO pool")
	}
}

func TestMixerCacheReuse(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	target := mixTarget(t, g)
	params := simpleParams()
	mix := mixOf(t, g, []float32{0.0, 0.5}, 1.0)

	if err := rr.RenderMix(mix, target, params); err != nil {
		t.Fatal(err)
	}
	runsAfterFirst := g.PassRuns.Load()

	// Identical second mix: both cached frames are reused, so only the
	// composite + output passes run
	if err := rr.RenderMix(mix, target, params); err != nil {
		t.Fatal(err)
	}
	delta := g.PassRuns.Load() - runsAfterFirst
	if delta >= runsAfterFirst {
		t.Errorf("second mix ran %d passes, expected cache reuse", delta)
	}
}

func TestMixerParamsChangeInvalidatesCache(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	target := mixTarget(t, g)
	mix := mixOf(t, g, []float32{0.0, 0.5}, 1.0)

	p1 := simpleParams()
	if err := rr.RenderMix(mix, target, p1); err != nil {
		t.Fatal(err)
	}
	hash1 := rr.frames[0].paramsHash

	p2 := simpleParams()
	p2.Downscaler = nil
	if err := rr.RenderMix(mix, target, p2); err != nil {
		t.Fatal(err)
	}
	if rr.frames[0].paramsHash == hash1 {
		t.Error("cache entries were not repopulated after a params change")
	}
}

func TestMixerPreserveCacheOverridesHash(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	target := mixTarget(t, g)
	mix := mixOf(t, g, []float32{0.0, 0.5}, 1.0)

	p1 := simpleParams()
	if err := rr.RenderMix(mix, target, p1); err != nil {
		t.Fatal(err)
	}
	hash1 := rr.frames[0].paramsHash

	p2 := simpleParams()
	p2.Downscaler = nil
	p2.PreserveMixingCache = true
	if err := rr.RenderMix(mix, target, p2); err != nil {
		t.Fatal(err)
	}
	// The stale entries are knowingly kept
	if rr.frames[0].paramsHash != hash1 {
		t.Error("PreserveMixingCache did not keep the stale entries")
	}
}

func TestMixerKernelRadius(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	params := simpleParams()
	params.FrameMixer = MixerPresets[2].Config // mitchell_clamp, radius 2

	// Frames beyond the filter radius contribute nothing
	mix := mixOf(t, g, []float32{-3.0, -0.5, 0.0, 3.0}, 1.0)
	if err := rr.RenderMix(mix, mixTarget(t, g), params); err != nil {
		t.Fatal(err)
	}
	sigs := cachedSignatures(rr)
	if sigs[1000] || sigs[1003] {
		t.Errorf("frames outside the filter radius entered the cache: %v", sigs)
	}
	if !sigs[1001] || !sigs[1002] {
		t.Errorf("frames inside the filter radius missing: %v", sigs)
	}
}

func TestMixerEmptyInput(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	mix := &FrameMix{}
	if err := rr.RenderMix(mix, mixTarget(t, g), simpleParams()); err == nil {
		t.Error("empty mix accepted")
	}
}

func TestMixerNonMonotonicRejected(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	mix := mixOf(t, g, []float32{0.5, 0.0}, 1.0)
	if err := rr.RenderMix(mix, mixTarget(t, g), simpleParams()); err == nil {
		t.Error("non-monotonic timestamps accepted")
	}
}

func TestMixerDisabledFallsBack(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	params := simpleParams()
	params.FrameMixer = nil

	mix := mixOf(t, g, []float32{0.0, 0.5}, 1.0)
	if err := rr.RenderMix(mix, mixTarget(t, g), params); err != nil {
		t.Fatalf("fallback render failed: %v", err)
	}
	if len(rr.frames) != 0 {
		t.Error("fallback path populated the frame cache")
	}
}
