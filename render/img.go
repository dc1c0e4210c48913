package render

import (
	"github.com/gogpu/gv/dispatch"
	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

// img is an in-flight image: either a shader in the process of
// producing a color, or a texture to be sampled from. Exactly one of
// sh/tex is set.
type img struct {
	// Effective logical size, always set.
	w, h int

	// Recommended materialization format; falls back to the pool
	// format. Only meaningful while sh is set.
	fmt *gpu.Format

	sh  *shader.Shader
	tex gpu.Texture

	// Current effective source area, sampled by the main scaler.
	rect gpu.RectF

	repr  video.ColorRepr
	color video.ColorSpace
	comps int
}

// passState is the per-call scratch of the planner.
type passState struct {
	rr *Renderer

	// The current image, initialized by readImage and mutated in
	// place by all subsequent stages.
	img img

	// refRect tracks the crop of the reference plane as it evolves.
	refRect gpu.RectF

	// dstRect is the integer version of target.Crop.
	dstRect gpu.Rect2D

	// Corrected copies of the frames, with all rects and color
	// metadata defaulted/inferred.
	image  video.Frame
	target video.Frame

	srcType [4]video.PlaneType
	dstType [4]video.PlaneType
	srcRef  int
	dstRef  int

	// fbosUsed marks pool textures claimed by this call.
	fbosUsed []bool
}

// getFBO selects (or creates) a pool texture of at least roughly the
// requested shape: the unused entry minimizing the orthogonal size
// difference, with a large penalty for format mismatches, recreated in
// place to the exact parameters.
func (ps *passState) getFBO(w, h int, format *gpu.Format, comps int) gpu.Texture {
	rr := ps.rr
	if comps == 0 {
		comps = 4
	}
	if format == nil {
		format = rr.fboFmt[comps]
	}
	if format == nil {
		return nil
	}

	params := gpu.TextureParams{
		W:          w,
		H:          h,
		Format:     format,
		Sampleable: true,
		Renderable: true,
		Storable:   format.Caps&gpu.FormatCapStorable != 0,
	}

	bestIdx := -1
	bestDiff := 0
	for i, tex := range rr.fbos {
		if ps.fbosUsed[i] || tex == nil {
			continue
		}
		tp := tex.Params()
		diff := iabs(tp.W-w) + iabs(tp.H-h)
		if tp.Format != format {
			diff += 1000
		}
		if bestIdx < 0 || diff < bestDiff {
			bestIdx = i
			bestDiff = diff
		}
	}

	if bestIdx < 0 {
		bestIdx = len(rr.fbos)
		rr.fbos = append(rr.fbos, nil)
		ps.fbosUsed = append(ps.fbosUsed, false)
	}

	if err := gpu.Recreate(rr.gpu, &rr.fbos[bestIdx], &params); err != nil {
		rr.log.Error("failed creating FBO texture", "err", err)
		return nil
	}

	ps.fbosUsed[bestIdx] = true
	return rr.fbos[bestIdx]
}

// imgTex materializes im into a texture, dispatching the pending
// shader into a pool texture if necessary. If no pool texture can be
// allocated, the pool is disabled for the renderer's remaining
// lifetime; if only the dispatch fails, nil is returned and im is left
// holding a fresh empty shader.
func (ps *passState) imgTex(im *img) gpu.Texture {
	if im.tex != nil {
		return im.tex
	}

	rr := ps.rr
	tex := ps.getFBO(im.w, im.h, im.fmt, im.comps)
	im.fmt = nil

	if tex == nil {
		rr.log.Error("failed creating FBO texture, disabling advanced rendering")
		rr.fboFmt = [5]*gpu.Format{}
		rr.dp.Abort(im.sh)
		im.sh = nil
		return nil
	}

	err := rr.dp.Finish(&dispatch.Params{
		Shader: im.sh,
		Target: tex,
	})
	im.sh = nil
	if err != nil {
		rr.log.Error("failed dispatching intermediate pass", "err", err)
		im.sh = rr.dp.Begin()
		return nil
	}

	im.tex = tex
	return tex
}

// imgSh converts im into a shader, beginning a direct sampling shader
// if it currently holds a texture.
func (ps *passState) imgSh(im *img) *shader.Shader {
	if im.sh != nil {
		return im.sh
	}

	im.sh = ps.rr.dp.Begin()
	im.sh.SampleDirect(&shader.SampleSrc{Tex: im.tex})
	im.tex = nil
	return im.sh
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
