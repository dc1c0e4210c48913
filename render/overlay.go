package render

import (
	"github.com/gogpu/gv/dispatch"
	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

// overlayTransform maps overlay rects from frame pixel space into the
// space of the texture being drawn on.
type overlayTransform struct {
	sx, sy float32
	ox, oy float32
}

var identityTransform = overlayTransform{sx: 1, sy: 1}

func (t *overlayTransform) apply(x, y float32) (float32, float32) {
	return t.sx*x + t.ox, t.sy*y + t.oy
}

// drawOverlays composites the given overlays onto fbo, converting each
// overlay's colors into the destination color space and blending with
// the alpha-overlay blend mode.
func (ps *passState) drawOverlays(fbo gpu.Texture, comps int,
	compMap *[4]video.Channel, overlays []video.Overlay,
	color video.ColorSpace, repr video.ColorRepr,
	useSigmoid bool, tf *overlayTransform, params *Params) {

	rr := ps.rr
	if len(overlays) == 0 || rr.disableOverlay {
		return
	}

	caps := fbo.Params().Format.Caps
	if !rr.disableBlending && caps&gpu.FormatCapBlendable == 0 {
		rr.log.Warn("drawing overlay to a non-blendable target; " +
			"alpha blending disabled, results may be incorrect")
		rr.disableBlending = true
	}

	for len(rr.samplersOSD) < len(overlays) {
		rr.samplersOSD = append(rr.samplersOSD, sampler{})
	}

	for n := range overlays {
		ol := &overlays[n]
		plane := &ol.Plane
		tex := plane.Texture

		x0, y0 := tf.apply(float32(ol.Rect.X0), float32(ol.Rect.Y0))
		x1, y1 := tf.apply(float32(ol.Rect.X1), float32(ol.Rect.Y1))
		rect := gpu.Rect2D{X0: int(x0), Y0: int(y0), X1: int(x1), Y1: int(y1)}

		comps2 := plane.Components
		if ol.Mode == video.OverlayMonochrome {
			comps2 = 1
		}
		tp := tex.Params()
		src := shader.SampleSrc{
			Tex:        tex,
			Components: comps2,
			NewW:       iabs(rect.W()),
			NewH:       iabs(rect.H()),
			Rect: gpu.RectF{
				X0: -plane.ShiftX,
				Y0: -plane.ShiftY,
				X1: float32(tp.W) - plane.ShiftX,
				Y1: float32(tp.H) - plane.ShiftY,
			},
		}

		smp := &rr.samplersOSD[n]
		if params.DisableOverlaySampling {
			smp = nil
		}

		sh := rr.dp.Begin()
		ps.dispatchSampler(sh, smp, !fbo.Params().Storable, params, &src)

		sh.GLSL("vec4 osd_color = vec4(0.0, 0.0, 0.0, 1.0);\n")
		for c := 0; c < src.Components; c++ {
			if plane.ComponentMapping[c] == video.ChannelNone {
				continue
			}
			sh.GLSL("osd_color[%d] = color[%d];\n", plane.ComponentMapping[c], c)
		}

		switch ol.Mode {
		case video.OverlayNormal:
			sh.GLSL("color = osd_color;\n")
		case video.OverlayMonochrome:
			base := sh.AddVar(shader.Var{
				Var:     gpu.VarVec3("base_color"),
				Data:    shader.F32Bytes(ol.BaseColor[0], ol.BaseColor[1], ol.BaseColor[2]),
				Dynamic: true,
			})
			sh.GLSL("color.a = osd_color[0];\n")
			sh.GLSL("color.rgb = %s;\n", base)
		}

		olRepr := ol.Repr
		sh.DecodeColor(&olRepr, nil)
		sh.ColorMap(params.ColorMap, ol.Color, color, nil, false)

		if useSigmoid {
			sh.Sigmoidize(params.Sigmoid)
		}

		sh.EncodeColor(&repr)
		if compMap != nil {
			swizzleColor(sh, comps, *compMap, true)
		}

		var blend *gpu.BlendParams
		if !rr.disableBlending {
			blend = gpu.AlphaOverlay
		}
		err := rr.dp.Finish(&dispatch.Params{
			Shader: sh,
			Target: fbo,
			Rect:   rect,
			Blend:  blend,
		})
		if err != nil {
			rr.log.Error("failed rendering overlay texture", "err", err)
			rr.disableOverlay = true
			return
		}
	}
}
