package render

import (
	"fmt"
	"math"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

// maxMixFrames bounds the number of frames considered per mix call.
const maxMixFrames = 16

// negligibleWeight is the cutoff below which a frame's contribution is
// dropped entirely.
const negligibleWeight = 1e-3

// FrameMix is a time-indexed bundle of input frames for mixing.
// Timestamps are expressed in vsync units relative to the current
// output moment (negative = past, positive = future) and must be
// monotonically non-decreasing.
type FrameMix struct {
	Frames     []*video.Frame
	Signatures []uint64
	Timestamps []float32

	// VsyncDuration is the estimated display vsync duration, in the
	// same units as the timestamps.
	VsyncDuration float32
}

// current returns the frame that would be visible right now on an
// idealized zero-order-hold display.
func (mix *FrameMix) current() *video.Frame {
	cur := mix.Frames[0]
	for i := 1; i < len(mix.Frames); i++ {
		if mix.Timestamps[i] <= 0 {
			cur = mix.Frames[i]
		}
	}
	return cur
}

// RenderMix renders a mix of frames onto the target for temporal
// interpolation / frame blending. Cached intermediates are reused
// where the signatures and parameters allow; on any failure the call
// degrades to single-frame rendering of the current frame and latches
// mixing off.
func (rr *Renderer) RenderMix(mix *FrameMix, target *video.Frame, params *Params) error {
	if rr.gpu.IsFailed() {
		return fmt.Errorf("render: GPU is in a failed state")
	}
	if params == nil {
		params = &DefaultParams
	}
	paramsHash := params.hash()

	if len(mix.Frames) < 1 {
		return fmt.Errorf("render: empty frame mix")
	}
	for i := 0; i < len(mix.Frames)-1; i++ {
		if mix.Timestamps[i] > mix.Timestamps[i+1] {
			return fmt.Errorf("render: frame mix timestamps not monotonic")
		}
	}

	ps := &passState{
		rr:     rr,
		image:  *mix.current(),
		target: *target,
	}

	if params.FrameMixer == nil || rr.disableMixing || rr.fboFormat(4, params) == nil {
		return rr.RenderImage(&ps.image, target, params)
	}

	if err := ps.inferState(false); err != nil {
		return err
	}

	outW := iabs(ps.dstRect.W())
	outH := iabs(ps.dstRect.H())

	// The color space to mix in: the current frame's, but decoded to
	// full-range RGB with premultiplied alpha.
	mixColor := ps.image.Color
	mixRepr := video.ColorRepr{
		Sys:    video.ColorSystemRGB,
		Levels: video.ColorLevelsFull,
		Alpha:  video.AlphaPremultiplied,
	}

	var frames [maxMixFrames]cachedFrame
	var weights [maxMixFrames]float32
	fidx := 0
	wsum := float32(0)

	// Mark the whole cache for eviction; entries referenced by this
	// mix clear their mark below.
	for i := range rr.frames {
		rr.frames[i].evict = true
	}

	ok := func() bool {
		for i := range mix.Frames {
			sig := mix.Signatures[i]
			pts := mix.Timestamps[i]
			rr.log.Debug("considering frame", "signature", sig, "pts", pts)

			var weight float32
			if params.FrameMixer.Kernel != nil {
				radius := float32(params.FrameMixer.Radius())
				if absf(pts) >= radius {
					rr.log.Debug("skipping frame: outside filter radius",
						"radius", radius)
					continue
				}
				weight = float32(params.FrameMixer.Sample(float64(pts)))
			} else {
				// Oversampling: weight is the fraction of the vsync
				// interval the frame is visible for
				end := float32(math.Inf(1))
				if i+1 < len(mix.Frames) {
					end = mix.Timestamps[i+1]
				}
				if pts > mix.VsyncDuration || end < 0 {
					rr.log.Debug("skipping frame: no intersection with vsync")
					continue
				}
				pts = maxf(pts, 0)
				end = minf(end, mix.VsyncDuration)
				weight = (end - pts) / mix.VsyncDuration
			}

			var f *cachedFrame
			for j := range rr.frames {
				if rr.frames[j].signature == sig {
					f = &rr.frames[j]
					f.evict = false
					break
				}
			}

			// Negligible contributions are dropped, but only after the
			// eviction mark was cleared above.
			if absf(weight) <= negligibleWeight {
				rr.log.Debug("skipping frame: weight below threshold",
					"weight", weight)
				continue
			}

			if f == nil {
				rr.frames = append(rr.frames, cachedFrame{
					signature: sig,
					color:     mix.Frames[i].Color,
					profile:   mix.Frames[i].Profile,
				})
				f = &rr.frames[len(rr.frames)-1]
			}

			// Blind reuse is allowed when the parameters match, or when
			// the caller asked for it outright
			canReuse := f.tex != nil
			if canReuse && !params.PreserveMixingCache {
				tp := f.tex.Params()
				canReuse = tp.W == outW && tp.H == outH &&
					f.paramsHash == paramsHash
			}

			if !canReuse {
				rr.log.Debug("cached texture missing or invalid, (re)creating",
					"signature", sig)
				if f.tex == nil && len(rr.frameFBOs) > 0 {
					f.tex = rr.frameFBOs[len(rr.frameFBOs)-1]
					rr.frameFBOs = rr.frameFBOs[:len(rr.frameFBOs)-1]
					f.tex.Invalidate()
				}
				err := gpu.Recreate(rr.gpu, &f.tex, &gpu.TextureParams{
					W:          outW,
					H:          outH,
					Format:     rr.fboFmt[4],
					Sampleable: true,
					Renderable: true,
					Storable:   rr.fboFmt[4].Caps&gpu.FormatCapStorable != 0,
				})
				if err != nil {
					rr.log.Error("could not create intermediate texture for "+
						"frame mixing, disabling", "err", err)
					rr.disableMixing = true
					return false
				}

				// Cache entries store RGB images in their native color
				// space: that avoids precision loss from color space
				// round trips. The ICC profile is stripped; profile
				// conversion happens only on the final output pass.
				image := *mix.Frames[i]
				image.Profile = video.ICCProfile{}

				interTarget := video.Frame{
					Planes: []video.Plane{{
						Texture:          f.tex,
						Components:       rr.fboFmt[4].NumComponents,
						ComponentMapping: [4]video.Channel{0, 1, 2, 3},
					}},
					Color: f.color,
					Repr:  mixRepr,
				}

				if err := rr.RenderImage(&image, &interTarget, params); err != nil {
					rr.log.Error("could not render image for frame mixing, disabling",
						"err", err)
					rr.disableMixing = true
					return false
				}
				f.paramsHash = paramsHash
			}

			if fidx == maxMixFrames {
				rr.log.Warn("too many frames in mix, dropping the rest")
				break
			}
			frames[fidx] = *f
			weights[fidx] = weight
			wsum += weight
			fidx++
		}
		return true
	}()

	// Evict the entries this mix did not reference
	for i := 0; i < len(rr.frames); {
		if rr.frames[i].evict {
			rr.log.Debug("evicting frame from cache",
				"signature", rr.frames[i].signature)
			if rr.frames[i].tex != nil {
				rr.frameFBOs = append(rr.frameFBOs, rr.frames[i].tex)
			}
			rr.frames = append(rr.frames[:i], rr.frames[i+1:]...)
			continue
		}
		i++
	}

	if !ok {
		return rr.RenderImage(&ps.image, target, params)
	}

	// Sample and mix the output color
	sh := rr.dp.Begin()
	sh.SetOutput(shader.SigColor)
	sh.RequireOutputSize(outW, outH)

	sh.GLSL("// frame mixing\n" +
		"{\n" +
		"vec4 mix_color = vec4(0.0);\n")

	for i := 0; i < fidx; i++ {
		tp := frames[i].tex.Params()

		// Linear sampling when the sizes differ and the format allows
		sampleMode := gpu.SampleNearest
		if (tp.W != outW || tp.H != outH) &&
			tp.Format.Caps&gpu.FormatCapLinear != 0 {
			sampleMode = gpu.SampleLinear
		}

		tex, pos := sh.Bind(frames[i].tex, gpu.AddressClamp, sampleMode,
			"frame", gpu.RectF{})
		sh.GLSL("color = texture(%s, %s);\n", tex, pos)

		// Differences in ICC profiles between cached frames are
		// ignored here; converting between profiles per input frame is
		// not worth the state it would take.
		sh.ColorMap(nil, frames[i].color, mixColor, nil, false)

		weight := sh.AddVar(shader.Var{
			Var:     gpu.VarFloat1("weight"),
			Data:    shader.F32Bytes(weights[i] / wsum),
			Dynamic: true,
		})
		sh.GLSL("mix_color += %s * color;\n", weight)
	}

	sh.GLSL("color = mix_color;\n" +
		"}\n")

	ps.fbosUsed = make([]bool, len(rr.fbos))
	ps.img = img{
		sh:    sh,
		w:     outW,
		h:     outH,
		comps: 4,
		color: mixColor,
		repr:  mixRepr,
		rect:  gpu.RectF{X1: float32(outW), Y1: float32(outH)},
	}

	if err := ps.outputTarget(params); err != nil {
		rr.disableMixing = true
		return rr.RenderImage(&ps.image, target, params)
	}
	return nil
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
