package render

import (
	"fmt"

	"github.com/gogpu/gv/dispatch"
	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

// planeHookStages maps plane types to their input hook stage.
func planeHookStage(t video.PlaneType) HookStage {
	switch t {
	case video.PlaneAlpha:
		return HookStageAlphaInput
	case video.PlaneChroma:
		return HookStageChromaInput
	case video.PlaneLuma:
		return HookStageLumaInput
	case video.PlaneRGB:
		return HookStageRGBInput
	case video.PlaneXYZ:
		return HookStageXYZInput
	}
	return 0
}

// RenderImage renders a single source frame onto a target frame
// according to params. A nil params renders with DefaultParams.
func (rr *Renderer) RenderImage(image, target *video.Frame, params *Params) error {
	if rr.gpu.IsFailed() {
		return fmt.Errorf("render: GPU is in a failed state")
	}
	if params == nil {
		params = &DefaultParams
	}

	ps := &passState{
		rr:     rr,
		image:  *image,
		target: *target,
	}

	if err := ps.inferState(true); err != nil {
		return err
	}

	ps.fbosUsed = make([]bool, len(rr.fbos))
	rr.dp.ResetFrame()

	for _, hook := range params.Hooks {
		if hook.Reset != nil {
			hook.Reset()
		}
	}

	if err := ps.readImage(params); err != nil {
		return ps.fail(err)
	}
	if err := ps.scaleMain(params); err != nil {
		return ps.fail(err)
	}
	if err := ps.outputTarget(params); err != nil {
		return ps.fail(err)
	}
	return nil
}

func (ps *passState) fail(err error) error {
	if ps.img.sh != nil {
		ps.rr.dp.Abort(ps.img.sh)
		ps.img.sh = nil
	}
	ps.rr.log.Error("failed rendering image", "err", err)
	return err
}

// inferState validates the frames and fills in all inferable metadata:
// plane types, reference planes, crop rects, color space details.
func (ps *passState) inferState(adjustRects bool) error {
	image, target := &ps.image, &ps.target

	if err := image.Validate(false); err != nil {
		ps.rr.log.Error("invalid source frame", "err", err)
		return err
	}
	if err := target.Validate(true); err != nil {
		ps.rr.log.Error("invalid target frame", "err", err)
		return err
	}

	ps.fixRefsAndRects(adjustRects)
	fixColorSpace(&ps.image)

	// Infer the target color space from the image's
	if target.Color.Primaries == video.PrimariesUnknown {
		target.Color.Primaries = image.Color.Primaries
	}
	if target.Color.Transfer == video.TransferUnknown {
		target.Color.Transfer = image.Color.Transfer
	}
	fixColorSpace(target)
	return nil
}

// fixRefsAndRects detects the plane types, picks the reference planes
// and normalizes the crop rects: flips are remembered, the destination
// is rounded and clipped, and the source rect is adjusted by the same
// proportions so the rendered subregion is preserved.
func (ps *passState) fixRefsAndRects(adjustRects bool) {
	image, target := &ps.image, &ps.target

	for i := range image.Planes {
		ps.srcType[i] = video.DetectPlaneType(&image.Planes[i], &image.Repr)
		if ps.srcType[i].IsRef() {
			ps.srcRef = i
		}
	}
	for i := range target.Planes {
		ps.dstType[i] = video.DetectPlaneType(&target.Planes[i], &target.Repr)
		if ps.dstType[i].IsRef() {
			ps.dstRef = i
		}
	}

	src, dst := &image.Crop, &target.Crop
	srcRef := image.Planes[ps.srcRef].Texture.Params()
	dstRef := target.Planes[ps.dstRef].Texture.Params()

	if (src.X0 == 0 && src.X1 == 0) || (src.Y0 == 0 && src.Y1 == 0) {
		src.X1 = float32(srcRef.W)
		src.Y1 = float32(srcRef.H)
	}
	if (dst.X0 == 0 && dst.X1 == 0) || (dst.Y0 == 0 && dst.Y1 == 0) {
		dst.X1 = float32(dstRef.W)
		dst.Y1 = float32(dstRef.H)
	}

	if adjustRects {
		// Remember whether the end-to-end rendering is flipped
		flippedX := (src.X0 > src.X1) != (dst.X0 > dst.X1)
		flippedY := (src.Y0 > src.Y1) != (dst.Y0 > dst.Y1)

		*src = src.Normalized()
		*dst = dst.Normalized()

		// Round the output rect and clip it to the target
		rx0 := roundf(maxf(dst.X0, 0))
		ry0 := roundf(maxf(dst.Y0, 0))
		rx1 := roundf(minf(dst.X1, float32(dstRef.W)))
		ry1 := roundf(minf(dst.Y1, float32(dstRef.H)))

		// Adjust the source rect by the same proportions
		scaleX := src.W() / dst.W()
		scaleY := src.H() / dst.H()
		baseX, baseY := src.X0, src.Y0
		src.X0 = baseX + (rx0-dst.X0)*scaleX
		src.X1 = baseX + (rx1-dst.X0)*scaleX
		src.Y0 = baseY + (ry0-dst.Y0)*scaleY
		src.Y1 = baseY + (ry1-dst.Y0)*scaleY

		// Reapply the flip to the destination; doing it there (rather
		// than in the source) keeps polar compute samplers working
		*dst = gpu.RectF{X0: rx0, Y0: ry0, X1: rx1, Y1: ry1}
		if flippedX {
			dst.X0, dst.X1 = dst.X1, dst.X0
		}
		if flippedY {
			dst.Y0, dst.Y1 = dst.Y1, dst.Y0
		}
	}

	ps.refRect = *src
	ps.dstRect = gpu.Rect2D{
		X0: int(dst.X0), Y0: int(dst.Y0),
		X1: int(dst.X1), Y1: int(dst.Y1),
	}
}

// fixColorSpace infers missing color metadata: primaries from the
// resolution, the sample depth from UNORM texture formats.
func fixColorSpace(frame *video.Frame) {
	tex := frame.RefTexture()

	if frame.Color.Primaries == video.PrimariesUnknown {
		frame.Color.Primaries = video.GuessPrimaries(tex.Params().W, tex.Params().H)
	}
	frame.Color.Infer()

	// The sampled depth is only inferable for UNORM formats; other
	// types need explicit caller-provided details.
	bits := &frame.Repr.Bits
	format := tex.Params().Format
	if bits.SampleDepth == 0 && format.Type == gpu.FormatTypeUNORM {
		// The first component's depth is canonical; every format has
		// at least one component
		bits.SampleDepth = format.ComponentDepth[0]

		if bits.ColorDepth == 0 {
			bits.ColorDepth = bits.SampleDepth
		}
		if bits.ColorDepth > bits.SampleDepth {
			bits.ColorDepth = bits.SampleDepth
		}
		bits.BitShift += bits.SampleDepth - bits.ColorDepth
	}
}

// planeState tracks one source plane through preprocessing.
type planeState struct {
	typ   video.PlaneType
	plane video.Plane
	img   img
}

// mergeFmt finds a format able to hold the merged channels of two
// plane images, at their common sample depth and capability set.
func (rr *Renderer) mergeFmt(a, b *img) *gpu.Format {
	fmta := a.fmt
	if a.tex != nil {
		fmta = a.tex.Params().Format
	}
	fmtb := b.tex.Params().Format
	if fmta == nil || fmta.Type != fmtb.Type {
		return nil
	}

	numComps := min(4, a.comps+b.comps)
	minDepth := max(a.repr.Bits.SampleDepth, b.repr.Bits.SampleDepth)

	const mask = gpu.FormatCapSampleable | gpu.FormatCapLinear
	reqCaps := (fmta.Caps & mask) | (fmtb.Caps & mask)
	return gpu.FindFormat(rr.gpu, fmta.Type, numComps, minDepth, reqCaps)
}

// wantMerge decides whether merging planes is expected to pay off:
// only when a nontrivial per-plane operation would otherwise run once
// per plane.
func (ps *passState) wantMerge(st, ref *planeState, params *Params) bool {
	rr := ps.rr
	if rr.fboFmt[4] == nil {
		return false
	}

	// Debanding
	if !rr.disableDebanding && params.Deband != nil {
		return true
	}

	// Plane hooks, generally nontrivial
	stage := planeHookStage(st.typ)
	for _, hook := range params.Hooks {
		if hook.Stages&stage != 0 {
			return true
		}
	}

	// Nontrivial scaling
	src := shader.SampleSrc{
		NewW: ref.img.w,
		NewH: ref.img.h,
		Rect: gpu.RectF{X1: float32(st.img.w), Y1: float32(st.img.h)},
	}
	if rr.sampleSrcInfo(&src, params).typ == samplerComplex {
		return true
	}

	// Film grain synthesis shares its grain textures across merged
	// channels
	grainParams := shader.FilmGrainParams{
		Data:             ps.image.FilmGrain,
		Repr:             &st.img.repr,
		Components:       st.plane.Components,
		ComponentMapping: st.plane.ComponentMapping,
	}
	if !rr.disableGrain && shader.NeedsFilmGrain(&grainParams) {
		return true
	}

	return false
}

// planeFilmGrain applies AV1 film grain synthesis to one plane.
// Returns whether grain was applied.
func (ps *passState) planeFilmGrain(planeIdx int, st, ref *planeState, params *Params) bool {
	rr := ps.rr
	if rr.disableGrain || ps.image.FilmGrain == nil {
		return false
	}

	grainParams := shader.FilmGrainParams{
		Data:             ps.image.FilmGrain,
		LumaTex:          ref.plane.Texture,
		Repr:             &st.img.repr,
		Components:       st.plane.Components,
		ComponentMapping: st.plane.ComponentMapping,
	}
	for c := 0; c < ref.plane.Components; c++ {
		if ref.plane.ComponentMapping[c] == video.ChannelY {
			grainParams.LumaComp = c
		}
	}

	if !shader.NeedsFilmGrain(&grainParams) {
		return false
	}

	if rr.fboFormat(st.plane.Components, params) == nil {
		rr.log.Error("film grain required but no renderable format available, disabling")
		rr.disableGrain = true
		return false
	}

	grainParams.Tex = ps.imgTex(&st.img)
	if grainParams.Tex == nil {
		return false
	}

	st.img.sh = rr.dp.BeginUnique()
	if !st.img.sh.FilmGrain(&rr.grainState[planeIdx], &grainParams) {
		rr.dp.Abort(st.img.sh)
		st.img.sh = nil
		st.img.tex = grainParams.Tex
		rr.disableGrain = true
		return false
	}

	st.img.tex = nil
	if ps.imgTex(&st.img) == nil {
		rr.log.Error("failed applying film grain, disabling")
		st.img.tex = grainParams.Tex
		rr.disableGrain = true
		return false
	}
	return true
}

// readImage scales and merges all source planes, applies the
// per-plane and input-conversion stages and initializes ps.img.
func (ps *passState) readImage(params *Params) error {
	rr := ps.rr
	image := &ps.image

	var planes [video.MaxPlanes]planeState
	ref := &planes[ps.srcRef]

	for i := range image.Planes {
		tp := image.Planes[i].Texture.Params()
		planes[i] = planeState{
			typ:   ps.srcType[i],
			plane: image.Planes[i],
			img: img{
				w:     tp.W,
				h:     tp.H,
				tex:   image.Planes[i].Texture,
				repr:  image.Repr,
				color: image.Color,
				comps: image.Planes[i].Components,
			},
		}
	}

	// The original reference texture, pre-merging
	refTex := ref.plane.Texture

	// Merge compatible planes into combined shaders
	for i := range image.Planes {
		sti := &planes[i]
		if sti.typ == video.PlaneInvalid {
			continue
		}
		if !ps.wantMerge(sti, ref, params) {
			continue
		}

		for j := i + 1; j < len(image.Planes); j++ {
			stj := &planes[j]
			merge := sti.typ == stj.typ &&
				sti.img.w == stj.img.w &&
				sti.img.h == stj.img.h &&
				sti.plane.ShiftX == stj.plane.ShiftX &&
				sti.plane.ShiftY == stj.plane.ShiftY
			if !merge {
				continue
			}

			format := rr.mergeFmt(&sti.img, &stj.img)
			if format == nil {
				continue
			}

			rr.log.Debug("merging planes", "from", j, "into", i)
			sh := sti.img.sh
			if sh == nil {
				sh = rr.dp.BeginUnique()
				sti.img.sh = sh
				sh.GLSL("vec4 tmp;\n")
				sh.SampleDirect(&shader.SampleSrc{Tex: sti.img.tex})
				sti.img.tex = nil
			}

			psh := rr.dp.BeginUnique()
			psh.SampleDirect(&shader.SampleSrc{Tex: stj.img.tex})

			sub := sh.Subpass(psh)
			rr.dp.Abort(psh)
			if sub == "" {
				break // cannot merge into this shader
			}

			sh.GLSL("tmp = %s();\n", sub)
			for jc := 0; jc < stj.img.comps; jc++ {
				mapping := stj.plane.ComponentMapping[jc]
				if mapping == video.ChannelNone {
					continue
				}
				ic := sti.img.comps
				sti.img.comps++
				sh.GLSL("color[%d] = tmp[%d];\n", ic, jc)
				sti.plane.Components = sti.img.comps
				sti.plane.ComponentMapping[ic] = mapping
			}

			sti.img.fmt = format
			*stj = planeState{}
		}

		if ps.imgTex(&sti.img) == nil {
			rr.log.Error("failed dispatching plane merging shader, disabling FBOs")
			rr.fboFmt = [5]*gpu.Format{}
			return fmt.Errorf("render: plane merging failed")
		}
	}

	// Compute each plane's sampling rect and run per-plane stages
	for i := range image.Planes {
		st := &planes[i]
		if st.typ == video.PlaneInvalid {
			continue
		}

		rtp := refTex.Params()
		ptp := st.plane.Texture.Params()
		rx := float32(rtp.W) / float32(ptp.W)
		ry := float32(rtp.H) / float32(ptp.H)

		// Only accept integer subsampling ratios; fractionally
		// subsampled planes are rounded up to the nearest integer size
		// and the remainder discarded
		rrx, rry := roundRatio(rx), roundRatio(ry)

		sx, sy := st.plane.ShiftX, st.plane.ShiftY
		st.img.rect = gpu.RectF{
			X0: (image.Crop.X0 - sx) / rrx,
			Y0: (image.Crop.Y0 - sy) / rry,
			X1: (image.Crop.X1 - sx) / rrx,
			Y1: (image.Crop.Y1 - sy) / rry,
		}

		rr.log.Debug("plane state", "plane", i, "type", st.typ.String(),
			"components", st.plane.Components,
			"depth", st.img.repr.Bits.ColorDepth)

		// Film grain first: it needs unmodified plane sizes, and it is
		// conceptually part of decoding
		if ps.planeFilmGrain(i, st, ref, params) {
			rr.log.Debug("applied film grain", "plane", i)
		}

		if ps.hook(&st.img, planeHookStage(st.typ), params) {
			rr.log.Debug("applied plane hooks", "plane", i)
		}

		// The conceptual size may have changed through plane shaders
		st.img.w = int(roundf(st.img.rect.W()))
		st.img.h = int(roundf(st.img.rect.H()))
	}

	sh := rr.dp.BeginUnique()
	sh.SetOutput(shader.SigColor)

	// Initialize the color to the neutral value for the color system
	neutral := "0.0, 0.0, 0.0"
	if image.Repr.Sys.IsYCbCrLike() {
		neutral = "0.0, 0.5, 0.5"
	}
	sh.GLSL("color = vec4(%s, 1.0);\n"+
		"// reading planes\n"+
		"{\n"+
		"vec4 tmp;\n", neutral)

	// Drop the subpixel offsets from the ref rect here and re-add them
	// in ps.img.rect, so every plane gets sampled on an integer grid.
	// Anamorphic subpixel mismatches are dropped too.
	offX := ref.img.rect.X0 - truncf(ref.img.rect.X0)
	offY := ref.img.rect.Y0 - truncf(ref.img.rect.Y0)
	stretchX := roundf(ref.img.rect.W()) / ref.img.rect.W()
	stretchY := roundf(ref.img.rect.H()) / ref.img.rect.H()

	hasAlpha := false
	for i := range image.Planes {
		st := &planes[i]
		plane := &st.plane
		if st.typ == video.PlaneInvalid {
			continue
		}

		scaleX := st.img.rect.W() / ref.img.rect.W()
		scaleY := st.img.rect.H() / ref.img.rect.H()
		baseX := st.img.rect.X0 - scaleX*offX
		baseY := st.img.rect.Y0 - scaleY*offY

		src := shader.SampleSrc{
			Tex:        st.img.tex,
			Components: plane.Components,
			Address:    plane.Address,
			Scale:      st.img.repr.Normalize(),
			NewW:       ref.img.w,
			NewH:       ref.img.h,
			Rect: gpu.RectF{
				X0: baseX,
				Y0: baseY,
				X1: baseX + stretchX*st.img.rect.W(),
				Y1: baseY + stretchY*st.img.rect.H(),
			},
		}

		psh := rr.dp.BeginUnique()
		if ps.debandSrc(psh, params, &src) != debandScaled {
			ps.dispatchSampler(psh, &rr.samplersSrc[i], false, params, &src)
		}

		sub := sh.Subpass(psh)
		if sub == "" {
			// Cannot merge the shaders; force FBO indirection instead
			interImg := img{
				sh:    psh,
				w:     ref.img.w,
				h:     ref.img.h,
				comps: src.Components,
			}
			interTex := ps.imgTex(&interImg)
			if interTex == nil {
				rr.log.Error("failed dispatching subpass for plane, " +
					"disabling all plane shaders")
				rr.disableSampling = true
				rr.disableDebanding = true
				rr.disableGrain = true
				rr.dp.Abort(sh)
				return fmt.Errorf("render: plane subpass failed")
			}

			psh = rr.dp.BeginUnique()
			psh.SampleDirect(&shader.SampleSrc{Tex: interTex})
			sub = sh.Subpass(psh)
		}

		sh.GLSL("tmp = %s();\n", sub)
		for c := 0; c < src.Components; c++ {
			mapping := plane.ComponentMapping[c]
			if mapping == video.ChannelNone {
				continue
			}
			sh.GLSL("color[%d] = tmp[%d];\n", mapping, c)
			hasAlpha = hasAlpha || mapping == video.ChannelA
		}

		rr.dp.Abort(psh)
	}

	sh.GLSL("}\n")

	comps := 3
	if hasAlpha {
		comps = 4
	}
	ps.img = img{
		sh:    sh,
		w:     ref.img.w,
		h:     ref.img.h,
		repr:  ref.img.repr,
		color: image.Color,
		comps: comps,
		rect: gpu.RectF{
			X0: offX,
			Y0: offY,
			X1: offX + ref.img.rect.W()/stretchX,
			Y1: offY + ref.img.rect.H()/stretchY,
		},
	}

	// Update the reference rect to the adjusted image coordinates
	ps.refRect = ps.img.rect

	ps.hook(&ps.img, HookStageNative, params)

	// Input LUT and colorspace conversion
	lutKind := video.GuessLUTKind(image, false)
	sh = ps.imgSh(&ps.img)
	needsConversion := true

	if lutKind == video.LUTNative || lutKind == video.LUTConversion {
		// Normalize the bit depth before applying the LUT
		if scale := ps.img.repr.Normalize(); scale != 1 {
			sh.GLSL("color *= vec4(%f);\n", scale)
		}
		sh.CustomLUT(image.LUT, &rr.lutState[lutImage])

		if lutKind == video.LUTConversion {
			ps.img.repr.Sys = video.ColorSystemRGB
			ps.img.repr.Levels = video.ColorLevelsFull
			needsConversion = false
		}
	}

	if needsConversion {
		sh.DecodeColor(&ps.img.repr, params.ColorAdjustment)
	}
	if lutKind == video.LUTNormalized {
		sh.CustomLUT(image.LUT, &rr.lutState[lutImage])
	}

	ps.hook(&ps.img, HookStageRGB, params)

	// HDR peak detection, as early as possible
	ps.hdrUpdatePeak(params)
	return nil
}

// hdrUpdatePeak attaches the peak detection shader when tone mapping
// will need it, or cleans up stale detection state otherwise.
func (ps *passState) hdrUpdatePeak(params *Params) {
	rr := ps.rr
	ok := func() bool {
		if params.PeakDetect == nil || !ps.img.color.IsHDR() {
			return false
		}
		if rr.disableCompute || rr.disablePeakDetect {
			return false
		}

		srcPeak := ps.img.color.SigPeak * ps.img.color.SigScale
		dstPeak := ps.target.Color.SigPeak * ps.target.Color.SigScale
		if srcPeak <= dstPeak+1e-6 {
			return false // no adaptation needed
		}

		if params.LUT != nil && params.LUTKind == video.LUTConversion {
			return false // the LUT covers tone mapping
		}

		if rr.fboFormat(4, params) == nil && !params.AllowDelayedPeakDetect {
			rr.log.Warn("disabling peak detection: delayed detection disallowed, " +
				"but lack of FBOs forces the result to be delayed")
			rr.disablePeakDetect = true
			return false
		}

		if !ps.imgSh(&ps.img).DetectPeak(ps.img.color, &rr.peakDetectState, params.PeakDetect) {
			rr.log.Warn("failed creating HDR peak detection shader, disabling")
			rr.disablePeakDetect = true
			return false
		}
		return true
	}()

	if !ok {
		// Clean up the state so a later frame with detection enabled
		// doesn't consume stale results
		shader.ObjDestroy(&rr.peakDetectState)
	}
}

// scaleMain runs the main scaler, including linearization and
// sigmoidization, the scaling-related hooks and the source overlays.
func (ps *passState) scaleMain(params *Params) error {
	rr := ps.rr
	if rr.fboFormat(ps.img.comps, params) == nil {
		rr.log.Debug("skipping main scaler (no FBOs)")
		return nil
	}

	im := &ps.img
	src := shader.SampleSrc{
		Components: im.comps,
		NewW:       iabs(ps.dstRect.W()),
		NewH:       iabs(ps.dstRect.H()),
		Rect:       im.rect,
	}

	image := &ps.image
	needFBO := len(image.Overlays) > 0
	needFBO = needFBO || (rr.peakDetectState != nil && !params.AllowDelayedPeakDetect)

	// Force FBO indirection if the producing shader is non-resizable
	if im.sh != nil {
		if w, h, ok := im.sh.OutputSize(); ok {
			needFBO = needFBO || w != src.NewW || h != src.NewH
		}
	}

	info := rr.sampleSrcInfo(&src, params)
	useSigmoid := info.dir == samplerUp && params.Sigmoid != nil
	useLinear := useSigmoid || info.dir == samplerDown

	// Hooks around scaling require the full pipeline
	const scalingHooks = HookStagePreOverlay | HookStagePreKernel | HookStagePostKernel
	const linearHooks = HookStageLinear | HookStageSigmoid
	for _, hook := range params.Hooks {
		if hook.Stages&(scalingHooks|linearHooks) != 0 {
			needFBO = true
			if hook.Stages&linearHooks != 0 {
				useLinear = true
			}
			if hook.Stages&HookStageSigmoid != 0 {
				useSigmoid = true
			}
		}
	}

	if info.dir == samplerNoop && !needFBO {
		rr.log.Debug("skipping main scaler (would be no-op)")
		return nil
	}
	if info.typ == samplerDirect && !needFBO {
		im.w = src.NewW
		im.h = src.NewH
		rr.log.Debug("skipping main scaler (free sampling)")
		return nil
	}

	if params.DisableLinearScaling || rr.disableLinearSDR {
		useSigmoid, useLinear = false, false
	}

	// Sigmoidization clips to [0,1], so never do it for HDR content
	if im.color.Transfer.IsHDR() {
		useSigmoid = false
		if rr.disableLinearHDR {
			useLinear = false
		}
	}

	if useLinear {
		ps.imgSh(im).Linearize(im.color.Transfer)
		im.color.Transfer = video.TransferLinear
		ps.hook(im, HookStageLinear, params)
	}
	if useSigmoid {
		ps.imgSh(im).Sigmoidize(params.Sigmoid)
		ps.hook(im, HookStageSigmoid, params)
	}

	ps.hook(im, HookStagePreOverlay, params)

	if ps.imgTex(im) == nil {
		return fmt.Errorf("render: failed materializing image for scaling")
	}

	// Draw the source overlays onto the intermediate texture,
	// accounting for the stretch between img.rect and the crop
	var tf overlayTransform
	if im.rect != image.Crop {
		rx := im.rect.W() / image.Crop.W()
		ry := im.rect.H() / image.Crop.H()
		tf = overlayTransform{
			sx: rx, sy: ry,
			ox: im.rect.X0 - image.Crop.X0*rx,
			oy: im.rect.Y0 - image.Crop.Y0*ry,
		}
	} else {
		tf = identityTransform
	}
	ps.drawOverlays(im.tex, im.comps, nil, image.Overlays, im.color, im.repr,
		useSigmoid, &tf, params)

	ps.hook(im, HookStagePreKernel, params)

	src.Tex = ps.imgTex(im)
	if src.Tex == nil {
		return fmt.Errorf("render: failed materializing image for scaling")
	}
	sh := rr.dp.BeginUnique()
	ps.dispatchSampler(sh, &rr.samplerMain, false, params, &src)
	*im = img{
		sh:    sh,
		w:     src.NewW,
		h:     src.NewH,
		repr:  im.repr,
		rect:  gpu.RectF{X1: float32(src.NewW), Y1: float32(src.NewH)},
		color: im.color,
		comps: im.comps,
	}

	ps.hook(im, HookStagePostKernel, params)

	if useSigmoid {
		ps.imgSh(im).Unsigmoidize(params.Sigmoid)
	}

	ps.hook(im, HookStageScaled, params)
	return nil
}

// outputTarget performs output color management and writes the final
// image to every target plane.
func (ps *passState) outputTarget(params *Params) error {
	rr := ps.rr
	image, target := &ps.image, &ps.target
	im := &ps.img
	sh := ps.imgSh(im)

	// Color management
	prelinearized := im.color.Transfer == video.TransferLinear
	needConversion := true

	needICC := (image.Profile.Signature != 0 || target.Profile.Signature != 0) &&
		!image.Profile.Equal(&target.Profile)
	if params.ForceICC {
		needICC = needICC || !image.Color.Equal(target.Color)
	}
	needICC = needICC && !rr.disableICC

	if params.LUT != nil {
		lutIn := params.LUT.ColorIn
		lutOut := params.LUT.ColorOut
		switch params.LUTKind {
		case video.LUTUnknown, video.LUTNative:
			lutIn = image.Color
			lutOut = image.Color
		case video.LUTConversion:
			lutIn = image.Color
			lutOut = target.Color
			// A conversion LUT takes top priority
			needICC = false
			needConversion = false
		case video.LUTNormalized:
			if !prelinearized {
				sh.Linearize(im.color.Transfer)
				im.color.Transfer = video.TransferLinear
				prelinearized = true
			}
			lutIn = im.color
			lutOut = im.color
		}

		sh.ColorMap(params.ColorMap, image.Color, lutIn, nil, prelinearized)
		if params.LUTKind == video.LUTNormalized {
			sh.GLSL("color.rgb *= vec3(1.0/%f);\n", lutIn.Transfer.NominalPeak())
		}
		sh.CustomLUT(params.LUT, &rr.lutState[lutParams])
		if params.LUTKind == video.LUTNormalized {
			sh.GLSL("color.rgb *= vec3(%f);\n", lutOut.Transfer.NominalPeak())
		}
		if params.LUTKind != video.LUTConversion {
			sh.ColorMap(params.ColorMap, lutOut, im.color, nil, false)
		}
	}

	if needICC {
		src := shader.ICCColorSpace{Color: image.Color, Profile: image.Profile}
		dst := shader.ICCColorSpace{Color: target.Color, Profile: target.Profile}

		var res shader.ICCResult
		if !shader.ICCUpdate(sh, &src, &dst, &rr.iccState, &res, params.ICC) {
			rr.disableICC = true
		} else {
			// current -> ICC in -> ICC out -> target
			sh.ColorMap(params.ColorMap, image.Color, res.SrcColor,
				&rr.peakDetectState, prelinearized)
			shader.ICCApply(sh, &rr.iccState)
			sh.ColorMap(params.ColorMap, res.DstColor, target.Color, nil, false)
			needConversion = false
		}
	}

	if needConversion {
		sh.ColorMap(params.ColorMap, image.Color, target.Color,
			&rr.peakDetectState, prelinearized)
	}

	if params.Cone != nil {
		sh.ConeDistort(target.Color, params.Cone)
	}

	lutKind := video.GuessLUTKind(target, true)
	if lutKind == video.LUTNormalized || lutKind == video.LUTConversion {
		sh.CustomLUT(target.LUT, &rr.lutState[lutTarget])
	}

	// Encode into the target representation. The bit-depth scale is
	// applied separately after encoding, so any intermediate FBO holds
	// values at full precision.
	repr := target.Repr
	scale := repr.Normalize()
	if lutKind != video.LUTConversion {
		sh.EncodeColor(&repr)
	}
	if lutKind == video.LUTNative {
		sh.CustomLUT(target.LUT, &rr.lutState[lutTarget])
	}
	ps.hook(im, HookStageOutput, params)
	sh = nil

	refPlane := &target.Planes[ps.dstRef]
	flippedX := ps.dstRect.X1 < ps.dstRect.X0
	flippedY := ps.dstRect.Y1 < ps.dstRect.Y0

	for p := range target.Planes {
		plane := &target.Planes[p]
		ptp := plane.Texture.Params()
		rtp := refPlane.Texture.Params()

		rx := float32(ptp.W) / float32(rtp.W)
		ry := float32(ptp.H) / float32(rtp.H)
		rrx, rry := roundRatio(rx), roundRatio(ry)
		sx, sy := plane.ShiftX, plane.ShiftY

		dstRectF := gpu.RectF{
			X0: (float32(ps.dstRect.X0) - sx) * rrx,
			Y0: (float32(ps.dstRect.Y0) - sy) * rry,
			X1: (float32(ps.dstRect.X1) - sx) * rrx,
			Y1: (float32(ps.dstRect.Y1) - sy) * rry,
		}
		dstRectF = dstRectF.Normalized()

		rx0, ry0 := int(floorf(dstRectF.X0)), int(floorf(dstRectF.Y0))
		rx1, ry1 := int(ceilf(dstRectF.X1)), int(ceilf(dstRectF.Y1))

		var psh *shader.Shader
		if len(target.Planes) > 1 {
			// Planar output: sample from an intermediate texture
			src := shader.SampleSrc{
				Tex:  ps.imgTex(im),
				NewW: rx1 - rx0,
				NewH: ry1 - ry0,
				Rect: gpu.RectF{
					X0: (float32(rx0) - dstRectF.X0) / rrx,
					X1: (float32(rx1) - dstRectF.X0) / rrx,
					Y0: (float32(ry0) - dstRectF.Y0) / rry,
					Y1: (float32(ry1) - dstRectF.Y0) / rry,
				},
			}
			if src.Tex == nil {
				return fmt.Errorf("render: output requires multiple planes, " +
					"but FBOs are unavailable")
			}

			for c := 0; c < plane.Components; c++ {
				if m := plane.ComponentMapping[c]; m != video.ChannelNone {
					src.ComponentMask |= 1 << uint(m)
				}
			}

			psh = rr.dp.Begin()
			ps.dispatchSampler(psh, &rr.samplersDst[p], !ptp.Storable, params, &src)
		} else {
			// Single plane: reuse the image shader directly, unless it
			// is a compute shader and the target cannot store
			if ps.imgSh(im).IsCompute() && !ptp.Storable {
				if ps.imgTex(im) == nil {
					return fmt.Errorf("render: rendering requires compute shaders, " +
						"but the output is not storable and FBOs are unavailable")
				}
			}
			psh = ps.imgSh(im)
			im.sh = nil
		}

		if scale != 1 {
			psh.GLSL("color *= vec4(1.0 / %f);\n", scale)
		}
		swizzleColor(psh, plane.Components, plane.ComponentMapping, true)

		if params.Dither != nil {
			// Dithering >16 bit targets adds nothing but error
			depth := repr.Bits.SampleDepth
			if depth == 0 {
				depth = target.Repr.Bits.SampleDepth
			}
			if depth > 0 && (depth <= 16 || params.ForceDither) {
				psh.Dither(depth, &rr.ditherState, params.Dither)
			}
		}

		dstRect := gpu.Rect2D{X0: rx0, Y0: ry0, X1: rx1, Y1: ry1}
		if flippedX {
			dstRect.X0, dstRect.X1 = dstRect.X1, dstRect.X0
		}
		if flippedY {
			dstRect.Y0, dstRect.Y1 = dstRect.Y1, dstRect.Y0
		}

		err := rr.dp.Finish(&dispatch.Params{
			Shader: psh,
			Target: plane.Texture,
			Blend:  params.Blend,
			Rect:   dstRect,
		})
		if err != nil {
			return err
		}

		// Source overlays that couldn't be drawn during scaling for
		// lack of FBOs are drawn here, scaled end-to-end
		if len(image.Overlays) > 0 && rr.fboFormat(im.comps, params) == nil {
			scaleX := dstRectF.W() / image.Crop.W()
			scaleY := dstRectF.H() / image.Crop.H()
			iscale := overlayTransform{
				sx: scaleX, sy: scaleY,
				ox: dstRectF.X0 - image.Crop.X0*scaleX,
				oy: dstRectF.Y0 - image.Crop.Y0*scaleY,
			}
			ps.drawOverlays(plane.Texture, plane.Components, &plane.ComponentMapping,
				image.Overlays, target.Color, target.Repr, false, &iscale, params)
		}

		tscale := overlayTransform{sx: rrx, sy: rry, ox: -sx, oy: -sy}
		ps.drawOverlays(plane.Texture, plane.Components, &plane.ComponentMapping,
			target.Overlays, target.Color, target.Repr, false, &tscale, params)
	}

	ps.img = img{}
	return nil
}

// swizzleColor reorders the color channels according to the plane's
// component mapping.
func swizzleColor(sh *shader.Shader, comps int, mapping [4]video.Channel, useMapping bool) {
	orig := sh.Fresh("orig_color")
	sh.GLSL("vec4 %s = color;\n"+
		"color = vec4(0.0);\n", orig)

	for c := 0; c < comps; c++ {
		m := video.Channel(c)
		if useMapping {
			m = mapping[c]
		}
		if m >= 0 {
			sh.GLSL("color[%d] = %s[%d];\n", c, orig, m)
		}
	}
}

// roundRatio restricts a subsampling ratio to integers (or their
// reciprocals), rounding away fractional subsampling.
func roundRatio(r float32) float32 {
	if r >= 1 {
		return roundf(r)
	}
	return 1 / roundf(1/r)
}

func truncf(x float32) float32 { return float32(int(x)) }

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
