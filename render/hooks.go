package render

import (
	"github.com/gogpu/gv/dispatch"
	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/shader"
	"github.com/gogpu/gv/video"
)

// HookStage is a bitmask of pipeline stages a hook attaches to.
type HookStage uint32

const (
	// Per-plane input stages, before plane alignment.
	HookStageRGBInput HookStage = 1 << iota
	HookStageLumaInput
	HookStageChromaInput
	HookStageAlphaInput
	HookStageXYZInput

	// HookStageNative: the combined frame in its native colorspace.
	HookStageNative

	// HookStageRGB: after decoding to RGB.
	HookStageRGB

	// HookStageLinear/Sigmoid: in linear/sigmoidized light.
	HookStageLinear
	HookStageSigmoid

	// Stages around the main scaler kernel.
	HookStagePreOverlay
	HookStagePreKernel
	HookStagePostKernel
	HookStageScaled

	// HookStageOutput: after output color conversion, before the
	// per-plane writes.
	HookStageOutput
)

// Resizable reports whether hooks at this stage may change the image
// dimensions.
func (s HookStage) Resizable() bool {
	const resizable = HookStageRGBInput | HookStageLumaInput |
		HookStageChromaInput | HookStageAlphaInput | HookStageXYZInput |
		HookStageNative | HookStageRGB
	return s&resizable != 0
}

// HookSig describes what a hook consumes or produces.
type HookSig uint8

const (
	// HookSigNone: the hook only observes.
	HookSigNone HookSig = iota

	// HookSigTex: a materialized texture.
	HookSigTex

	// HookSigColor: an in-flight shader producing a color.
	HookSigColor
)

// HookParams is the state handed to a hook invocation.
type HookParams struct {
	GPU      gpu.GPU
	Dispatch *dispatch.Dispatch

	// GetTex borrows an intermediate texture from the renderer's pool
	// for the duration of the current render call.
	GetTex func(w, h int) gpu.Texture

	Stage HookStage

	// Exactly one of Shader/Tex is set, matching the hook's declared
	// input signature.
	Shader *shader.Shader
	Tex    gpu.Texture

	Rect       gpu.RectF
	Repr       video.ColorRepr
	Color      video.ColorSpace
	Components int

	// SrcRect and DstRect describe the overall rendering pass.
	SrcRect gpu.RectF
	DstRect gpu.Rect2D
}

// HookResult is what a hook returns.
type HookResult struct {
	// Failed aborts the hook and latches hooks off.
	Failed bool

	// Output declares which of Tex/Shader (if any) replaces the
	// current image.
	Output HookSig

	Tex    gpu.Texture
	Shader *shader.Shader

	Rect       gpu.RectF
	Repr       video.ColorRepr
	Color      video.ColorSpace
	Components int
}

// Hook is a user-supplied transformation invoked at fixed pipeline
// stages. Hooks hash by identity for frame-cache purposes: mutating a
// hook in place does not invalidate cached frames.
type Hook struct {
	// Stages the hook fires at.
	Stages HookStage

	// Input signature the hook wants to receive.
	Input HookSig

	// Hook is the transformation itself.
	Hook func(params *HookParams) HookResult

	// Reset is called at the start of every render call, if set.
	Reset func()
}

// hook runs all hooks registered for the given stage against the
// current image. Returns whether any hook completed successfully; a
// hook that fails is not counted.
func (ps *passState) hook(im *img, stage HookStage, params *Params) bool {
	rr := ps.rr
	if rr.fboFmt[4] == nil || rr.disableHooks {
		return false
	}

	ran := false
	for n, hook := range params.Hooks {
		if hook.Stages&stage == 0 {
			continue
		}

		rr.log.Debug("dispatching hook", "idx", n, "stage", uint32(stage))
		hparams := &HookParams{
			GPU:      rr.gpu,
			Dispatch: rr.dp,
			GetTex: func(w, h int) gpu.Texture {
				return ps.getFBO(w, h, nil, 4)
			},
			Stage:      stage,
			Rect:       im.rect,
			Repr:       im.repr,
			Color:      im.color,
			Components: im.comps,
			SrcRect:    ps.refRect,
			DstRect:    ps.dstRect,
		}

		switch hook.Input {
		case HookSigNone:
		case HookSigTex:
			hparams.Tex = ps.imgTex(im)
			if hparams.Tex == nil {
				rr.log.Error("failed dispatching shader prior to hook")
				ps.hookError(im)
				return ran
			}
		case HookSigColor:
			hparams.Shader = ps.imgSh(im)
		}

		res := hook.Hook(hparams)
		if res.Failed {
			rr.log.Error("failed executing hook, disabling")
			ps.hookError(im)
			return ran
		}

		resizable := stage.Resizable()
		switch res.Output {
		case HookSigNone:

		case HookSigTex:
			tp := res.Tex.Params()
			if !resizable && (tp.W != im.w || tp.H != im.h || res.Rect != im.rect) {
				rr.log.Error("user hook tried resizing a non-resizable stage")
				ps.hookError(im)
				return ran
			}
			*im = img{
				tex:   res.Tex,
				repr:  res.Repr,
				color: res.Color,
				comps: res.Components,
				rect:  res.Rect,
				w:     tp.W,
				h:     tp.H,
			}

		case HookSigColor:
			w, h, _ := res.Shader.OutputSize()
			if !resizable && (w != im.w || h != im.h || res.Rect != im.rect) {
				rr.log.Error("user hook tried resizing a non-resizable stage")
				ps.hookError(im)
				return ran
			}
			*im = img{
				sh:    res.Shader,
				repr:  res.Repr,
				color: res.Color,
				comps: res.Components,
				rect:  res.Rect,
				w:     w,
				h:     h,
			}
		}

		ran = true
	}
	return ran
}

// hookError latches hooks off while keeping the image state valid
// enough for the remaining pipeline to not dereference nil.
func (ps *passState) hookError(i *img) {
	ps.rr.disableHooks = true
	if i.tex == nil && i.sh == nil {
		i.sh = ps.rr.dp.Begin()
	}
}
