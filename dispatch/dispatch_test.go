package dispatch

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/gputest"
	"github.com/gogpu/gv/shader"
)

func newTestDispatch(opts *gputest.Options) (*Dispatch, *gputest.GPU) {
	g := gputest.New(opts)
	return New(nil, g), g
}

func renderTarget(t *testing.T, g *gputest.GPU, w, h int, name string) gpu.Texture {
	t.Helper()
	var format *gpu.Format
	for _, f := range g.Formats() {
		if f.Name == name {
			format = f
			break
		}
	}
	if format == nil {
		t.Fatalf("format %q not found", name)
	}
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

func fillShader(sh *shader.Shader) {
	sh.SetOutput(shader.SigColor)
	sh.GLSL("color = vec4(1.0, 0.0, 0.0, 1.0);\n")
}

func TestFinishBasic(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	target := renderTarget(t, g, 64, 64, "rgba8")

	sh := d.Begin()
	fillShader(sh)
	if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if g.PassesCreated.Load() != 1 {
		t.Errorf("passes created = %d, want 1", g.PassesCreated.Load())
	}
	if g.PassRuns.Load() != 1 {
		t.Errorf("pass runs = %d, want 1", g.PassRuns.Load())
	}
}

func TestPassCacheHit(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	target := renderTarget(t, g, 64, 64, "rgba8")

	for i := 0; i < 3; i++ {
		sh := d.Begin()
		fillShader(sh)
		if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
			t.Fatalf("Finish %d: %v", i, err)
		}
	}
	if g.PassesCreated.Load() != 1 {
		t.Errorf("passes created = %d, want 1 (cache hits expected)", g.PassesCreated.Load())
	}
	if g.PassRuns.Load() != 3 {
		t.Errorf("pass runs = %d, want 3", g.PassRuns.Load())
	}
}

func TestComputePromotion(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()

	// rgba8 is storable in the fake backend and the caps include
	// parallel compute, so the fragment shader must be promoted
	target := renderTarget(t, g, 64, 64, "rgba8")
	sh := d.Begin()
	fillShader(sh)
	if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if len(d.passes) != 1 {
		t.Fatalf("pass count = %d", len(d.passes))
	}
	pp := d.passes[0].pass.Params()
	if pp.Type != gpu.PassCompute {
		t.Error("shader was not promoted to compute")
	}
	if !strings.Contains(pp.GLSLShader, "gl_GlobalInvocationID") {
		t.Error("promoted shader does not derive coordinates from the invocation id")
	}
	if !strings.Contains(pp.GLSLShader, "local_size_x = 16") {
		t.Error("promoted shader lacks the 16x16 work group declaration")
	}
}

func TestRasterPathWithoutCompute(t *testing.T) {
	opts := gputest.DefaultOptions()
	opts.Caps = gpu.CapInputVariables // no compute at all
	d, g := newTestDispatch(opts)
	defer d.Destroy()

	target := renderTarget(t, g, 64, 64, "rgb10a2") // not storable
	sh := d.Begin()
	fillShader(sh)
	if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	pp := d.passes[0].pass.Params()
	if pp.Type != gpu.PassRaster {
		t.Error("expected raster pass")
	}
	if pp.VertexShader == "" {
		t.Error("raster pass lacks a vertex shader")
	}
	if !strings.Contains(pp.VertexShader, "gl_Position") {
		t.Error("vertex shader does not emit gl_Position")
	}
}

func TestVariablePlacementBudget(t *testing.T) {
	opts := gputest.DefaultOptions()
	opts.Limits.MaxPushConstSize = 32
	d, g := newTestDispatch(opts)
	defer d.Destroy()
	target := renderTarget(t, g, 16, 16, "rgba8")

	sh := d.Begin()
	fillShader(sh)
	// More small dynamic variables than fit into 32 bytes of push
	// constants, plus a matrix that should land in the UBO
	for i := 0; i < 16; i++ {
		sh.AddVar(shader.Var{
			Var:     gpu.VarFloat1("v"),
			Data:    shader.F32Bytes(float32(i)),
			Dynamic: true,
		})
	}
	sh.AddVar(shader.Var{
		Var:  gpu.VarMat3("m"),
		Data: shader.F32Bytes(1, 0, 0, 0, 1, 0, 0, 0, 1),
	})

	if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	p := d.passes[0]
	pp := p.pass.Params()
	if pp.PushConstSize > 32 {
		t.Errorf("push constant usage %d exceeds the limit", pp.PushConstSize)
	}

	var sawPushC, sawOther bool
	for _, pv := range p.vars {
		switch pv.typ {
		case passVarPushC:
			sawPushC = true
			if pv.layout.Offset+pv.layout.Size > 32 {
				t.Errorf("push constant var exceeds budget: %+v", pv.layout)
			}
		case passVarUBO:
			sawOther = true
			if pv.layout.Offset+pv.layout.Size > p.uboSize {
				t.Errorf("UBO var outside buffer: %+v (size %d)", pv.layout, p.uboSize)
			}
		case passVarGlobal:
			sawOther = true
		case passVarNone:
			t.Error("variable left unplaced")
		}
	}
	if !sawPushC || !sawOther {
		t.Errorf("expected a mix of placements, got pushc=%v other=%v", sawPushC, sawOther)
	}
}

func TestPlacementFailsWithoutAnyMethod(t *testing.T) {
	opts := gputest.DefaultOptions()
	opts.Caps = gpu.CapCompute // no input variables
	opts.Limits.MaxPushConstSize = 0
	opts.Limits.MaxUBOSize = 0
	d, g := newTestDispatch(opts)
	defer d.Destroy()
	target := renderTarget(t, g, 16, 16, "rgb10a2")

	sh := d.Begin()
	fillShader(sh)
	sh.AddVar(shader.Var{Var: gpu.VarFloat1("v"), Data: shader.F32Bytes(1)})

	err := d.Finish(&Params{Shader: sh, Target: target})
	if err == nil {
		t.Fatal("Finish succeeded despite impossible variable placement")
	}
	if g.PassesCreated.Load() != 0 {
		t.Error("backend pass was created despite placement failure")
	}
}

func TestCacheLookupSoundness(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	t1 := renderTarget(t, g, 64, 64, "rgb10a2")
	t2 := renderTarget(t, g, 64, 64, "rgba16f")

	build := func() *shader.Shader {
		sh := d.Begin()
		fillShader(sh)
		return sh
	}

	// Same shader against two target formats: two distinct passes
	if err := d.Finish(&Params{Shader: build(), Target: t1}); err != nil {
		t.Fatal(err)
	}
	if err := d.Finish(&Params{Shader: build(), Target: t2}); err != nil {
		t.Fatal(err)
	}
	if len(d.passes) != 2 {
		t.Fatalf("pass count = %d, want 2", len(d.passes))
	}

	// Every cached raster pass must match the target format it was
	// built for
	for _, p := range d.passes {
		pp := p.pass.Params()
		if pp.Type == gpu.PassRaster && pp.TargetFormat == nil {
			t.Error("raster pass without target format")
		}
	}

	// Repeating either dispatch hits the existing passes
	if err := d.Finish(&Params{Shader: build(), Target: t1}); err != nil {
		t.Fatal(err)
	}
	if len(d.passes) != 2 {
		t.Errorf("pass count after re-dispatch = %d, want 2", len(d.passes))
	}

	// A different blend configuration misses the cache
	if err := d.Finish(&Params{Shader: build(), Target: t1, Blend: gpu.AlphaOverlay}); err != nil {
		t.Fatal(err)
	}
	if len(d.passes) != 3 {
		t.Errorf("pass count after blend change = %d, want 3", len(d.passes))
	}
}

func TestFailedPassIsCached(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	target := renderTarget(t, g, 64, 64, "rgba8")

	g.FailPasses = 1
	sh := d.Begin()
	fillShader(sh)
	if err := d.Finish(&Params{Shader: sh, Target: target}); err == nil {
		t.Fatal("Finish succeeded despite injected compile failure")
	}

	// The failure is cached: the second dispatch doesn't recompile and
	// silently short-circuits with ErrShaderFailed
	before := g.PassesCreated.Load()
	sh = d.Begin()
	fillShader(sh)
	err := d.Finish(&Params{Shader: sh, Target: target})
	if !errors.Is(err, ErrShaderFailed) {
		t.Errorf("second dispatch error = %v, want ErrShaderFailed", err)
	}
	if g.PassesCreated.Load() != before {
		t.Error("failed pass was recompiled")
	}
	if g.PassRuns.Load() != 0 {
		t.Error("failed pass was executed")
	}
}

func TestEviction(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	d.maxPasses = 4
	target := renderTarget(t, g, 64, 64, "rgba8")

	// Create distinct passes across many frames so ages spread out
	for i := 0; i < 10; i++ {
		sh := d.Begin()
		sh.SetOutput(shader.SigColor)
		sh.GLSL("color = vec4(%d.0);\n", i)
		if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
			t.Fatal(err)
		}
		for j := 0; j < 3; j++ {
			d.ResetFrame()
		}
	}

	if len(d.passes) > 2*d.maxPasses {
		t.Errorf("pass cache grew to %d entries despite eviction", len(d.passes))
	}
}

func TestEvictionDoublesWhenAllYoung(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	d.maxPasses = 2
	target := renderTarget(t, g, 64, 64, "rgba8")

	// All passes created in the same frame: nothing is old enough to
	// evict, so the high-water mark doubles instead
	for i := 0; i < 5; i++ {
		sh := d.Begin()
		sh.SetOutput(shader.SigColor)
		sh.GLSL("color = vec4(%d.0);\n", i)
		if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
			t.Fatal(err)
		}
	}
	if len(d.passes) != 5 {
		t.Errorf("young passes were evicted: %d left", len(d.passes))
	}
	if d.maxPasses <= 2 {
		t.Error("high-water mark did not grow")
	}
}

func TestVarUpdateSkipsUnchanged(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	// A non-storable target keeps this on the raster path, so the
	// compute translation doesn't add variables of its own
	target := renderTarget(t, g, 64, 64, "rgb10a2")

	run := func(val float32) {
		sh := d.Begin()
		sh.SetOutput(shader.SigColor)
		v := sh.AddVar(shader.Var{
			Var:  gpu.VarFloat1("x"),
			Data: shader.F32Bytes(val),
		})
		sh.GLSL("color = vec4(%s);\n", v)
		if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
			t.Fatal(err)
		}
	}

	run(1)
	p := d.passes[0]
	if len(p.vars) != 1 {
		t.Fatalf("vars = %d", len(p.vars))
	}
	first := append([]byte(nil), p.vars[0].cached...)

	run(1) // same data: cache must be byte-identical, no new upload
	if !bytes.Equal(p.vars[0].cached, first) {
		t.Error("cached data changed for identical input")
	}

	run(2) // changed data: cache updated
	if bytes.Equal(p.vars[0].cached, first) {
		t.Error("cached data not updated for changed input")
	}
	_ = g
}

func TestComputeDispatch(t *testing.T) {
	d, _ := newTestDispatch(nil)
	defer d.Destroy()

	sh := d.Begin()
	if !sh.TryCompute(8, 8, false) {
		t.Fatal("TryCompute failed")
	}
	sh.GLSL("// side effect only\n")
	err := d.Compute(&ComputeParams{Shader: sh, DispatchSize: [3]int{4, 4, 1}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	rp := d.passes[0].run
	if rp.ComputeGroups != [3]int{4, 4, 1} {
		t.Errorf("compute groups = %v", rp.ComputeGroups)
	}
}

func TestAbortReturnsShaderToPool(t *testing.T) {
	d, _ := newTestDispatch(nil)
	defer d.Destroy()

	sh := d.Begin()
	d.Abort(sh)
	sh2 := d.Begin()
	if sh != sh2 {
		t.Error("aborted shader was not recycled")
	}
}

func TestVertexDispatch(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	target := renderTarget(t, g, 64, 64, "rgb10a2")

	sh := d.Begin()
	fillShader(sh)

	pos := gpu.VertexFormat(2)
	verts := shader.F32Bytes(
		0, 0,
		64, 0,
		0, 64,
	)
	err := d.Vertex(&VertexParams{
		Shader: sh,
		Target: target,
		VertexAttribs: []gpu.VertexAttrib{
			{Name: "pos", Format: pos, Offset: 0},
		},
		VertexPositionIdx: 0,
		VertexStride:      8,
		VertexType:        gpu.PrimTriangleList,
		VertexCoords:      CoordsAbsolute,
		VertexData:        verts,
		VertexCount:       3,
		Scissors:          gpu.Rect2D{X1: 64, Y1: 64},
	})
	if err != nil {
		t.Fatalf("Vertex: %v", err)
	}

	pp := d.passes[0].pass.Params()
	if pp.VertexType != gpu.PrimTriangleList || pp.VertexStride != 8 {
		t.Errorf("vertex state = %v/%d", pp.VertexType, pp.VertexStride)
	}
	// Absolute coordinates require a projection matrix in the vertex
	// shader
	if !strings.Contains(pp.VertexShader, "gl_Position = vec4((") {
		t.Error("vertex shader lacks the coordinate projection")
	}
}

func TestVertexRejectsBadPositionIndex(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	target := renderTarget(t, g, 64, 64, "rgb10a2")

	sh := d.Begin()
	fillShader(sh)
	err := d.Vertex(&VertexParams{
		Shader:            sh,
		Target:            target,
		VertexAttribs:     []gpu.VertexAttrib{{Name: "pos", Format: gpu.VertexFormat(2)}},
		VertexPositionIdx: 3,
	})
	if err == nil {
		t.Error("out-of-range position index accepted")
	}
}

func TestGeneratedSourcePreamble(t *testing.T) {
	opts := gputest.DefaultOptions()
	opts.GLSL = gpu.GLSLInfo{Version: 300, GLES: true}
	opts.Caps = gpu.CapInputVariables
	d, g := newTestDispatch(opts)
	defer d.Destroy()
	target := renderTarget(t, g, 64, 64, "rgb10a2")

	sh := d.Begin()
	fillShader(sh)
	if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
		t.Fatal(err)
	}
	src := d.passes[0].pass.Params().GLSLShader
	if !strings.HasPrefix(src, "#version 300 es\n") {
		t.Errorf("preamble lacks es version header:\n%s", src[:60])
	}
	if !strings.Contains(src, "precision mediump sampler2D;") {
		t.Error("GLES source lacks sampler precision qualifier")
	}
	if !strings.Contains(src, "out vec4 out_color;") {
		t.Error("GLSL 130+ source lacks an explicit output variable")
	}
}
