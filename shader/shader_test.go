package shader

import (
	"testing"

	"github.com/gogpu/gv/gpu"
)

// testGPU is a minimal gpu.GPU for builder tests.
type testGPU struct {
	caps gpu.Caps
}

func (t *testGPU) Caps() gpu.Caps     { return t.caps }
func (t *testGPU) Limits() gpu.Limits { return gpu.Limits{MaxPushConstSize: 128, MaxUBOSize: 65536} }
func (t *testGPU) GLSL() gpu.GLSLInfo { return gpu.GLSLInfo{Version: 450, Vulkan: true} }
func (t *testGPU) Formats() []*gpu.Format {
	return nil
}
func (t *testGPU) CreateTexture(*gpu.TextureParams) (gpu.Texture, error) { return nil, nil }
func (t *testGPU) CreateBuffer(*gpu.BufferParams) (gpu.Buffer, error)    { return nil, nil }
func (t *testGPU) CreatePass(*gpu.PassParams) (gpu.Pass, error)          { return nil, nil }
func (t *testGPU) CreateTimer() gpu.Timer                                { return nil }
func (t *testGPU) Flush()                                                {}
func (t *testGPU) Finish()                                               {}
func (t *testGPU) IsFailed() bool                                        { return false }

func newTestShader(caps gpu.Caps) *Shader {
	return New(&Params{GPU: &testGPU{caps: caps}})
}

func buildSame(sh *Shader) {
	sh.SetOutput(SigColor)
	sh.GLSL("color = vec4(1.0);\n")
	sh.AddVar(Var{Var: gpu.VarVec2("scale"), Data: F32Bytes(1, 1)})
}

func TestSignatureStability(t *testing.T) {
	a := newTestShader(0)
	b := newTestShader(0)
	buildSame(a)
	buildSame(b)

	if a.Signature() != b.Signature() {
		t.Error("identical builders produced different signatures")
	}

	c := newTestShader(0)
	buildSame(c)
	c.GLSL("color.r = 0.0;\n")
	if c.Signature() == a.Signature() {
		t.Error("different bodies produced identical signatures")
	}

	// Declaring an extra variable changes the signature even with an
	// identical body
	d := newTestShader(0)
	buildSame(d)
	d.AddVar(Var{Var: gpu.VarFloat1("extra"), Data: F32Bytes(0)})
	if d.Signature() == a.Signature() {
		t.Error("different variables produced identical signatures")
	}
}

func TestSignatureIgnoresData(t *testing.T) {
	a := newTestShader(0)
	a.SetOutput(SigColor)
	a.AddVar(Var{Var: gpu.VarFloat1("x"), Data: F32Bytes(1)})

	b := newTestShader(0)
	b.SetOutput(SigColor)
	b.AddVar(Var{Var: gpu.VarFloat1("x"), Data: F32Bytes(2)})

	if a.Signature() != b.Signature() {
		t.Error("variable data must not affect the signature")
	}
}

func TestFreshMangling(t *testing.T) {
	sh := newTestShader(0)
	a := sh.Fresh("x")
	b := sh.Fresh("x")
	if a == b {
		t.Error("Fresh returned duplicate identifiers")
	}
}

func TestTryComputeNoCaps(t *testing.T) {
	sh := newTestShader(0)
	if sh.TryCompute(16, 16, true) {
		t.Error("TryCompute succeeded without compute capability")
	}
	if sh.IsCompute() {
		t.Error("shader became compute without capability")
	}
}

func TestTryCompute(t *testing.T) {
	sh := newTestShader(gpu.CapCompute)
	if !sh.TryCompute(16, 16, true) {
		t.Fatal("TryCompute failed with compute capability")
	}
	if !sh.IsCompute() {
		t.Error("shader not marked compute")
	}
	if sh.ComputeGroupSize() != [2]int{16, 16} {
		t.Errorf("group size = %v", sh.ComputeGroupSize())
	}

	// A conflicting fixed size on a flexible shader is accepted
	if !sh.TryCompute(8, 8, false) {
		t.Error("flexible group size was not adjustable")
	}
}

func TestSubpassMerging(t *testing.T) {
	main := newTestShader(0)
	main.SetOutput(SigColor)
	main.GLSL("color = vec4(0.5);\n")

	sub := newTestShader(0)
	sub.SetOutput(SigColor)
	sub.GLSL("color = vec4(0.25);\n")
	sub.AddVar(Var{Var: gpu.VarFloat1("subvar"), Data: F32Bytes(1)})

	name := main.Subpass(sub)
	if name == "" {
		t.Fatal("Subpass failed for compatible shaders")
	}
	if len(main.Variables()) != 1 {
		t.Errorf("merged variable count = %d, want 1", len(main.Variables()))
	}

	res := main.Finalize()
	if res.GLSL == "" {
		t.Fatal("empty finalized source")
	}
}

func TestSubpassRejectsCompute(t *testing.T) {
	main := newTestShader(0) // no compute caps
	main.SetOutput(SigColor)

	sub := newTestShader(gpu.CapCompute)
	sub.SetOutput(SigColor)
	sub.TryCompute(8, 8, false)

	if main.Subpass(sub) != "" {
		t.Error("Subpass merged a compute shader into a raster-only shader")
	}
}

func TestRequireOutputSize(t *testing.T) {
	sh := newTestShader(0)
	if !sh.RequireOutputSize(100, 50) {
		t.Fatal("first RequireOutputSize failed")
	}
	if !sh.RequireOutputSize(100, 50) {
		t.Error("same RequireOutputSize failed")
	}
	if sh.RequireOutputSize(10, 10) {
		t.Error("conflicting RequireOutputSize succeeded")
	}
	w, h, ok := sh.OutputSize()
	if !ok || w != 100 || h != 50 {
		t.Errorf("OutputSize() = %d,%d,%v", w, h, ok)
	}
}

func TestFinalizeWrapsColorFunction(t *testing.T) {
	sh := newTestShader(0)
	sh.SetOutput(SigColor)
	sh.GLSL("color = vec4(1.0);\n")
	res := sh.Finalize()
	if res.Name == "" {
		t.Fatal("finalized shader has no name")
	}
	if res.Output != SigColor {
		t.Errorf("output = %v, want SigColor", res.Output)
	}
	if sh.Mutable() {
		t.Error("shader still mutable after Finalize")
	}
}
