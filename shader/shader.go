// Package shader implements the shader-builder: an incrementally
// constructed GLSL fragment or compute shader, together with the input
// variables, descriptor bindings and vertex attributes it declares.
//
// Builders are obtained from a dispatch engine, mutated by the shader
// generator functions in this package, and finally handed back to the
// dispatch engine for compilation and execution. A builder's content
// signature identifies it for pass caching.
package shader

import (
	"bytes"
	"fmt"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/internal/hashutil"
)

// SigType describes the input or output signature of a shader.
type SigType uint8

const (
	// SigNone: no input consumed / no output produced.
	SigNone SigType = iota

	// SigColor: produces (or consumes) a vec4 color.
	SigColor
)

// Ident is a mangled identifier inside generated shader source.
type Ident string

// Var is an input variable attached to a shader, together with its
// current data.
type Var struct {
	Var  gpu.Var
	Data []byte

	// Dynamic marks variables expected to change every frame; the
	// dispatch engine prefers push constants for these.
	Dynamic bool
}

// Desc is a descriptor binding attached to a shader.
type Desc struct {
	Desc    gpu.Desc
	Binding gpu.DescBinding

	// BufferVars lists the member variables of buffer descriptors.
	BufferVars []gpu.BufferVar

	// Coherent/Volatile add the corresponding memory qualifiers.
	Coherent bool
	Volatile bool
}

// VertexAttrib is a vertex attribute attached to a shader, with its
// data at the four corners of the rendered quad (in the vertex order
// of a triangle strip).
type VertexAttrib struct {
	Attr gpu.VertexAttrib
	Data [4][]byte
}

// Params configures a builder when it is (re)initialized.
type Params struct {
	GPU   gpu.GPU
	ID    uint8 // name mangling namespace, for merged shaders
	Index uint8 // per-frame epoch
}

// Shader is a shader under construction.
type Shader struct {
	params Params

	freshCnt int

	// header holds completed helper functions (merged sub-shaders),
	// body the statements of the function under construction.
	header bytes.Buffer
	body   bytes.Buffer

	vars  []Var
	descs []Desc
	vas   []VertexAttrib

	input  SigType
	output SigType

	// Explicit output size requirement, zero if resizable.
	outputW, outputH int

	isCompute    bool
	computeGroup [2]int
	flexibleWG   bool

	failed  bool
	mutable bool
}

// New allocates a fresh builder. Dispatch engines pool and reset
// builders instead of allocating per use.
func New(params *Params) *Shader {
	sh := &Shader{}
	sh.Reset(params)
	return sh
}

// Reset reinitializes the builder for reuse.
func (sh *Shader) Reset(params *Params) {
	sh.params = *params
	sh.freshCnt = 0
	sh.header.Reset()
	sh.body.Reset()
	sh.vars = sh.vars[:0]
	sh.descs = sh.descs[:0]
	sh.vas = sh.vas[:0]
	sh.input = SigNone
	sh.output = SigNone
	sh.outputW, sh.outputH = 0, 0
	sh.isCompute = false
	sh.computeGroup = [2]int{}
	sh.flexibleWG = false
	sh.failed = false
	sh.mutable = true
}

// GPU returns the backend this shader is being built against.
func (sh *Shader) GPU() gpu.GPU { return sh.params.GPU }

// Failed reports whether a generator marked this shader as failed.
func (sh *Shader) Failed() bool { return sh.failed }

// Fail marks the shader as failed. Failed shaders refuse dispatch.
func (sh *Shader) Fail() { sh.failed = true }

// Mutable reports whether the shader can still be modified.
func (sh *Shader) Mutable() bool { return sh.mutable }

// Seal marks the shader immutable; only the dispatch engine does this.
func (sh *Shader) Seal() { sh.mutable = false }

// Input and Output return the current shader signature.
func (sh *Shader) Input() SigType  { return sh.input }
func (sh *Shader) Output() SigType { return sh.output }

// SetOutput declares the output signature.
func (sh *Shader) SetOutput(t SigType) { sh.output = t }

// Require asserts the expected input signature and declares the output
// one. Generators call this before mutating the shader.
func (sh *Shader) Require(in, out SigType) bool {
	if sh.failed {
		return false
	}
	if sh.input == SigNone && in == SigColor && sh.output == SigColor {
		// chaining: previous output becomes our input
		sh.output = out
		return true
	}
	if sh.input != in && !(in == SigColor && sh.output == SigColor) {
		sh.failed = true
		return false
	}
	sh.output = out
	return true
}

// RequireOutputSize constrains the shader to a fixed output size.
// Returns false if a conflicting size was already set.
func (sh *Shader) RequireOutputSize(w, h int) bool {
	if sh.outputW != 0 && (sh.outputW != w || sh.outputH != h) {
		return false
	}
	sh.outputW, sh.outputH = w, h
	return true
}

// OutputSize returns the explicit output size requirement, if any.
func (sh *Shader) OutputSize() (w, h int, ok bool) {
	return sh.outputW, sh.outputH, sh.outputW != 0
}

// Fresh returns a unique mangled identifier based on name.
func (sh *Shader) Fresh(name string) Ident {
	id := fmt.Sprintf("_%s_%d_%d", name, sh.params.ID, sh.freshCnt)
	sh.freshCnt++
	return Ident(id)
}

// GLSL appends formatted source to the shader body.
func (sh *Shader) GLSL(format string, args ...any) {
	fmt.Fprintf(&sh.body, format, args...)
}

// GLSLH appends formatted source to the shader header, before the
// color function.
func (sh *Shader) GLSLH(format string, args ...any) {
	fmt.Fprintf(&sh.header, format, args...)
}

// AddVar attaches an input variable, mangling its name, and returns
// the identifier to reference it by.
func (sh *Shader) AddVar(v Var) Ident {
	id := sh.Fresh(v.Var.Name)
	v.Var.Name = string(id)
	sh.vars = append(sh.vars, v)
	return id
}

// AddDesc attaches a descriptor, mangling its name, and returns the
// identifier to reference it by.
func (sh *Shader) AddDesc(d Desc) Ident {
	id := sh.Fresh(d.Desc.Name)
	d.Desc.Name = string(id)
	sh.descs = append(sh.descs, d)
	return id
}

// AddAttr attaches a vertex attribute, mangling its name, and returns
// the identifier to reference it by.
func (sh *Shader) AddAttr(va VertexAttrib) Ident {
	id := sh.Fresh(va.Attr.Name)
	va.Attr.Name = string(id)
	sh.vas = append(sh.vas, va)
	return id
}

// AttrVec2 attaches a vec2 attribute interpolating rect across the
// rendered quad.
func (sh *Shader) AttrVec2(name string, rect gpu.RectF) Ident {
	corner := func(x, y float32) []byte {
		return f32bytes(x, y)
	}
	return sh.AddAttr(VertexAttrib{
		Attr: gpu.VertexAttrib{Name: name, Format: gpu.VertexFormat(2)},
		Data: [4][]byte{
			corner(rect.X0, rect.Y0),
			corner(rect.X1, rect.Y0),
			corner(rect.X0, rect.Y1),
			corner(rect.X1, rect.Y1),
		},
	})
}

// Variables, Descriptors and VertexAttribs expose the declared inputs
// to the dispatch engine.
func (sh *Shader) Variables() []Var             { return sh.vars }
func (sh *Shader) Descriptors() []Desc          { return sh.descs }
func (sh *Shader) VertexAttribs() []VertexAttrib { return sh.vas }

// SetVertexAttribs replaces the attached vertex attributes; used by
// the dispatch engine's custom-vertex path.
func (sh *Shader) SetVertexAttribs(vas []VertexAttrib) { sh.vas = vas }

// IsCompute reports whether this shader was promoted to compute.
func (sh *Shader) IsCompute() bool { return sh.isCompute }

// ComputeGroupSize returns the work group dimensions.
func (sh *Shader) ComputeGroupSize() [2]int { return sh.computeGroup }

// TryCompute attempts to promote the shader to a compute shader with
// the given work group size. Returns false (leaving the shader
// untouched) if the backend lacks compute support, or if a different
// non-flexible work group size was already set and the requested one
// is non-flexible too. A flexible request against an existing
// non-flexible size succeeds and keeps the existing size.
func (sh *Shader) TryCompute(bw, bh int, flexible bool) bool {
	if sh.params.GPU.Caps()&gpu.CapCompute == 0 {
		return false
	}
	if sh.isCompute {
		if sh.computeGroup[0] == bw && sh.computeGroup[1] == bh {
			return true
		}
		if !sh.flexibleWG && !flexible {
			return false
		}
		if !sh.flexibleWG {
			// keep the existing, stricter size
			return true
		}
	}
	sh.isCompute = true
	sh.computeGroup = [2]int{bw, bh}
	sh.flexibleWG = flexible
	return true
}

// Subpass merges a completed sub-shader into sh and returns the name
// of a function evaluating it. Returns "" if merging is impossible;
// the caller is then expected to round-trip through a texture.
func (sh *Shader) Subpass(sub *Shader) Ident {
	if sub.failed || sub.input != SigNone || sub.output != SigColor {
		return ""
	}
	if sub.isCompute && !sh.TryCompute(sub.computeGroup[0], sub.computeGroup[1], sub.flexibleWG) {
		return ""
	}
	if w, h, ok := sub.OutputSize(); ok && !sh.RequireOutputSize(w, h) {
		return ""
	}

	name := sh.Fresh("sub")
	sh.header.Write(sub.header.Bytes())
	fmt.Fprintf(&sh.header, "vec4 %s() {\n"+
		"vec4 color = vec4(0.0, 0.0, 0.0, 1.0);\n", name)
	sh.header.Write(sub.body.Bytes())
	fmt.Fprintf(&sh.header, "return color;\n}\n")

	sh.vars = append(sh.vars, sub.vars...)
	sh.descs = append(sh.descs, sub.descs...)
	sh.vas = append(sh.vas, sub.vas...)
	return name
}

// Result is the finalized form of a shader, consumed by the dispatch
// engine when generating the full source.
type Result struct {
	Name   Ident
	GLSL   string // helper functions + the color function definition
	Input  SigType
	Output SigType

	ComputeGroupSize [2]int
}

// Finalize wraps the accumulated body into a color function and
// returns the completed result. The shader must not be mutated
// afterwards.
func (sh *Shader) Finalize() *Result {
	name := sh.Fresh("main")
	var src bytes.Buffer
	src.Write(sh.header.Bytes())
	switch sh.output {
	case SigColor:
		fmt.Fprintf(&src, "vec4 %s() {\n"+
			"vec4 color = vec4(0.0, 0.0, 0.0, 1.0);\n", name)
		src.Write(sh.body.Bytes())
		fmt.Fprintf(&src, "return color;\n}\n")
	default:
		fmt.Fprintf(&src, "void %s() {\n"+
			"vec4 color = vec4(0.0, 0.0, 0.0, 1.0);\n", name)
		src.Write(sh.body.Bytes())
		fmt.Fprintf(&src, "}\n")
	}
	sh.mutable = false
	return &Result{
		Name:             name,
		GLSL:             src.String(),
		Input:            sh.input,
		Output:           sh.output,
		ComputeGroupSize: sh.computeGroup,
	}
}

// Signature returns a stable content hash of the shader: its source,
// declared variables, descriptors, vertex attributes and required
// capabilities. Builders emitting identical declarations and source
// produce identical signatures.
func (sh *Shader) Signature() uint64 {
	h := hashutil.New()
	h.WriteBytes(sh.header.Bytes())
	h.WriteBytes(sh.body.Bytes())
	h.WriteBool(sh.isCompute)
	h.WriteInt(sh.computeGroup[0])
	h.WriteInt(sh.computeGroup[1])
	h.WriteInt(int(sh.output))

	for i := range sh.vars {
		v := &sh.vars[i].Var
		h.WriteString(v.Name)
		h.WriteInt(int(v.Type))
		h.WriteInt(v.DimV)
		h.WriteInt(v.DimM)
		h.WriteInt(v.DimA)
		h.WriteBool(sh.vars[i].Dynamic)
	}
	for i := range sh.descs {
		d := &sh.descs[i].Desc
		h.WriteString(d.Name)
		h.WriteInt(int(d.Type))
		h.WriteInt(int(d.Access))
		for _, bv := range sh.descs[i].BufferVars {
			h.WriteString(bv.Var.Name)
			h.WriteInt(bv.Layout.Offset)
			h.WriteInt(bv.Layout.Size)
		}
	}
	for i := range sh.vas {
		va := &sh.vas[i].Attr
		h.WriteString(va.Name)
		if va.Format != nil {
			h.WriteString(va.Format.Name)
		}
	}
	return h.Sum()
}

func f32bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		putf32(out[4*i:], v)
	}
	return out
}
