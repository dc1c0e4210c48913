package gpu

// PassType distinguishes raster (draw) from compute passes.
type PassType uint8

const (
	PassRaster PassType = iota
	PassCompute
)

// BlendMode enumerates blend factors.
type BlendMode uint8

const (
	BlendZero BlendMode = iota
	BlendOne
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
)

// BlendParams configures fixed-function blending of a raster pass.
type BlendParams struct {
	SrcRGB, DstRGB     BlendMode
	SrcAlpha, DstAlpha BlendMode
}

// AlphaOverlay is the standard src-over blend used for overlays with
// premultiplied alpha sources.
var AlphaOverlay = &BlendParams{
	SrcRGB:   BlendSrcAlpha,
	DstRGB:   BlendOneMinusSrcAlpha,
	SrcAlpha: BlendOne,
	DstAlpha: BlendOneMinusSrcAlpha,
}

// Equal reports whether two (possibly nil) blend configurations are
// interchangeable for pass caching purposes.
func (b *BlendParams) Equal(other *BlendParams) bool {
	if b == nil && other == nil {
		return true
	}
	if b == nil || other == nil {
		return false
	}
	return *b == *other
}

// PrimitiveType enumerates vertex topologies.
type PrimitiveType uint8

const (
	PrimTriangleList PrimitiveType = iota
	PrimTriangleStrip
	PrimTriangleFan
)

// DescType enumerates descriptor binding types.
type DescType uint8

const (
	DescSampledTex DescType = iota
	DescStorageImg
	DescBufUniform
	DescBufStorage
	DescBufTexelUniform
	DescBufTexelStorage
	descTypeCount
)

// DescAccess describes how a pass accesses a descriptor.
type DescAccess uint8

const (
	DescAccessReadOnly DescAccess = iota
	DescAccessWriteOnly
	DescAccessReadWrite
)

// GLSLName returns the image/buffer access qualifier for a.
func (a DescAccess) GLSLName() string {
	switch a {
	case DescAccessReadOnly:
		return "readonly"
	case DescAccessWriteOnly:
		return "writeonly"
	case DescAccessReadWrite:
		return ""
	}
	return ""
}

// Desc describes one descriptor binding declared by a pass.
type Desc struct {
	Name    string
	Type    DescType
	Binding int
	Access  DescAccess
}

// DescNamespace returns the binding namespace index a descriptor type
// allocates bindings from. Vulkan-style GLSL uses a single namespace,
// OpenGL uses one per type.
func DescNamespace(g GPU, t DescType) int {
	if g.GLSL().Vulkan {
		return 0
	}
	return int(t)
}

// DescNamespaceCount is the number of distinct binding namespaces.
const DescNamespaceCount = int(descTypeCount)

// DescBinding attaches a concrete object to a descriptor at run time.
type DescBinding struct {
	// Object is a Texture or Buffer, depending on the descriptor type.
	Object any

	// Sampling configuration, for sampled textures.
	Address AddressMode
	Sample  SampleMode
}

// VertexAttrib describes one vertex attribute of a raster pass.
type VertexAttrib struct {
	Name     string
	Format   *Format
	Location int
	Offset   int
}

// VarUpdate carries new data for one global input variable.
type VarUpdate struct {
	Index int // into PassParams.Variables
	Data  []byte
}

// PassParams describes a pass at creation time.
type PassParams struct {
	Type PassType

	// GLSLShader is the fragment or compute shader source.
	GLSLShader string

	// VertexShader is the vertex shader source (raster only).
	VertexShader string

	// Variables are the loose global uniforms (CapInputVariables).
	Variables []Var

	// Descriptors declared by the shader, in binding order.
	Descriptors []Desc

	// Vertex state (raster only).
	VertexAttribs []VertexAttrib
	VertexType    PrimitiveType
	VertexStride  int

	// PushConstSize is the size of the push constant region in bytes.
	PushConstSize int

	// TargetFormat is the format of the render target (raster only).
	TargetFormat *Format

	// LoadTarget preserves the previous target contents instead of
	// discarding them.
	LoadTarget bool

	// Blend enables fixed-function blending (raster only).
	Blend *BlendParams

	// CachedProgram optionally provides a previously compiled program
	// binary to skip compilation.
	CachedProgram []byte
}

// PassRunParams describes one execution of a pass.
type PassRunParams struct {
	// Target is the texture rendered to (raster only).
	Target Texture

	// Scissors clips the rendered region (raster only).
	Scissors Rect2D

	// DescBindings provides objects for each declared descriptor, in
	// declaration order.
	DescBindings []DescBinding

	// PushConstants is the push constant region contents.
	PushConstants []byte

	// VarUpdates lists the global variables changed since the last run.
	VarUpdates []VarUpdate

	// Vertex data: either VertexData (host memory) or VertexBuf.
	VertexData  []byte
	VertexBuf   Buffer
	BufOffset   int
	VertexCount int

	// Optional index data.
	IndexData   []uint16
	IndexBuf    Buffer
	IndexOffset int

	// ComputeGroups is the dispatch size (compute only).
	ComputeGroups [3]int

	// Timer, if non-nil, measures this run.
	Timer Timer
}

// Pass is a compiled render or compute pass.
type Pass interface {
	// Params returns the creation parameters. The returned struct must
	// not be modified.
	Params() *PassParams

	// Run executes the pass.
	Run(params *PassRunParams) error

	// CachedProgram returns the backend-compiled program binary for
	// this pass, if the backend exposes one.
	CachedProgram() []byte

	// Destroy releases the pass.
	Destroy()
}
