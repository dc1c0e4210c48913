package gpu

// Caps describes optional capabilities of a GPU backend.
// These flags can be combined with bitwise OR.
type Caps uint32

const (
	// CapCompute indicates support for compute shaders.
	CapCompute Caps = 1 << iota

	// CapParallelCompute indicates that compute shaders are fast enough
	// to be worth using even for tasks a fragment shader could do.
	CapParallelCompute

	// CapInputVariables indicates support for loose global uniform
	// variables updated per pass run.
	CapInputVariables

	// CapSubgroups indicates support for the shader subgroup operations.
	CapSubgroups
)

// GLSLInfo describes the shading language dialect accepted by a backend.
type GLSLInfo struct {
	// Version is the GLSL version number, e.g. 450.
	Version int

	// GLES marks an embedded (OpenGL ES) profile.
	GLES bool

	// Vulkan marks Vulkan-style GLSL (explicit bindings, push constants).
	Vulkan bool
}

// Limits describes hard resource limits of a GPU backend.
type Limits struct {
	// MaxTexDim1D/2D/3D are the maximum texture dimensions per axis.
	// A value of 0 means the texture dimensionality is unsupported.
	MaxTexDim1D int
	MaxTexDim2D int
	MaxTexDim3D int

	// MaxPushConstSize is the maximum push constant region size in bytes.
	// 0 means push constants are unsupported.
	MaxPushConstSize int

	// MaxUBOSize is the maximum uniform buffer size in bytes.
	// 0 means uniform buffers are unsupported.
	MaxUBOSize int

	// MaxSSBOSize is the maximum storage buffer size in bytes.
	MaxSSBOSize int

	// MaxBufSize is the maximum generic buffer size in bytes.
	MaxBufSize int
}

// GPU is the interface implemented by rendering backends.
//
// All methods must be called from a single goroutine. The backend is
// assumed to serialize command submission internally; Flush and Finish
// quiesce deferred GPU work.
type GPU interface {
	// Caps returns the backend's capability flags.
	Caps() Caps

	// Limits returns the backend's resource limits.
	Limits() Limits

	// GLSL returns the shading language dialect the backend compiles.
	GLSL() GLSLInfo

	// Formats enumerates all texture formats supported by the backend,
	// in order of decreasing preference.
	Formats() []*Format

	// CreateTexture creates a texture. The initial contents are
	// undefined unless params.InitialData is set.
	CreateTexture(params *TextureParams) (Texture, error)

	// CreateBuffer creates a buffer.
	CreateBuffer(params *BufferParams) (Buffer, error)

	// CreatePass compiles a render or compute pass from shader source.
	// A non-nil error indicates shader compilation or pipeline creation
	// failure; the caller is expected to cache this outcome.
	CreatePass(params *PassParams) (Pass, error)

	// CreateTimer creates a GPU timer, or nil if timers are unsupported.
	CreateTimer() Timer

	// Flush submits all pending commands to the GPU.
	Flush()

	// Finish blocks until all previously submitted GPU work completes.
	Finish()

	// IsFailed reports whether the backend is in an unrecoverable state
	// (e.g. device loss). Once true, all further operations fail.
	IsFailed() bool
}

// Timer measures the GPU-side duration of passes it is attached to.
type Timer interface {
	// Query returns the most recent measured duration in nanoseconds,
	// or ok=false if no measurement has completed yet.
	Query() (ns uint64, ok bool)

	// Destroy releases the timer.
	Destroy()
}
