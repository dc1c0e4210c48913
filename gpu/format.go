package gpu

import "github.com/gogpu/gputypes"

// FormatType is the host-visible representation of a texture format.
type FormatType uint8

const (
	FormatTypeUnknown FormatType = iota
	FormatTypeUNORM              // unsigned, normalized to [0,1]
	FormatTypeSNORM              // signed, normalized to [-1,1]
	FormatTypeUINT               // unsigned integer
	FormatTypeSINT               // signed integer
	FormatTypeFloat              // floating point (includes 16-bit)
)

// FormatCaps describes what operations a texture format supports.
// These flags can be combined with bitwise OR.
type FormatCaps uint32

const (
	// FormatCapSampleable: can be bound as a sampled texture.
	FormatCapSampleable FormatCaps = 1 << iota

	// FormatCapRenderable: can be used as a render target.
	FormatCapRenderable

	// FormatCapStorable: can be bound as a storage image.
	FormatCapStorable

	// FormatCapBlittable: can take part in texture blits.
	FormatCapBlittable

	// FormatCapLinear: supports linear (bilinear) filtering.
	FormatCapLinear

	// FormatCapBlendable: supports fixed-function alpha blending.
	FormatCapBlendable

	// FormatCapHostReadable: texture contents can be downloaded.
	FormatCapHostReadable
)

// Format describes a texture format and its capabilities.
// Formats are owned by the backend; pointer identity is significant and
// may be used as a comparison key.
type Format struct {
	// Name is a short identifier such as "rgba16f".
	Name string

	Type          FormatType
	NumComponents int

	// ComponentDepth is the bit depth of each component; unused
	// components are zero.
	ComponentDepth [4]int

	// TexelSize is the total size of one texel in bytes.
	TexelSize int

	Caps FormatCaps

	// GLSLType is the type returned when sampling, e.g. "vec4".
	GLSLType string

	// GLSLFormat is the image layout qualifier, e.g. "rgba16f".
	// Empty if the format has no GLSL layout equivalent; storage use
	// then requires the format-unspecified image extension.
	GLSLFormat string

	// WebGPU is the corresponding WebGPU texture format, for backends
	// built on the gogpu stack. Zero if no equivalent exists.
	WebGPU gputypes.TextureFormat
}

// Depth returns the depth of the first component. Every format has at
// least one component, so this is a usable "canonical" depth.
func (f *Format) Depth() int { return f.ComponentDepth[0] }

// vertexFormats are the host-side float vector formats used for
// generated vertex data. They carry no backend identity; pointer
// equality still holds because the instances are shared.
var vertexFormats = [4]Format{
	{Name: "r32f", Type: FormatTypeFloat, NumComponents: 1, ComponentDepth: [4]int{32}, TexelSize: 4, GLSLType: "float"},
	{Name: "rg32f", Type: FormatTypeFloat, NumComponents: 2, ComponentDepth: [4]int{32, 32}, TexelSize: 8, GLSLType: "vec2"},
	{Name: "rgb32f", Type: FormatTypeFloat, NumComponents: 3, ComponentDepth: [4]int{32, 32, 32}, TexelSize: 12, GLSLType: "vec3"},
	{Name: "rgba32f", Type: FormatTypeFloat, NumComponents: 4, ComponentDepth: [4]int{32, 32, 32, 32}, TexelSize: 16, GLSLType: "vec4"},
}

// VertexFormat returns the canonical float vertex format with the
// given component count (1-4).
func VertexFormat(comps int) *Format {
	return &vertexFormats[comps-1]
}

// FindFormat returns the backend's preferred format with the given
// sample type, component count, minimum per-component depth and
// capability set, or nil if no such format exists.
func FindFormat(g GPU, typ FormatType, comps, minDepth int, caps FormatCaps) *Format {
	for _, fmt := range g.Formats() {
		if fmt.Type != typ || fmt.NumComponents != comps {
			continue
		}
		if fmt.Caps&caps != caps {
			continue
		}
		ok := true
		for c := 0; c < comps; c++ {
			if fmt.ComponentDepth[c] < minDepth {
				ok = false
				break
			}
		}
		if ok {
			return fmt
		}
	}
	return nil
}
