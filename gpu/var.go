package gpu

import "fmt"

// VarType is the element type of an input variable.
type VarType uint8

const (
	VarSInt VarType = iota
	VarUInt
	VarFloat
)

// Size returns the size of one element in bytes.
func (t VarType) Size() int { return 4 }

// Var describes an input variable as declared in shader source.
// DimV is the vector dimension (1-4), DimM the matrix column count
// (1 for vectors), DimA the array length (1 for non-arrays).
type Var struct {
	Name string
	Type VarType
	DimV int
	DimM int
	DimA int
}

// GLSLTypeName returns the GLSL type keyword for v, e.g. "vec2",
// "mat3" or "uint".
func (v Var) GLSLTypeName() string {
	switch {
	case v.DimM > 1 && v.DimV > 1:
		if v.DimM == v.DimV {
			return fmt.Sprintf("mat%d", v.DimM)
		}
		return fmt.Sprintf("mat%dx%d", v.DimM, v.DimV)
	case v.DimV > 1:
		switch v.Type {
		case VarSInt:
			return fmt.Sprintf("ivec%d", v.DimV)
		case VarUInt:
			return fmt.Sprintf("uvec%d", v.DimV)
		case VarFloat:
			return fmt.Sprintf("vec%d", v.DimV)
		}
	default:
		switch v.Type {
		case VarSInt:
			return "int"
		case VarUInt:
			return "uint"
		case VarFloat:
			return "float"
		}
	}
	return ""
}

// Convenience constructors for common variable shapes.

func VarFloat1(name string) Var { return Var{Name: name, Type: VarFloat, DimV: 1, DimM: 1, DimA: 1} }
func VarVec2(name string) Var   { return Var{Name: name, Type: VarFloat, DimV: 2, DimM: 1, DimA: 1} }
func VarVec3(name string) Var   { return Var{Name: name, Type: VarFloat, DimV: 3, DimM: 1, DimA: 1} }
func VarVec4(name string) Var   { return Var{Name: name, Type: VarFloat, DimV: 4, DimM: 1, DimA: 1} }
func VarMat3(name string) Var   { return Var{Name: name, Type: VarFloat, DimV: 3, DimM: 3, DimA: 1} }
func VarSInt1(name string) Var  { return Var{Name: name, Type: VarSInt, DimV: 1, DimM: 1, DimA: 1} }
func VarIVec2(name string) Var  { return Var{Name: name, Type: VarSInt, DimV: 2, DimM: 1, DimA: 1} }

// VarLayout describes the memory placement of a variable under a
// particular layout standard.
type VarLayout struct {
	Offset int // bytes from the start of the enclosing region
	Stride int // bytes between consecutive vectors/rows
	Size   int // total size in bytes
}

func alignUp(x, align int) int {
	return (x + align - 1) / align * align
}

// vecAlign returns the base alignment of a vector per std140/std430:
// vec3 aligns like vec4.
func vecAlign(v Var) int {
	dim := v.DimV
	if dim == 3 {
		dim = 4
	}
	return dim * v.Type.Size()
}

// HostLayout returns the tightly packed C-style layout of v at the
// given base offset.
func HostLayout(offset int, v Var) VarLayout {
	stride := v.DimV * v.Type.Size()
	return VarLayout{
		Offset: offset,
		Stride: stride,
		Size:   stride * v.DimM * v.DimA,
	}
}

// Std430Layout returns the std430 layout of v starting at or after the
// given offset. Used for push constants and storage buffers.
func Std430Layout(offset int, v Var) VarLayout {
	align := vecAlign(v)
	l := VarLayout{
		Offset: alignUp(offset, align),
		Stride: align,
	}
	l.Size = l.Stride * v.DimM * v.DimA
	return l
}

// Std140Layout returns the std140 layout of v starting at or after the
// given offset. Arrays and matrices round their stride up to vec4.
// Used for uniform buffers.
func Std140Layout(offset int, v Var) VarLayout {
	align := vecAlign(v)
	if v.DimM*v.DimA > 1 {
		align = alignUp(align, 16)
	}
	l := VarLayout{
		Offset: alignUp(offset, align),
		Stride: align,
	}
	l.Size = l.Stride * v.DimM * v.DimA
	return l
}

// BufferVar pairs a variable with its placement inside a buffer block.
type BufferVar struct {
	Var    Var
	Layout VarLayout
}

// MemcpyLayout copies variable data between two layouts, translating
// between host and device strides row by row.
func MemcpyLayout(dst []byte, dstLayout VarLayout, src []byte, srcLayout VarLayout) {
	d := dstLayout.Offset
	s := srcLayout.Offset
	for s < srcLayout.Offset+srcLayout.Size {
		copy(dst[d:d+srcLayout.Stride], src[s:s+srcLayout.Stride])
		s += srcLayout.Stride
		d += dstLayout.Stride
	}
}
