package gpu

import "testing"

func TestGLSLTypeName(t *testing.T) {
	tests := []struct {
		v    Var
		want string
	}{
		{VarFloat1("x"), "float"},
		{VarVec2("x"), "vec2"},
		{VarVec3("x"), "vec3"},
		{VarVec4("x"), "vec4"},
		{VarMat3("x"), "mat3"},
		{VarSInt1("x"), "int"},
		{VarIVec2("x"), "ivec2"},
	}
	for _, tt := range tests {
		if got := tt.v.GLSLTypeName(); got != tt.want {
			t.Errorf("GLSLTypeName() = %q, want %q", got, tt.want)
		}
	}
}

func TestStd430Layout(t *testing.T) {
	// vec3 aligns like vec4
	l := Std430Layout(4, VarVec3("x"))
	if l.Offset != 16 {
		t.Errorf("vec3 offset = %d, want 16", l.Offset)
	}
	if l.Stride != 16 || l.Size != 16 {
		t.Errorf("vec3 stride/size = %d/%d, want 16/16", l.Stride, l.Size)
	}

	// floats pack tightly
	l = Std430Layout(4, VarFloat1("x"))
	if l.Offset != 4 || l.Size != 4 {
		t.Errorf("float offset/size = %d/%d, want 4/4", l.Offset, l.Size)
	}

	// mat3 is 3 columns of vec4 stride
	l = Std430Layout(0, VarMat3("x"))
	if l.Size != 48 {
		t.Errorf("mat3 size = %d, want 48", l.Size)
	}
}

func TestStd140Layout(t *testing.T) {
	// arrays round the stride up to 16
	arr := Var{Name: "x", Type: VarFloat, DimV: 1, DimM: 1, DimA: 4}
	l := Std140Layout(0, arr)
	if l.Stride != 16 {
		t.Errorf("float[4] stride = %d, want 16", l.Stride)
	}
	if l.Size != 64 {
		t.Errorf("float[4] size = %d, want 64", l.Size)
	}

	// scalars stay tight
	l = Std140Layout(4, VarFloat1("x"))
	if l.Offset != 4 {
		t.Errorf("float offset = %d, want 4", l.Offset)
	}
}

func TestHostLayout(t *testing.T) {
	l := HostLayout(0, VarVec3("x"))
	if l.Stride != 12 || l.Size != 12 {
		t.Errorf("vec3 host stride/size = %d/%d, want 12/12", l.Stride, l.Size)
	}
	l = HostLayout(0, VarMat3("x"))
	if l.Size != 36 {
		t.Errorf("mat3 host size = %d, want 36", l.Size)
	}
}

func TestMemcpyLayout(t *testing.T) {
	// Repack a tightly packed vec3[3]-like value into vec4 strides
	src := make([]byte, 36)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 48)
	MemcpyLayout(dst,
		VarLayout{Offset: 0, Stride: 16, Size: 48},
		src,
		VarLayout{Offset: 0, Stride: 12, Size: 36})

	for row := 0; row < 3; row++ {
		for b := 0; b < 12; b++ {
			want := byte(row*12 + b)
			if got := dst[row*16+b]; got != want {
				t.Fatalf("dst[%d] = %d, want %d", row*16+b, got, want)
			}
		}
	}
}

func TestVertexFormat(t *testing.T) {
	f2 := VertexFormat(2)
	if f2.GLSLType != "vec2" || f2.TexelSize != 8 {
		t.Errorf("VertexFormat(2) = %q/%d", f2.GLSLType, f2.TexelSize)
	}
	// Pointer identity is stable across calls
	if VertexFormat(2) != f2 {
		t.Error("VertexFormat not stable")
	}
}

func TestRectNormalize(t *testing.T) {
	r := Rect2D{X0: 10, Y0: 20, X1: 0, Y1: 5}.Normalized()
	if r != (Rect2D{X0: 0, Y0: 5, X1: 10, Y1: 20}) {
		t.Errorf("Normalized() = %+v", r)
	}
	rf := RectF{X0: 1.5, X1: 0.5, Y0: 0, Y1: 1}.Normalized()
	if rf.X0 != 0.5 || rf.X1 != 1.5 {
		t.Errorf("RectF.Normalized() = %+v", rf)
	}
}
