package shader

import "github.com/gogpu/gv/gpu"

// Obj is a persistent GPU resource owned by a shader generator across
// invocations: filter LUT textures, dither matrices, peak detection
// buffers. Callers hold a *Obj per logical state slot and destroy it
// when the owning renderer is torn down.
type Obj struct {
	gpu gpu.GPU

	Tex gpu.Texture
	Buf gpu.Buffer

	// sig tags the uploaded contents so generators can skip re-uploads.
	sig uint64
}

// ObjDestroy releases *obj (if any) and resets the pointer.
func ObjDestroy(obj **Obj) {
	o := *obj
	if o == nil {
		return
	}
	if o.Tex != nil {
		o.Tex.Destroy()
	}
	if o.Buf != nil {
		o.Buf.Destroy()
	}
	*obj = nil
}

// objEnsure returns the existing object or allocates an empty one.
func objEnsure(g gpu.GPU, obj **Obj) *Obj {
	if *obj == nil {
		*obj = &Obj{gpu: g}
	}
	return *obj
}
