package gpu

// AddressMode controls sampling behavior outside the [0,1] texture
// coordinate range.
type AddressMode uint8

const (
	AddressClamp AddressMode = iota
	AddressRepeat
	AddressMirror
)

// SampleMode selects the texture filtering mode.
type SampleMode uint8

const (
	SampleNearest SampleMode = iota
	SampleLinear
)

// TextureParams describes a texture at creation time.
type TextureParams struct {
	// W, H, D are the dimensions. D == 0 and H == 0 produce 1D
	// textures, D == 0 produces 2D textures.
	W, H, D int

	Format *Format

	// Usage flags. A texture can only be used in ways declared here.
	Sampleable bool
	Renderable bool
	Storable   bool
	Blittable  bool
	HostReadable bool

	// InitialData, if non-nil, is tightly packed texel data used to
	// initialize the texture.
	InitialData []byte
}

// Dimensions returns the dimensionality (1-3) of the texture.
func (p *TextureParams) Dimensions() int {
	switch {
	case p.D > 0:
		return 3
	case p.H > 0:
		return 2
	default:
		return 1
	}
}

// TextureTransfer describes an upload or download region.
type TextureTransfer struct {
	// Rect is the affected region; a zero rect means the whole texture.
	Rect Rect2D

	// RowPitch is the stride between rows in bytes; 0 means tightly
	// packed.
	RowPitch int

	// Data is the host memory to copy from (upload) or into (download).
	Data []byte
}

// Texture is an opaque handle to a backend texture.
type Texture interface {
	// Params returns the creation parameters. The returned struct must
	// not be modified.
	Params() *TextureParams

	// Upload copies host data into the texture.
	Upload(t *TextureTransfer) error

	// Download copies texture data to host memory. Requires the
	// HostReadable usage flag.
	Download(t *TextureTransfer) error

	// Clear fills the texture with the given color.
	Clear(color [4]float32) error

	// Blit copies a region from src, scaling if the rects differ in
	// size. Both formats must be blittable.
	Blit(src Texture, dstRect, srcRect Rect2D) error

	// Invalidate marks the contents as undefined, allowing the backend
	// to skip preserving them.
	Invalidate()

	// Destroy releases the texture.
	Destroy()
}

// Recreate makes *tex a texture matching params. An existing texture
// whose size, format and usage flags already match is kept as is;
// otherwise it is destroyed and replaced with a new texture created
// from params. On failure *tex is nil.
func Recreate(g GPU, tex *Texture, params *TextureParams) error {
	if *tex != nil {
		p := (*tex).Params()
		if p.W == params.W && p.H == params.H && p.D == params.D &&
			p.Format == params.Format &&
			p.Sampleable == params.Sampleable &&
			p.Renderable == params.Renderable &&
			p.Storable == params.Storable {
			return nil
		}
		(*tex).Destroy()
		*tex = nil
	}
	t, err := g.CreateTexture(params)
	if err != nil {
		return err
	}
	*tex = t
	return nil
}
