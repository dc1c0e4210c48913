package video

import (
	"fmt"

	"github.com/gogpu/gv/gpu"
)

// MaxPlanes is the maximum number of planes a frame can carry.
const MaxPlanes = 4

// Channel identifies the logical meaning of one texture channel.
// The Y/Cb/Cr and R/G/B aliases share numeric values; which set is in
// effect depends on the frame's color system.
type Channel int8

const (
	// ChannelNone marks an unmapped texture channel.
	ChannelNone Channel = -1

	ChannelY  Channel = 0
	ChannelCb Channel = 1
	ChannelCr Channel = 2

	ChannelR Channel = 0
	ChannelG Channel = 1
	ChannelB Channel = 2

	ChannelA Channel = 3
)

// Plane is one texture of a multi-texture frame representation.
type Plane struct {
	Texture gpu.Texture

	// Components is the number of meaningful texture channels (1-4).
	Components int

	// ComponentMapping maps texture channel index to logical channel.
	ComponentMapping [4]Channel

	// ShiftX, ShiftY are the subpixel offsets of this plane's sample
	// grid relative to the reference plane (chroma siting).
	ShiftX, ShiftY float32

	// Address controls sampling outside the texture.
	Address gpu.AddressMode
}

// PlaneType classifies a plane by its channel content, ordered by
// increasing priority when picking the reference plane.
type PlaneType uint8

const (
	PlaneInvalid PlaneType = iota
	PlaneAlpha
	PlaneChroma
	PlaneLuma
	PlaneRGB
	PlaneXYZ
)

func (t PlaneType) String() string {
	switch t {
	case PlaneAlpha:
		return "alpha"
	case PlaneChroma:
		return "chroma"
	case PlaneLuma:
		return "luma"
	case PlaneRGB:
		return "rgb"
	case PlaneXYZ:
		return "xyz"
	}
	return "invalid"
}

// DetectPlaneType derives the plane type from the component mapping
// under the given color representation.
func DetectPlaneType(p *Plane, repr *ColorRepr) PlaneType {
	if repr.Sys.IsYCbCrLike() {
		t := PlaneInvalid
		for c := 0; c < p.Components; c++ {
			switch p.ComponentMapping[c] {
			case ChannelY:
				t = max(t, PlaneLuma)
			case ChannelA:
				t = max(t, PlaneAlpha)
			case ChannelCb, ChannelCr:
				t = max(t, PlaneChroma)
			}
		}
		return t
	}

	// Exclusive alpha plane
	if p.Components == 1 && p.ComponentMapping[0] == ChannelA {
		return PlaneAlpha
	}

	if repr.Sys == ColorSystemXYZ {
		return PlaneXYZ
	}
	return PlaneRGB
}

// IsRef reports whether a plane of this type can carry the reference
// sample grid.
func (t PlaneType) IsRef() bool {
	return t == PlaneLuma || t == PlaneRGB || t == PlaneXYZ
}

// Frame describes a complete image: an ordered set of planes plus the
// metadata needed to interpret them.
type Frame struct {
	Planes []Plane

	Repr  ColorRepr
	Color ColorSpace

	// Profile is an optional ICC profile describing the frame.
	Profile ICCProfile

	// LUT is an optional lookup table applied when reading (source
	// frames) or writing (target frames).
	LUT     *LUT
	LUTKind LUTKind

	// FilmGrain carries AV1 film grain synthesis metadata, if any.
	FilmGrain *FilmGrainData

	Overlays []Overlay

	// Crop is the visible rectangle in reference-plane pixel space.
	// A zero rect means the full texture.
	Crop gpu.RectF
}

// FilmGrainData is the AV1 film grain metadata attached to a frame.
// The synthesis itself is performed by the grain shader generator.
type FilmGrainData struct {
	Seed uint16

	// NumYPoints / NumUVPoints control which planes need synthesis.
	NumYPoints  int
	NumUVPoints [2]int

	// ScalingShift attenuates the grain.
	ScalingShift int
}

// RefPlane returns the index of the reference plane, or -1 if no plane
// carries the reference sample grid.
func (f *Frame) RefPlane() int {
	ref := -1
	for i := range f.Planes {
		if DetectPlaneType(&f.Planes[i], &f.Repr).IsRef() {
			ref = i
		}
	}
	return ref
}

// RefTexture returns the texture of the reference plane, falling back
// to the first plane.
func (f *Frame) RefTexture() gpu.Texture {
	if i := f.RefPlane(); i >= 0 {
		return f.Planes[i].Texture
	}
	if len(f.Planes) > 0 {
		return f.Planes[0].Texture
	}
	return nil
}

// Validate checks the structural invariants of a frame. The needed
// capability ("sampleable" for sources, "renderable" for targets) is
// checked on every plane texture.
func (f *Frame) Validate(needRenderable bool) error {
	if len(f.Planes) < 1 || len(f.Planes) > MaxPlanes {
		return fmt.Errorf("video: frame has %d planes, want 1..%d", len(f.Planes), MaxPlanes)
	}
	for i := range f.Planes {
		p := &f.Planes[i]
		if p.Texture == nil {
			return fmt.Errorf("video: plane %d has no texture", i)
		}
		tp := p.Texture.Params()
		if needRenderable && !tp.Renderable {
			return fmt.Errorf("video: plane %d texture is not renderable", i)
		}
		if !needRenderable && !tp.Sampleable {
			return fmt.Errorf("video: plane %d texture is not sampleable", i)
		}
		if p.Components < 1 || p.Components > 4 {
			return fmt.Errorf("video: plane %d has %d components, want 1..4", i, p.Components)
		}
		for c := 0; c < p.Components; c++ {
			if m := p.ComponentMapping[c]; m < ChannelNone || m > ChannelA {
				return fmt.Errorf("video: plane %d channel %d maps to invalid id %d", i, c, m)
			}
		}
	}
	if f.RefPlane() < 0 {
		return fmt.Errorf("video: frame has no luma/RGB/XYZ reference plane")
	}
	if (f.Crop.W() == 0) != (f.Crop.H() == 0) {
		return fmt.Errorf("video: crop is zero-area on exactly one axis")
	}
	for i := range f.Overlays {
		ol := &f.Overlays[i]
		if ol.Plane.Texture == nil || !ol.Plane.Texture.Params().Sampleable {
			return fmt.Errorf("video: overlay %d plane is not sampleable", i)
		}
		if ol.Rect.W() == 0 || ol.Rect.H() == 0 {
			return fmt.Errorf("video: overlay %d has a degenerate rect", i)
		}
	}
	return nil
}

// IsCropped reports whether the frame's crop covers less than the full
// reference texture.
func (f *Frame) IsCropped() bool {
	c := f.Crop.Normalized()
	x0, y0 := int(roundf(c.X0)), int(roundf(c.Y0))
	x1, y1 := int(roundf(c.X1)), int(roundf(c.Y1))

	ref := f.RefTexture()
	if x0 == 0 && x1 == 0 {
		x1 = ref.Params().W
	}
	if y0 == 0 && y1 == 0 {
		y1 = ref.Params().H
	}
	return x0 > 0 || y0 > 0 || x1 < ref.Params().W || y1 < ref.Params().H
}

func roundf(x float32) float32 {
	if x < 0 {
		return -roundf(-x)
	}
	return float32(int(x + 0.5))
}

// ChromaLocation describes the siting of chroma samples relative to
// the luma grid.
type ChromaLocation uint8

const (
	ChromaUnknown ChromaLocation = iota
	ChromaLeft                   // MPEG-2/4, H.264 default
	ChromaCenter                 // MPEG-1, JPEG
	ChromaTopLeft
	ChromaTop
	ChromaBottomLeft
	ChromaBottom
)

// Offset returns the subpixel shift implied by the chroma location.
func (l ChromaLocation) Offset() (x, y float32) {
	switch l {
	case ChromaLeft:
		return -0.5, 0
	case ChromaTopLeft:
		return -0.5, -0.5
	case ChromaTop:
		return 0, -0.5
	case ChromaBottomLeft:
		return -0.5, 0.5
	case ChromaBottom:
		return 0, 0.5
	}
	return 0, 0
}

// SetChromaLocation applies the subpixel shift of the given chroma
// location to the frame's subsampled planes. If texture dimensions are
// known, only planes actually smaller than the reference are shifted;
// otherwise all chroma planes are.
func (f *Frame) SetChromaLocation(loc ChromaLocation) {
	sx, sy := loc.Offset()
	ref := f.RefTexture()

	if ref != nil {
		rw, rh := ref.Params().W, ref.Params().H
		for i := range f.Planes {
			p := &f.Planes[i]
			tp := p.Texture.Params()
			if tp.W < rw || tp.H < rh {
				p.ShiftX, p.ShiftY = sx, sy
			}
		}
		return
	}

	for i := range f.Planes {
		p := &f.Planes[i]
		if DetectPlaneType(p, &f.Repr) == PlaneChroma {
			p.ShiftX, p.ShiftY = sx, sy
		}
	}
}

// Clear fills all planes of a frame with the given RGB color, encoded
// through the frame's color representation.
func Clear(g gpu.GPU, f *Frame, rgb [3]float32) error {
	repr := f.Repr
	encoded := encodeColor(rgb, &repr)

	for i := range f.Planes {
		p := &f.Planes[i]
		clear := [4]float32{0, 0, 0, 1}
		for c := 0; c < p.Components; c++ {
			if m := p.ComponentMapping[c]; m >= 0 {
				clear[c] = encoded[m]
			}
		}
		if err := p.Texture.Clear(clear); err != nil {
			return err
		}
	}
	return nil
}

// encodeColor converts normalized RGB into the frame's encoded channel
// values, covering the matrix coefficients and signal ranges gv itself
// renders with.
func encodeColor(rgb [3]float32, repr *ColorRepr) [4]float32 {
	r, g, b := rgb[0], rgb[1], rgb[2]
	var out [4]float32
	out[3] = 1

	if repr.Sys.IsYCbCrLike() {
		kr, kb := lumaCoefficients(repr.Sys)
		kg := 1 - kr - kb
		y := kr*r + kg*g + kb*b
		cb := (b - y) / (2 * (1 - kb))
		cr := (r - y) / (2 * (1 - kr))
		if repr.Sys == ColorSystemYCgCo {
			cb = (2*g - r - b) / 4 // Cg
			cr = (r - b) / 2       // Co
		}
		if repr.Levels != ColorLevelsFull {
			y = y*(219.0/255.0) + 16.0/255.0
			cb *= 224.0 / 255.0
			cr *= 224.0 / 255.0
		}
		out[0], out[1], out[2] = y, cb+0.5, cr+0.5
		return out
	}

	if repr.Levels == ColorLevelsLimited {
		r = r*(219.0/255.0) + 16.0/255.0
		g = g*(219.0/255.0) + 16.0/255.0
		b = b*(219.0/255.0) + 16.0/255.0
	}
	out[0], out[1], out[2] = r, g, b
	return out
}

// lumaCoefficients returns the Kr/Kb constants of a YCbCr system.
func lumaCoefficients(sys ColorSystem) (kr, kb float32) {
	switch sys {
	case ColorSystemBT601:
		return 0.299, 0.114
	case ColorSystemBT2020NC:
		return 0.2627, 0.0593
	case ColorSystemYCgCo:
		return 0.25, 0.25
	default: // BT709
		return 0.2126, 0.0722
	}
}
