package video

import "github.com/gogpu/gv/gpu"

// OverlayMode selects how an overlay plane's channels are interpreted.
type OverlayMode uint8

const (
	// OverlayNormal blends the overlay's own colors.
	OverlayNormal OverlayMode = iota

	// OverlayMonochrome treats the first channel as an alpha mask and
	// fills with BaseColor. Used for subtitle bitmaps.
	OverlayMonochrome
)

// Overlay is an image composited on top of a frame, such as subtitles
// or an on-screen display.
type Overlay struct {
	Plane Plane

	// Rect is the destination rectangle in the frame's pixel space.
	Rect gpu.Rect2D

	Mode OverlayMode

	// BaseColor fills monochrome overlays.
	BaseColor [3]float32

	// Repr and Color describe the overlay's own encoding.
	Repr  ColorRepr
	Color ColorSpace
}
