package video

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/gv/gpu"
)

// FromImage uploads a Go image as a single-plane RGBA frame. The image
// is converted to 8-bit RGBA via x/image/draw if it is not already in
// that layout.
//
// The caller owns the returned frame's texture.
func FromImage(g gpu.GPU, img image.Image) (*Frame, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*w {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	format := gpu.FindFormat(g, gpu.FormatTypeUNORM, 4, 8, gpu.FormatCapSampleable)
	if format == nil {
		return nil, fmt.Errorf("video: no sampleable rgba8 format available")
	}

	tex, err := g.CreateTexture(&gpu.TextureParams{
		W:           w,
		H:           h,
		Format:      format,
		Sampleable:  true,
		InitialData: rgba.Pix,
	})
	if err != nil {
		return nil, fmt.Errorf("video: uploading image: %w", err)
	}

	return &Frame{
		Planes: []Plane{{
			Texture:          tex,
			Components:       4,
			ComponentMapping: [4]Channel{ChannelR, ChannelG, ChannelB, ChannelA},
		}},
		Repr: ColorRepr{
			Sys:    ColorSystemRGB,
			Levels: ColorLevelsFull,
			Alpha:  AlphaIndependent,
			Bits:   BitEncoding{SampleDepth: 8, ColorDepth: 8},
		},
		Color: ColorSpace{
			Primaries: PrimariesBT709,
			Transfer:  TransferSRGB,
		},
		Crop: gpu.RectF{X1: float32(w), Y1: float32(h)},
	}, nil
}
