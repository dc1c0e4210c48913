// Package osd rasterizes subtitle / on-screen-display text into
// monochrome overlay planes consumable by the renderer.
//
// Shaping runs through go-text/typesetting (kerning, ligatures,
// complex scripts), paragraph direction through x/text's bidi
// algorithm, and rasterization through x/image/font. The output is an
// alpha mask uploaded as a single-channel texture, wrapped into a
// video.Overlay in monochrome mode.
package osd

import (
	"bytes"
	"fmt"
	"image"

	"github.com/go-text/typesetting/di"
	gtfont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/bidi"

	"github.com/gogpu/gv/gpu"
	"github.com/gogpu/gv/video"
)

// Font is a parsed font usable for overlay text.
type Font struct {
	gt *gtfont.Font
	ot *opentype.Font
}

// ParseFont parses TTF/OTF font data.
func ParseFont(data []byte) (*Font, error) {
	gtFace, err := gtfont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("osd: parsing font: %w", err)
	}
	otFont, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("osd: parsing font: %w", err)
	}
	return &Font{gt: gtFace.Font, ot: otFont}, nil
}

// TextParams styles one rendered text overlay.
type TextParams struct {
	// Size is the font size in pixels per em.
	Size float64

	// Color is the fill color, in the target's color space.
	Color [3]float32

	// Pos is the top-left position of the overlay in frame pixels.
	Pos image.Point

	// RTL sets the base paragraph direction to right-to-left.
	RTL bool
}

// run is one directional segment of the input text.
type run struct {
	text string
	rtl  bool
}

// segment splits text into bidi runs in visual order.
func segment(text string, baseRTL bool) []run {
	defaultDir := bidi.Neutral
	if baseRTL {
		defaultDir = bidi.RightToLeft
	}

	var p bidi.Paragraph
	if _, err := p.SetString(text, bidi.DefaultDirection(defaultDir)); err != nil {
		return []run{{text: text}}
	}
	ordering, err := p.Order()
	if err != nil {
		return []run{{text: text}}
	}

	runs := make([]run, 0, ordering.NumRuns())
	for i := 0; i < ordering.NumRuns(); i++ {
		r := ordering.Run(i)
		runs = append(runs, run{
			text: r.String(),
			rtl:  r.Direction() == bidi.RightToLeft,
		})
	}
	return runs
}

// shapedGlyph is one positioned glyph ready for rasterization.
type shapedGlyph struct {
	r rune
	x float64
	y float64
}

// shape produces positioned glyphs for all runs of the text.
func shape(f *Font, text string, params *TextParams) []shapedGlyph {
	var glyphs []shapedGlyph
	var penX float64

	shaper := &shaping.HarfbuzzShaper{}
	for _, rn := range segment(text, params.RTL) {
		runes := []rune(rn.text)
		dir := di.DirectionLTR
		if rn.rtl {
			dir = di.DirectionRTL
		}

		out := shaper.Shape(shaping.Input{
			Text:      runes,
			RunStart:  0,
			RunEnd:    len(runes),
			Direction: dir,
			Face:      gtfont.NewFace(f.gt),
			Size:      fixed.Int26_6(params.Size * 64),
			Script:    detectScript(runes),
			Language:  language.NewLanguage("und"),
		})

		for _, g := range out.Glyphs {
			idx := g.TextIndex()
			if idx < 0 || idx >= len(runes) {
				continue
			}
			glyphs = append(glyphs, shapedGlyph{
				r: runes[idx],
				x: penX + fixedToFloat(g.XOffset),
				y: fixedToFloat(g.YOffset),
			})
			penX += fixedToFloat(g.Advance)
		}
	}
	return glyphs
}

// detectScript returns the script of the first non-space rune.
func detectScript(runes []rune) language.Script {
	for _, r := range runes {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return language.LookupScript(r)
	}
	return language.Latin
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64.0
}

// RenderText rasterizes text into an alpha mask texture and returns it
// as a monochrome overlay positioned at params.Pos. The caller owns
// the overlay's texture.
func RenderText(g gpu.GPU, f *Font, text string, params *TextParams) (*video.Overlay, error) {
	if text == "" {
		return nil, fmt.Errorf("osd: empty text")
	}

	face, err := opentype.NewFace(f.ot, &opentype.FaceOptions{
		Size:    params.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("osd: creating face: %w", err)
	}
	defer face.Close()

	metrics := face.Metrics()
	ascent := fixedToFloat(metrics.Ascent)
	height := int(fixedToFloat(metrics.Height)) + 2

	glyphs := shape(f, text, params)
	if len(glyphs) == 0 {
		return nil, fmt.Errorf("osd: no glyphs shaped")
	}

	// Measure the total advance to size the mask
	var width float64
	for _, gl := range glyphs {
		adv, ok := face.GlyphAdvance(gl.r)
		if !ok {
			continue
		}
		width = maxf(width, gl.x+fixedToFloat(adv))
	}
	w := int(width) + 2
	if w < 1 || height < 1 {
		return nil, fmt.Errorf("osd: degenerate text dimensions")
	}

	mask := image.NewAlpha(image.Rect(0, 0, w, height))
	drawer := &font.Drawer{
		Dst:  mask,
		Src:  image.White,
		Face: face,
	}
	for _, gl := range glyphs {
		drawer.Dot = fixed.Point26_6{
			X: fixed.Int26_6((gl.x) * 64),
			Y: fixed.Int26_6((ascent + gl.y) * 64),
		}
		drawer.DrawString(string(gl.r))
	}

	format := gpu.FindFormat(g, gpu.FormatTypeUNORM, 1, 8,
		gpu.FormatCapSampleable|gpu.FormatCapLinear)
	if format == nil {
		return nil, fmt.Errorf("osd: no single-channel mask format available")
	}

	// image.Alpha is tightly packed when allocated at origin
	tex, err := g.CreateTexture(&gpu.TextureParams{
		W:           w,
		H:           height,
		Format:      format,
		Sampleable:  true,
		InitialData: mask.Pix,
	})
	if err != nil {
		return nil, fmt.Errorf("osd: uploading text mask: %w", err)
	}

	return &video.Overlay{
		Plane: video.Plane{
			Texture:          tex,
			Components:       1,
			ComponentMapping: [4]video.Channel{video.ChannelR, video.ChannelNone, video.ChannelNone, video.ChannelNone},
		},
		Rect: gpu.Rect2D{
			X0: params.Pos.X,
			Y0: params.Pos.Y,
			X1: params.Pos.X + w,
			Y1: params.Pos.Y + height,
		},
		Mode:      video.OverlayMonochrome,
		BaseColor: params.Color,
		Repr: video.ColorRepr{
			Sys:    video.ColorSystemRGB,
			Levels: video.ColorLevelsFull,
			Alpha:  video.AlphaIndependent,
		},
	}, nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
