package osd

import (
	"image"
	"testing"

	"golang.org/x/image/font/gofont/goregular"

	"github.com/gogpu/gv/gputest"
	"github.com/gogpu/gv/video"
)

func TestParseFont(t *testing.T) {
	f, err := ParseFont(goregular.TTF)
	if err != nil {
		t.Fatalf("ParseFont: %v", err)
	}
	if f.gt == nil || f.ot == nil {
		t.Fatal("parsed font has nil internals")
	}
}

func TestParseFontRejectsGarbage(t *testing.T) {
	if _, err := ParseFont([]byte("not a font")); err == nil {
		t.Error("garbage accepted as font")
	}
}

func TestSegment(t *testing.T) {
	runs := segment("hello world", false)
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].rtl {
		t.Error("latin text detected as RTL")
	}
	if runs[0].text != "hello world" {
		t.Errorf("run text = %q", runs[0].text)
	}
}

func TestShape(t *testing.T) {
	f, err := ParseFont(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	glyphs := shape(f, "Test", &TextParams{Size: 24})
	if len(glyphs) != 4 {
		t.Fatalf("glyph count = %d, want 4", len(glyphs))
	}
	// Pen position advances monotonically for LTR text
	for i := 1; i < len(glyphs); i++ {
		if glyphs[i].x <= glyphs[i-1].x {
			t.Errorf("glyph %d did not advance: %f <= %f", i, glyphs[i].x, glyphs[i-1].x)
		}
	}
}

func TestRenderText(t *testing.T) {
	g := gputest.New(nil)
	f, err := ParseFont(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}

	ol, err := RenderText(g, f, "Subtitle", &TextParams{
		Size:  32,
		Color: [3]float32{1, 1, 1},
		Pos:   image.Point{X: 100, Y: 200},
	})
	if err != nil {
		t.Fatalf("RenderText: %v", err)
	}

	if ol.Mode != video.OverlayMonochrome {
		t.Error("overlay not monochrome")
	}
	if ol.Plane.Texture == nil || ol.Plane.Components != 1 {
		t.Error("overlay plane malformed")
	}
	if ol.Rect.X0 != 100 || ol.Rect.Y0 != 200 {
		t.Errorf("overlay rect origin = %d,%d", ol.Rect.X0, ol.Rect.Y0)
	}
	if ol.Rect.W() <= 0 || ol.Rect.H() <= 0 {
		t.Errorf("overlay rect degenerate: %+v", ol.Rect)
	}

	// The mask must contain at least some opaque texels
	tex := ol.Plane.Texture.(*gputest.Texture)
	nonZero := 0
	for _, b := range tex.Data {
		if b != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Error("rendered text mask is entirely transparent")
	}
}

func TestRenderTextEmpty(t *testing.T) {
	g := gputest.New(nil)
	f, err := ParseFont(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := RenderText(g, f, "", &TextParams{Size: 16}); err == nil {
		t.Error("empty text accepted")
	}
}
