package shader

import (
	"math"
	"testing"
)

func TestFilterSampleCenter(t *testing.T) {
	for _, cfg := range []*FilterConfig{
		FilterBilinear, FilterBicubic, FilterMitchell, FilterSpline36, FilterLanczos3,
	} {
		got := cfg.Sample(0)
		if math.Abs(got-1.0) > 0.05 {
			t.Errorf("%s: Sample(0) = %f, want ~1", cfg.Name, got)
		}
	}
}

func TestFilterSampleOutsideSupport(t *testing.T) {
	for _, cfg := range []*FilterConfig{
		FilterBilinear, FilterBicubic, FilterSpline36, FilterLanczos3,
	} {
		if got := cfg.Sample(cfg.Radius() + 0.01); got != 0 {
			t.Errorf("%s: Sample(beyond radius) = %f, want 0", cfg.Name, got)
		}
		if got := cfg.Sample(-cfg.Radius() - 0.01); got != 0 {
			t.Errorf("%s: Sample(-beyond radius) = %f, want 0", cfg.Name, got)
		}
	}
}

func TestFilterSampleSymmetry(t *testing.T) {
	for _, x := range []float64{0.25, 0.5, 1.0, 1.5} {
		a := FilterMitchell.Sample(x)
		b := FilterMitchell.Sample(-x)
		if a != b {
			t.Errorf("Mitchell not symmetric at %f: %f vs %f", x, a, b)
		}
	}
}

func TestFilterClamp(t *testing.T) {
	// Lanczos has negative lobes; a fully clamped variant must not
	lanczosClamp := &FilterConfig{Kernel: KernelLanczos3, Clamp: 1}
	for x := 0.0; x < 3.0; x += 0.05 {
		if w := lanczosClamp.Sample(x); w < 0 {
			t.Fatalf("clamped filter produced negative weight %f at %f", w, x)
		}
	}
}

func TestNilConfigSample(t *testing.T) {
	var cfg *FilterConfig
	if cfg.Radius() != 0 {
		t.Error("nil config has nonzero radius")
	}
	oversample := &FilterConfig{Name: "oversample"}
	if oversample.Sample(0.1) != 0 {
		t.Error("kernel-less config sampled nonzero")
	}
}
