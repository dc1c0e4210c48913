package shader

import "math"

// FilterFunction is a windowing or kernel function with finite support.
type FilterFunction struct {
	Name   string
	Radius float64
	Fn     func(x float64) float64
}

// FilterConfig describes a complete reconstruction filter.
type FilterConfig struct {
	Name   string
	Kernel *FilterFunction
	Window *FilterFunction

	// Polar evaluates the kernel radially (EWA) instead of separably.
	Polar bool

	// Clamp limits negative lobes; 1 disables them entirely.
	Clamp float64
}

// Radius returns the kernel support, or 0 for nil configs.
func (c *FilterConfig) Radius() float64 {
	if c == nil || c.Kernel == nil {
		return 0
	}
	return c.Kernel.Radius
}

// Sample evaluates the filter weight at offset x. Used both on the GPU
// (via generated LUTs) and on the CPU (frame mixing weights).
func (c *FilterConfig) Sample(x float64) float64 {
	x = math.Abs(x)
	if c.Kernel == nil || x >= c.Kernel.Radius {
		return 0
	}
	w := c.Kernel.Fn(x)
	if c.Window != nil && c.Window.Radius > 0 {
		w *= c.Window.Fn(x / c.Kernel.Radius * c.Window.Radius)
	}
	if c.Clamp > 0 && w < 0 {
		w *= 1 - c.Clamp
	}
	return w
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-8 {
		return 1
	}
	x *= math.Pi
	return math.Sin(x) / x
}

func cubicBC(b, c float64) func(x float64) float64 {
	return func(x float64) float64 {
		x = math.Abs(x)
		x2 := x * x
		x3 := x2 * x
		switch {
		case x < 1:
			return ((12-9*b-6*c)*x3 + (-18+12*b+6*c)*x2 + (6 - 2*b)) / 6
		case x < 2:
			return ((-b-6*c)*x3 + (6*b+30*c)*x2 + (-12*b-48*c)*x + (8*b + 24*c)) / 6
		default:
			return 0
		}
	}
}

func spline36(x float64) float64 {
	x = math.Abs(x)
	switch {
	case x < 1:
		return ((13.0/11.0*x-453.0/209.0)*x-3.0/209.0)*x + 1
	case x < 2:
		x -= 1
		return ((-6.0/11.0*x+270.0/209.0)*x - 156.0/209.0) * x
	case x < 3:
		x -= 2
		return ((1.0/11.0*x-45.0/209.0)*x + 26.0/209.0) * x
	default:
		return 0
	}
}

// Standard kernels.
var (
	KernelBox = &FilterFunction{
		Name: "box", Radius: 0.5,
		Fn: func(x float64) float64 { return 1 },
	}
	KernelTriangle = &FilterFunction{
		Name: "triangle", Radius: 1,
		Fn: func(x float64) float64 { return 1 - math.Abs(x) },
	}
	KernelBicubic = &FilterFunction{
		Name: "bicubic", Radius: 2, Fn: cubicBC(1, 0),
	}
	KernelMitchell = &FilterFunction{
		Name: "mitchell", Radius: 2, Fn: cubicBC(1.0/3.0, 1.0/3.0),
	}
	KernelSpline36 = &FilterFunction{
		Name: "spline36", Radius: 3, Fn: spline36,
	}
	KernelLanczos3 = &FilterFunction{
		Name: "lanczos3", Radius: 3,
		Fn: func(x float64) float64 { return sinc(x) * sinc(x/3) },
	}
	KernelJinc = &FilterFunction{
		Name: "jinc", Radius: 3.2383154841662362,
		Fn: func(x float64) float64 {
			// jinc(x) = 2*J1(pi*x)/(pi*x), which tends to 1 at the
			// origin; J1 is the first-order Bessel function.
			if math.Abs(x) < 1e-8 {
				return 1
			}
			x *= math.Pi
			return 2 * math.J1(x) / x
		},
	}
)

// Named filter configurations.
var (
	FilterNearest  = &FilterConfig{Name: "nearest", Kernel: KernelBox}
	FilterBilinear = &FilterConfig{Name: "bilinear", Kernel: KernelTriangle}
	FilterBicubic  = &FilterConfig{Name: "bicubic", Kernel: KernelBicubic}
	FilterMitchell = &FilterConfig{Name: "mitchell", Kernel: KernelMitchell}
	FilterMitchellClamp = &FilterConfig{
		Name: "mitchell_clamp", Kernel: KernelMitchell, Clamp: 1,
	}
	FilterSpline36 = &FilterConfig{Name: "spline36", Kernel: KernelSpline36}
	FilterLanczos3 = &FilterConfig{Name: "lanczos3", Kernel: KernelLanczos3}
	FilterEWALanczos = &FilterConfig{
		Name: "ewa_lanczos", Kernel: KernelJinc, Window: KernelJinc, Polar: true,
	}
)
