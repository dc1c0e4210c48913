package render

import (
	"testing"

	"github.com/gogpu/gv/gputest"
)

// poolState simulates one planner call against the pool.
func poolState(rr *Renderer) *passState {
	return &passState{rr: rr, fbosUsed: make([]bool, len(rr.fbos))}
}

func TestPoolReusesAcrossCalls(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	// Two calls, each claiming two textures of the same shapes: the
	// second call must not grow the pool
	for call := 0; call < 2; call++ {
		ps := poolState(rr)
		if ps.getFBO(256, 256, nil, 4) == nil {
			t.Fatal("getFBO failed")
		}
		if ps.getFBO(128, 128, nil, 4) == nil {
			t.Fatal("getFBO failed")
		}
	}
	if len(rr.fbos) != 2 {
		t.Errorf("pool size = %d, want 2 (peak concurrent set)", len(rr.fbos))
	}
}

func TestPoolPeakAllocation(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	// Peak concurrent usage of 3 within one call, then repeated calls
	// with smaller footprints: the pool never exceeds the peak
	ps := poolState(rr)
	for i := 0; i < 3; i++ {
		if ps.getFBO(64, 64, nil, 4) == nil {
			t.Fatal("getFBO failed")
		}
	}
	for call := 0; call < 4; call++ {
		ps := poolState(rr)
		ps.getFBO(64, 64, nil, 4)
		ps.getFBO(64, 64, nil, 4)
	}
	if len(rr.fbos) != 3 {
		t.Errorf("pool size = %d, want 3", len(rr.fbos))
	}
}

func TestPoolPrefersClosestSize(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	ps := poolState(rr)
	a := ps.getFBO(1000, 1000, nil, 4)
	b := ps.getFBO(100, 100, nil, 4)
	if a == nil || b == nil {
		t.Fatal("getFBO failed")
	}

	// A request close to the small texture's shape must recycle the
	// small slot, not the big one
	ps2 := poolState(rr)
	c := ps2.getFBO(110, 110, nil, 4)
	if c == nil {
		t.Fatal("getFBO failed")
	}
	if len(rr.fbos) != 2 {
		t.Fatalf("pool grew to %d", len(rr.fbos))
	}
	// The recreated slot has exactly the requested size
	tp := c.Params()
	if tp.W != 110 || tp.H != 110 {
		t.Errorf("recycled texture size = %dx%d", tp.W, tp.H)
	}
	// The big texture is untouched
	if rr.fbos[0].Params().W != 1000 {
		t.Error("wrong slot was recycled")
	}
}

func TestPoolFormatMismatchPenalty(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	f16 := findFormat(t, g, "rgba16f")
	f8 := findFormat(t, g, "rgba8")

	ps := poolState(rr)
	ps.getFBO(256, 256, f16, 4)
	ps.getFBO(250, 250, f8, 4)

	// Same format wins over closer size
	ps2 := poolState(rr)
	c := ps2.getFBO(256, 256, f8, 4)
	if c == nil {
		t.Fatal("getFBO failed")
	}
	if len(rr.fbos) != 2 {
		t.Fatalf("pool grew to %d", len(rr.fbos))
	}
	if c.Params().Format != f8 {
		t.Error("format mismatch penalty not honored")
	}
}

func TestPoolMarksUsage(t *testing.T) {
	g := gputest.New(nil)
	rr := New(nil, g)
	defer rr.Destroy()

	// Within one call, identical requests must get distinct textures
	ps := poolState(rr)
	a := ps.getFBO(64, 64, nil, 4)
	b := ps.getFBO(64, 64, nil, 4)
	if a == b {
		t.Error("pool handed out the same texture twice in one call")
	}
}
