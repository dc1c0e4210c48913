package dispatch

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gogpu/gv/gputest"
	"github.com/gogpu/gv/shader"
)

func compileN(t *testing.T, d *Dispatch, g *gputest.GPU, n int) {
	t.Helper()
	target := renderTarget(t, g, 32, 32, "rgba8")
	for i := 0; i < n; i++ {
		sh := d.Begin()
		sh.SetOutput(shader.SigColor)
		sh.GLSL("color = vec4(%d.0, 0.0, 0.0, 1.0);\n", i)
		if err := d.Finish(&Params{Shader: sh, Target: target}); err != nil {
			t.Fatalf("Finish %d: %v", i, err)
		}
	}
}

func TestSaveFormat(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	compileN(t, d, g, 2)

	blob := d.Save()
	if len(blob) < 12 {
		t.Fatal("blob too short")
	}
	if string(blob[:4]) != "PLDP" {
		t.Errorf("magic = %q", blob[:4])
	}
	if v := binary.LittleEndian.Uint32(blob[4:]); v != 1 {
		t.Errorf("version = %d", v)
	}
	if n := binary.LittleEndian.Uint32(blob[8:]); n != 2 {
		t.Errorf("entry count = %d, want 2", n)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	compileN(t, d, g, 3)

	blob := d.Save()

	// Loading into a fresh engine and saving again must reproduce the
	// blob byte for byte
	d2, _ := newTestDispatch(nil)
	defer d2.Destroy()
	if err := d2.Load(blob); err != nil {
		t.Fatalf("Load: %v", err)
	}
	blob2 := d2.Save()
	if !bytes.Equal(blob, blob2) {
		t.Error("load-then-save did not round-trip")
	}
}

func TestLoadSkipsCompilation(t *testing.T) {
	d, g := newTestDispatch(nil)
	compileN(t, d, g, 3)
	blob := d.Save()
	d.Destroy()

	// A fresh engine with the cache loaded must not compile any
	// backend program for the same shaders
	d2, g2 := newTestDispatch(nil)
	defer d2.Destroy()
	if err := d2.Load(blob); err != nil {
		t.Fatalf("Load: %v", err)
	}
	compileN(t, d2, g2, 3)
	if n := g2.ProgramsCompiled.Load(); n != 0 {
		t.Errorf("programs compiled = %d, want 0 (all restored from cache)", n)
	}
	if n := g2.PassesCreated.Load(); n != 3 {
		t.Errorf("passes created = %d, want 3", n)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	d, _ := newTestDispatch(nil)
	defer d.Destroy()
	if err := d.Load([]byte("XXXX\x01\x00\x00\x00\x00\x00\x00\x00")); err == nil {
		t.Error("Load accepted invalid magic")
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	compileN(t, d, g, 1)
	blob := d.Save()
	binary.LittleEndian.PutUint32(blob[4:], 99)

	d2, _ := newTestDispatch(nil)
	defer d2.Destroy()
	if err := d2.Load(blob); err == nil {
		t.Error("Load accepted unknown version")
	}
	if len(d2.cached) != 0 {
		t.Error("entries were loaded despite version mismatch")
	}
}

func TestLoadDeduplicates(t *testing.T) {
	d, g := newTestDispatch(nil)
	defer d.Destroy()
	compileN(t, d, g, 2)
	blob := d.Save()

	d2, _ := newTestDispatch(nil)
	defer d2.Destroy()
	if err := d2.Load(blob); err != nil {
		t.Fatal(err)
	}
	if err := d2.Load(blob); err != nil {
		t.Fatal(err)
	}
	if len(d2.cached) != 2 {
		t.Errorf("cached entries = %d, want 2 after duplicate load", len(d2.cached))
	}
}
