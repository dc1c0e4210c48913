// Package gpu defines the backend abstraction consumed by the rest of gv.
//
// A backend implements the GPU interface: opaque textures, buffers,
// render/compute passes and timers, plus capability and limit queries.
// gv itself never talks to a graphics API directly; everything it does is
// expressed through this surface. The gputest package provides an
// in-memory implementation for tests, and backend/wgpu adapts the gogpu
// WebGPU stack.
//
// Key principle: gv RECEIVES the device from the host, it does NOT create
// one. All objects created through a GPU must be destroyed before the
// backend itself is torn down.
package gpu
