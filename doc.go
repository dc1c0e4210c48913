// Package gv is a GPU shader rendering library for video: it plans
// and executes the shader passes that turn decoded multi-plane frames
// (YCbCr, RGB, XYZ; subsampled chroma; HDR) into rendered output,
// including scaling, color management, debanding, dithering, film
// grain, user shader hooks and temporal frame mixing.
//
// The two central packages are render (the pipeline planner) and
// dispatch (the shader dispatch engine). Everything talks to the GPU
// through the backend-agnostic gpu package; backend/wgpu adapts the
// gogpu WebGPU stack, and gputest provides an in-memory backend for
// tests.
//
// gv receives its GPU device from the host application and never
// creates one itself. See the render package for the main entry
// points.
package gv
