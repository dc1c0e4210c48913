package video

import "github.com/gogpu/gv/gpu"

// Source is the surface consumed from frame producers (decoders,
// upload queues). A producer maps its decoded data into textures on
// demand and is told when the renderer is done with them.
//
// Presentation times attached to frames from one source must be
// monotonically non-decreasing.
type Source interface {
	// Map realizes the source's data into out, (re)using the provided
	// textures where possible. Returns false if the source could not
	// be mapped; the frame is then skipped.
	Map(g gpu.GPU, out *Frame) bool

	// Unmap releases a previously mapped frame.
	Unmap(g gpu.GPU, frame *Frame)

	// Discard drops the source without mapping it.
	Discard()
}
