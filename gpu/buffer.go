package gpu

// BufferParams describes a buffer at creation time.
type BufferParams struct {
	Size int

	// Usage flags.
	Uniform      bool
	Storage      bool
	Vertex       bool
	Index        bool
	HostWritable bool
	HostReadable bool

	// Format tags texel buffers; nil otherwise.
	Format *Format

	// InitialData, if non-nil, initializes the buffer contents.
	InitialData []byte
}

// Buffer is an opaque handle to a backend buffer.
type Buffer interface {
	// Params returns the creation parameters. The returned struct must
	// not be modified.
	Params() *BufferParams

	// Write copies host data into the buffer at the given offset.
	// Requires the HostWritable usage flag.
	Write(offset int, data []byte) error

	// Read copies buffer data into host memory. Requires the
	// HostReadable usage flag.
	Read(offset int, data []byte) error

	// CopyFrom copies a range from another buffer.
	CopyFrom(src Buffer, dstOffset, srcOffset, size int) error

	// Destroy releases the buffer.
	Destroy()
}
