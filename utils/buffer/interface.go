package buffer

// PooledBuffer is host memory with an explicit release.
type PooledBuffer interface {
	Data() []byte

	Len() int
	Cap() int

	// Release returns the buffer to its owner. After calling Release,
	// the buffer must not be used. Releasing twice is a no-op.
	Release()

	Resize(int)
}
