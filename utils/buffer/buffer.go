package buffer

import "sync"

const (
	defaultBufSize = 4 * 1024         // 4KB
	bigBufSize     = 64 * 1024        // 64KB
	frameBufSize   = 1024 * 1024      // 1MB, anything larger is a picture plane
	maxBufSize     = 16 * 1024 * 1024 // pooled buffers above this are left to the GC
)

var (
	bufPool = sync.Pool{
		New: func() any {
			return &memBuffer{buf: make([]byte, 0, defaultBufSize)}
		},
	}
	bigBufPool = sync.Pool{
		New: func() any {
			return &memBuffer{buf: make([]byte, 0, bigBufSize)}
		},
	}
	frameBufPool = sync.Pool{
		New: func() any {
			return &memBuffer{buf: make([]byte, 0, frameBufSize)}
		},
	}
)

func poolFor(capacity int) *sync.Pool {
	switch {
	case capacity >= frameBufSize:
		return &frameBufPool
	case capacity >= bigBufSize:
		return &bigBufPool
	}
	return &bufPool
}

// Get returns a pooled buffer of length size. Contents are not zeroed.
func Get(size int) PooledBuffer {
	b, _ := poolFor(size).Get().(*memBuffer)
	if cap(b.buf) < size {
		b.buf = make([]byte, size)
	}
	b.buf = b.buf[:size]
	b.released = false
	return b
}

type memBuffer struct {
	buf      []byte
	released bool
}

func (b *memBuffer) Data() []byte {
	return b.buf
}

func (b *memBuffer) Len() int {
	return len(b.buf)
}

func (b *memBuffer) Cap() int {
	return cap(b.buf)
}

// Resize changes the length, reallocating only when the capacity is too small.
func (b *memBuffer) Resize(size int) {
	if size > cap(b.buf) {
		newBuf := make([]byte, size)
		copy(newBuf, b.buf)
		b.buf = newBuf
	} else {
		b.buf = b.buf[:size]
	}
}

func (b *memBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	if cap(b.buf) > maxBufSize {
		b.buf = nil
		return
	}
	b.buf = b.buf[:0]
	poolFor(cap(b.buf)).Put(b)
}
