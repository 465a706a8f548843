// Package pool keeps reusable byte buffers for the hot read paths:
// detection sample reads during a scan and per-tick reads while
// tailing.
package pool

import "sync"

// BytePool hands out fixed-capacity byte slices.
type BytePool struct {
	size int
	pool sync.Pool
}

// NewBytePool returns a pool serving slices of exactly size bytes.
func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a slice at the pool's full length.
func (p *BytePool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put recycles b. Slices whose capacity does not match the pool are
// dropped so a reconfigured caller cannot poison it.
func (p *BytePool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// Size reports the slice length this pool serves.
func (p *BytePool) Size() int { return p.size }

// Sample serves the 128KB buffers used to read detection samples. The
// size is the sample read cap in the parser's encoding layer.
var Sample = NewBytePool(128 * 1024)
