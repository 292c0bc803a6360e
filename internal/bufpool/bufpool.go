// Package bufpool hands out reusable byte slices for upload payloads.
//
// Every upload is received fully into memory before it is handed to the
// storage backend, so the worker that owns the connection needs a buffer
// sized to the announced content length. Most uploads are small, and
// recycling buffers by size class keeps the allocator out of the hot path
// when many short uploads arrive back to back.
//
// Buffers larger than the largest class are allocated directly and dropped
// on Put, so a single huge upload never pins its memory in the pool. Callers
// receiving more than MaxPooledSize bytes should grow their buffer as data
// arrives instead of trusting an announced length.
package bufpool

import (
	"sync"
)

const (
	// smallSize covers file names and tiny payloads.
	smallSize = 4 << 10 // 4KB

	// mediumSize covers typical documents and config files.
	mediumSize = 64 << 10 // 64KB

	// largeSize covers images and small archives.
	largeSize = 1 << 20 // 1MB

	// hugeSize is the largest pooled class.
	hugeSize = 16 << 20 // 16MB
)

// MaxPooledSize is the largest size served from a pooled class.
const MaxPooledSize = hugeSize

type pool struct {
	classes [4]sync.Pool
	sizes   [4]int
}

func newPool() *pool {
	p := &pool{sizes: [4]int{smallSize, mediumSize, largeSize, hugeSize}}
	for i := range p.classes {
		size := p.sizes[i]
		p.classes[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

var global = newPool()

// Get returns a slice of exactly size bytes. The backing array may be
// larger when it comes from a pooled class.
func (p *pool) Get(size uint32) []byte {
	for i, classSize := range p.sizes {
		if int(size) <= classSize {
			buf := *(p.classes[i].Get().(*[]byte))
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the class matching its capacity. Slices with a
// capacity that matches no class are left to the garbage collector.
func (p *pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	for i, classSize := range p.sizes {
		if cap(buf) == classSize {
			full := buf[:classSize]
			p.classes[i].Put(&full)
			return
		}
	}
}

// Get acquires a buffer of size bytes from the global pool.
//
//	buf := bufpool.Get(n)
//	defer bufpool.Put(buf)
func Get(size uint32) []byte {
	return global.Get(size)
}

// Put releases a buffer obtained from Get.
func Put(buf []byte) {
	global.Put(buf)
}
