// Package pool provides typed object pools for the buffers and codec state
// reused across block compression.
//
//	writers := pool.New(
//	    func() *gzip.Writer { w, _ := gzip.NewWriterLevel(nil, level); return w },
//	    nil,
//	)
//	w := writers.Get()
//	defer writers.Put(w)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool with an optional reset hook
// and usage counters. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. newFn builds an object when the pool is empty; reset,
// if not nil, runs before an object is returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get takes an object from the pool, allocating one if needed.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats reports how many objects were allocated, how many are checked out
// and how many Get calls were served.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets)
}

// maxPooledBuffer bounds the capacity of buffers kept for reuse.
const maxPooledBuffer = 4 << 20

// Buffers holds scratch byte buffers.
var Buffers = New(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty scratch buffer.
func GetBuffer() *bytes.Buffer {
	return Buffers.Get()
}

// PutBuffer returns b to Buffers unless it grew past maxPooledBuffer.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		atomic.AddInt64(&Buffers.stats.inUse, -1)
		return
	}
	Buffers.Put(b)
}

// Detach copies the contents of b so b can be returned to the pool.
func Detach(b *bytes.Buffer) []byte {
	return append([]byte(nil), b.Bytes()...)
}
