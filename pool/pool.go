// Package pool implements the fixed-size buffer arena and intrusive
// free list: a single pre-allocated byte arena sliced into MTU-sized
// Buffer descriptors, reclaimed through a singly-linked free list
// rather than left to the garbage collector. Reuse is deterministic
// and GC-free; a buffer is never referenced after release and never
// double-freed.
//
// Author: momentics <momentics@gmail.com>
package pool

import (
	"sync"

	"warpcore/api"
)

// HeadReserve is the number of bytes reserved at the front of every
// slot for the largest header template the stack builds: Ethernet (14)
// + IPv6 (40) + UDP (8), rounded up. Per-socket header templates that
// are shorter (IPv4) simply start further into this reservation.
const HeadReserve = 64

// Pool is a fixed-capacity arena of Buffers, each HeadReserve bytes of
// headroom plus bufSize bytes of payload capacity. It satisfies
// api.BufferPool and api.Releaser. The free list itself is an
// api.BufferQueue so a whole queue returned via Free concatenates onto
// it in O(1), the same splice api.BufferQueue.Concat already gives
// socket receive/transmit chains.
type Pool struct {
	mu   sync.Mutex
	free api.BufferQueue

	arena      []byte
	bufSize    int // payload capacity per slot, excludes HeadReserve
	slotStride int
	capacity   int

	totalAlloc int64
	totalFree  int64
}

var _ api.BufferPool = (*Pool)(nil)
var _ api.Releaser = (*Pool)(nil)

// New allocates count slots of bufSize payload bytes each (plus
// HeadReserve headroom) and links them onto the free list.
func New(count, bufSize int) *Pool {
	stride := HeadReserve + bufSize
	p := &Pool{
		arena:      make([]byte, count*stride),
		bufSize:    bufSize,
		slotStride: stride,
		capacity:   count,
	}
	for i := 0; i < count; i++ {
		b := &api.Buffer{
			Idx:  i,
			Base: p.arena[i*stride : (i+1)*stride : (i+1)*stride],
			Pool: p,
		}
		p.free.PushBack(b)
	}
	return p
}

// Alloc removes one buffer from the free list sized to length bytes of
// payload (or the full remaining slot capacity if length == 0) preceded
// by HeadReserve+off bytes of headroom, i.e. off extra bytes of
// headroom reserved beyond the fixed HeadReserve.
// Returns nil on exhaustion.
func (p *Pool) Alloc(length, off int) *api.Buffer {
	p.mu.Lock()
	b := p.free.PopFront()
	if b == nil {
		p.mu.Unlock()
		return nil
	}
	p.totalAlloc++
	p.mu.Unlock()

	avail := p.bufSize - off
	if length == 0 || length > avail {
		length = avail
	}
	b.Off = HeadReserve + off
	b.Length = length
	b.Flags = 0
	return b
}

// AllocLen allocates into out until qlen payload bytes are queued,
// splitting across multiple buffers and truncating the last one to fit
// exactly. Returns the number of bytes actually queued, which is less
// than qlen only on pool exhaustion.
func (p *Pool) AllocLen(out *api.BufferQueue, qlen, length, off int) int {
	if length <= 0 {
		length = p.bufSize - off
	}
	queued := 0
	for queued < qlen {
		want := qlen - queued
		if want > length {
			want = length
		}
		b := p.Alloc(want, off)
		if b == nil {
			break
		}
		out.PushBack(b)
		queued += b.Length
	}
	return queued
}

// AllocCnt allocates count buffers into out, each sized as
// Alloc(length, off) sizes one (the full slot capacity when length ==
// 0), stopping early on exhaustion. Returns the number of buffers
// allocated.
func (p *Pool) AllocCnt(out *api.BufferQueue, count, length, off int) int {
	n := 0
	for i := 0; i < count; i++ {
		b := p.Alloc(length, off)
		if b == nil {
			break
		}
		out.PushBack(b)
		n++
	}
	return n
}

// Free concatenates an entire queue onto the free list in O(1): the
// queue's own head/tail splice onto the pool's free list directly,
// with no per-buffer walk.
func (p *Pool) Free(q *api.BufferQueue) {
	if q == nil || q.Empty() {
		return
	}
	n := q.Len()
	p.mu.Lock()
	p.free.Concat(q)
	p.totalFree += int64(n)
	p.mu.Unlock()
}

// FreeOne returns a single buffer to the free list.
func (p *Pool) FreeOne(b *api.Buffer) {
	if b == nil {
		return
	}
	if b.Next != nil {
		panic("pool: buffer freed while still linked on another queue")
	}
	p.mu.Lock()
	p.free.PushBack(b)
	p.totalFree++
	p.mu.Unlock()
}

// Release implements api.Releaser so Buffer.Release() can return a
// buffer without knowing the concrete pool type.
func (p *Pool) Release(b *api.Buffer) {
	p.FreeOne(b)
}

// Stats reports pool usage counters.
func (p *Pool) Stats() api.BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.BufferPoolStats{
		Capacity:   int64(p.capacity),
		TotalAlloc: p.totalAlloc,
		TotalFree:  p.totalFree,
		InUse:      int64(p.capacity) - int64(p.free.Len()),
	}
}

// BufSize returns the per-slot payload capacity (excludes HeadReserve).
func (p *Pool) BufSize() int { return p.bufSize }
