// File: api/buffer.go
// Package api defines Buffer, the intrusive buffer queue, and BufferPool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Buffer is a descriptor over one fixed-size slot of the engine's shared
// arena. Base is the slot's full backing region (the pool's fixed header
// reservation followed by MTU bytes of payload capacity); Off marks where valid
// data starts inside it (headroom reserved for Ethernet+IP+UDP headers
// lives in Base[:Off]); Length is the valid payload size. The invariant
// Off+Length <= len(Base) holds for the lifetime of the descriptor.
//
// A Buffer is owned by exactly one of: the pool's free list, a caller
// holding an exclusive reference, a socket's receive queue, or a NIC ring
// slot (see ring.Backend). Ownership moves are not enforced by the type
// system (Go has no linear types); pool.Pool asserts Next == nil on every
// free-list insertion as the runtime backstop.
type Buffer struct {
	Idx    int    // slot index in the owning pool's arena
	Base   []byte // backing region, len(Base) == pool.HeadReserve + the pool's payload size (MTU)
	Off    int    // Data = Base[Off : Off+Length]
	Length int    // valid payload length

	Flags uint8 // transmit DSCP/ECN bits, copied into the IP header's TOS/traffic-class

	Next *Buffer // intrusive singly-linked queue link; nil when unlinked

	Pool Releaser // owning pool, used by Release

	SrcAddr Addr   // stamped by udpstack on receive
	SrcPort uint16 // stamped by udpstack on receive
}

// Releaser decouples Buffer.Release from a concrete pool implementation.
type Releaser interface {
	Release(b *Buffer)
}

// Bytes returns the valid payload slice.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.Base[b.Off : b.Off+b.Length]
}

// Headroom returns the number of reserved bytes before the payload.
func (b *Buffer) Headroom() int { return b.Off }

// Tailroom returns the number of unused bytes after the payload.
func (b *Buffer) Tailroom() int { return len(b.Base) - b.Off - b.Length }

// Prepend reserves n additional bytes immediately before the current
// payload and returns that region for a header to be written into. It
// panics if fewer than n headroom bytes remain; layers are expected to size
// their header template's headroom so this never happens on the transmit
// fast path.
func (b *Buffer) Prepend(n int) []byte {
	if n > b.Off {
		panic("api: buffer headroom exhausted")
	}
	b.Off -= n
	b.Length += n
	return b.Base[b.Off : b.Off+n]
}

// Reset collapses the descriptor to cover exactly Base[off : off+length],
// discarding any headers below off. Used by udpstack on receive to trim a
// buffer down to just its UDP payload before handing it to a socket.
func (b *Buffer) Reset(off, length int) {
	b.Off = off
	b.Length = length
}

// Release returns the buffer to its owning pool. A nil Pool is a no-op,
// which lets test code construct bare Buffers without a backing pool.
func (b *Buffer) Release() {
	if b.Pool != nil {
		b.Pool.Release(b)
	}
}

// BufferQueue is a move-only singly-linked intrusive FIFO of buffers.
// PushBack/PopFront are O(1); Concat splices another queue onto the tail in
// O(1) and empties it. A Buffer never appears on two queues at once as long
// as callers only reach it through one BufferQueue at a time.
type BufferQueue struct {
	head, tail *Buffer
	n          int
}

// PushBack appends b, which must be unlinked (Next == nil).
func (q *BufferQueue) PushBack(b *Buffer) {
	if b == nil {
		return
	}
	b.Next = nil
	if q.tail == nil {
		q.head, q.tail = b, b
	} else {
		q.tail.Next = b
		q.tail = b
	}
	q.n++
}

// PopFront removes and returns the head buffer, or nil if empty.
func (q *BufferQueue) PopFront() *Buffer {
	b := q.head
	if b == nil {
		return nil
	}
	q.head = b.Next
	if q.head == nil {
		q.tail = nil
	}
	b.Next = nil
	q.n--
	return b
}

// Concat appends other's whole chain in O(1) and empties other.
func (q *BufferQueue) Concat(other *BufferQueue) {
	if other == nil || other.head == nil {
		return
	}
	if q.tail == nil {
		q.head = other.head
	} else {
		q.tail.Next = other.head
	}
	q.tail = other.tail
	q.n += other.n
	other.head, other.tail, other.n = nil, nil, 0
}

// Len returns the number of buffers currently queued.
func (q *BufferQueue) Len() int { return q.n }

// Empty reports whether the queue holds no buffers.
func (q *BufferQueue) Empty() bool { return q.head == nil }

// BufferPool allocates and reclaims fixed-size Buffers from a
// pre-allocated arena. Alloc-family calls never error: on exhaustion they
// return fewer buffers (or a shorter queue) than requested, and the caller
// is expected to check the result.
type BufferPool interface {
	// Alloc removes one buffer from the free list, reserves headroom, and
	// sizes it to len (or remaining capacity if len == 0) plus the extra
	// off bytes of headroom beyond the fixed header template reservation.
	// Returns nil on exhaustion.
	Alloc(length, off int) *Buffer

	// AllocLen allocates into out until qlen payload bytes are queued,
	// truncating the last buffer to fill exactly qlen. Returns the number
	// of payload bytes actually queued (may be < qlen on exhaustion).
	AllocLen(out *BufferQueue, qlen, length, off int) int

	// AllocCnt allocates count buffers into out, each sized as Alloc sizes
	// one (full-size when length == 0), fewer on exhaustion. Returns the
	// number of buffers actually allocated.
	AllocCnt(out *BufferQueue, count, length, off int) int

	// Free concatenates an entire queue onto the free list in O(1).
	Free(q *BufferQueue)

	// FreeOne returns a single buffer to the free list.
	FreeOne(b *Buffer)

	// Stats reports pool usage counters.
	Stats() BufferPoolStats
}

// BufferPoolStats summarizes pool usage.
type BufferPoolStats struct {
	Capacity   int64
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
}
