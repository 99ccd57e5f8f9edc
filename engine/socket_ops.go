// Public socket-facing operations: Bind/Connect/Close/Tx/Rx and the
// alloc/free family, all expressed as Engine methods so an application
// drives the whole stack through one handle instead of reaching into
// the pool/socket/neighbor packages directly.
//
// Author: momentics <momentics@gmail.com>
package engine

import (
	"warpcore/api"
	"warpcore/eth"
	"warpcore/socket"
)

// Bind reserves localPort (or an ephemeral one if zero) on the
// addrIdx'th configured interface address and returns a new,
// unconnected socket.
func (e *Engine) Bind(addrIdx int, localPort uint16, opts api.SocketOptions) (*socket.Socket, error) {
	if addrIdx < 0 || addrIdx >= len(e.Addrs) {
		return nil, api.ErrInvalidArgument
	}
	return e.Sockets.Bind(e.Addrs[addrIdx].Addr, localPort, opts)
}

// Connect fixes s's remote peer; resolving the peer's link-layer
// address happens lazily on the first Tx, same as any other transmit.
func (e *Engine) Connect(s *socket.Socket, peer api.Addr, peerPort uint16) error {
	return e.Sockets.Connect(s, peer, peerPort)
}

// Close unregisters s and releases any buffers still queued on it.
func (e *Engine) Close(s *socket.Socket) {
	q := e.Sockets.Close(s)
	e.Pool.Free(q)
}

// AllocIov allocates one buffer sized to length payload bytes (or the
// remaining slot capacity if length == 0), off bytes of headroom
// beyond the fixed header-template reservation. Returns nil on pool
// exhaustion.
func (e *Engine) AllocIov(length, off int) *api.Buffer {
	return e.Pool.Alloc(length, off)
}

// AllocLen allocates into out until qlen payload bytes are queued,
// returning the number of bytes actually queued (short on exhaustion).
func (e *Engine) AllocLen(out *api.BufferQueue, qlen, length, off int) int {
	return e.Pool.AllocLen(out, qlen, length, off)
}

// AllocCnt allocates count buffers into out, each sized as AllocIov
// sizes one (full-size when length == 0), fewer on exhaustion,
// returning the count actually allocated.
func (e *Engine) AllocCnt(out *api.BufferQueue, count, length, off int) int {
	return e.Pool.AllocCnt(out, count, length, off)
}

// Free returns every buffer in q to the pool.
func (e *Engine) Free(q *api.BufferQueue) {
	e.Pool.Free(q)
}

// FreeIov returns a single buffer to the pool.
func (e *Engine) FreeIov(b *api.Buffer) {
	e.Pool.FreeOne(b)
}

// Tx builds and transmits every buffer in q under s's four-tuple: each
// buffer is expected to hold its UDP payload at Bytes() with enough
// headroom for s's header template (i.e. it came from AllocIov/AllocLen/
// AllocCnt on this same engine). Buffers whose neighbor is unresolved
// are parked on the neighbor cache and flushed once it resolves;
// everything else is handed to the ring immediately. Tx always consumes
// q (every buffer is either queued for later or handed to the ring).
func (e *Engine) Tx(s *socket.Socket, q *api.BufferQueue) {
	for b := q.PopFront(); b != nil; b = q.PopFront() {
		s.PrepareTx(b, e.Rand)
		e.transmitTo(b, e.nextHop(s.Tuple.RemoteAddr), etherTypeFor(s.Tuple.LocalAddr.Family))
	}
}

// TxTo transmits every buffer in q from s to an explicit destination,
// for sockets that were bound but never connected. The socket's local
// address and port still source the packets; dst/dstPort replace the
// remote the template would otherwise carry.
func (e *Engine) TxTo(s *socket.Socket, q *api.BufferQueue, dst api.Addr, dstPort uint16) error {
	if dst.Family != s.Tuple.LocalAddr.Family {
		e.Pool.Free(q)
		return api.ErrUnsupportedFamily
	}
	for b := q.PopFront(); b != nil; b = q.PopFront() {
		s.PrepareTxTo(b, e.Rand, dst, dstPort)
		e.transmitTo(b, e.nextHop(dst), etherTypeFor(dst.Family))
	}
	return nil
}

func etherTypeFor(family api.Family) uint16 {
	if family == api.FamilyV6 {
		return eth.TypeIPv6
	}
	return eth.TypeIPv4
}

// Rx detaches and returns s's entire receive queue as one chain.
func (e *Engine) Rx(s *socket.Socket) api.BufferQueue {
	return s.DetachRx()
}
