// Package socket implements UDP socket bind/connect/close and the
// four-tuple socket table. Each socket precomputes its IP+UDP byte
// prefix once at bind/connect time, and the transmit fast path only
// patches the handful of fields that change per packet (lengths,
// checksum, IP ID) instead of rebuilding headers from scratch. The
// Ethernet header is deliberately left out of the template: it is
// prepended once per packet by the engine's neighbor-resolution path
// (engine.transmitTo/sendResolved), the same place every other layer
// (ARP, ND, ICMP) gets its Ethernet framing, so there is exactly one
// place in the stack that writes an Ethernet header rather than two
// diverging copies of that logic.
//
// Author: momentics <momentics@gmail.com>
package socket

import (
	"sync"

	"warpcore/api"
	"warpcore/checksum"
	"warpcore/ipstack"
	"warpcore/udpstack"
)

// headLen returns the IP+UDP prefix length for family.
func headLen(family api.Family) int {
	if family == api.FamilyV6 {
		return ipstack.HeaderLenV6 + udpstack.HeaderLen
	}
	return ipstack.HeaderLenV4 + udpstack.HeaderLen
}

// Socket is one bound (and possibly connected) UDP endpoint.
type Socket struct {
	Tuple api.FourTuple
	Opts  api.SocketOptions

	// Template holds the precomputed IP+UDP prefix; *Off fields give
	// each header's starting offset within it.
	Template []byte
	IPOff    int
	UDPOff   int
	HdrLen   int
	ttl      uint8

	mu     sync.Mutex
	rx     api.BufferQueue
	closed bool
}

// IDGenerator supplies the IPv4 identification field; engine.Engine's
// xrand.Rand satisfies this.
type IDGenerator interface {
	Uint32() uint32
}

// newSocket builds a socket's header template for a bound local
// address/port. The remote fields stay zero until Connect fills them
// in; an unconnected send patches them per packet via PrepareTxTo.
func newSocket(tuple api.FourTuple, opts api.SocketOptions) *Socket {
	s := &Socket{Tuple: tuple, Opts: opts, ttl: 64}
	s.HdrLen = headLen(tuple.LocalAddr.Family)
	s.Template = make([]byte, s.HdrLen)
	s.IPOff = 0
	if tuple.LocalAddr.Family == api.FamilyV6 {
		s.UDPOff = ipstack.HeaderLenV6
		ipstack.BuildTemplateV6(s.Template, s.IPOff, tuple.LocalAddr.V6, [16]byte{}, ipstack.ProtoUDP, s.ttl)
	} else {
		s.UDPOff = ipstack.HeaderLenV4
		ipstack.BuildTemplateV4(s.Template, s.IPOff, tuple.LocalAddr.V4, 0, ipstack.ProtoUDP, s.ttl)
	}
	binaryPutPort(s.Template[s.UDPOff:s.UDPOff+2], tuple.LocalPort)
	return s
}

// SetRemote rebuilds the IP/UDP portions of the template for a newly
// connected (or reconnected) remote. The remote's MAC is not part of
// the template; the neighbor cache re-resolves it on the next send.
func (s *Socket) SetRemote(remote api.Addr, remotePort uint16) {
	s.Tuple.RemoteAddr = remote
	s.Tuple.RemotePort = remotePort
	if s.Tuple.LocalAddr.Family == api.FamilyV6 {
		ipstack.BuildTemplateV6(s.Template, s.IPOff, s.Tuple.LocalAddr.V6, remote.V6, ipstack.ProtoUDP, s.ttl)
	} else {
		ipstack.BuildTemplateV4(s.Template, s.IPOff, s.Tuple.LocalAddr.V4, remote.V4, ipstack.ProtoUDP, s.ttl)
	}
	binaryPutPort(s.Template[s.UDPOff:s.UDPOff+2], s.Tuple.LocalPort)
	binaryPutPort(s.Template[s.UDPOff+2:s.UDPOff+4], remotePort)
}

func binaryPutPort(b []byte, port uint16) {
	b[0] = byte(port >> 8)
	b[1] = byte(port)
}

// PrepareTx copies the socket's header template in front of b's
// payload and patches the per-packet fields (lengths, IP ID,
// checksums). b must already hold exactly the UDP payload with
// pool.HeadReserve headroom available (i.e. come from Pool.Alloc).
func (s *Socket) PrepareTx(b *api.Buffer, rnd IDGenerator) {
	s.PrepareTxTo(b, rnd, s.Tuple.RemoteAddr, s.Tuple.RemotePort)
}

// PrepareTxTo is PrepareTx with an explicit destination, for sending
// from a bound-but-unconnected socket: the template's remote fields
// (zero for a wildcard socket) are overwritten with dst/dstPort before
// the checksums are computed.
func (s *Socket) PrepareTxTo(b *api.Buffer, rnd IDGenerator, dst api.Addr, dstPort uint16) {
	b.Prepend(s.HdrLen)
	full := b.Bytes()
	copy(full[:s.HdrLen], s.Template)

	ipHdr := full[s.IPOff:s.UDPOff]
	udpRegion := full[s.UDPOff:] // UDP header + payload: exactly what the checksum covers
	binary16put(udpRegion[2:4], dstPort)

	if s.Tuple.LocalAddr.Family == api.FamilyV6 {
		copy(ipHdr[24:40], dst.V6[:])
		ipstack.PatchV6(ipHdr, len(udpRegion), b.Flags)
		binary16put(udpRegion[4:6], uint16(len(udpRegion)))
		udpRegion[6], udpRegion[7] = 0, 0
		sum := checksumIPv6(s.Tuple.LocalAddr.V6, dst.V6, udpRegion)
		binary16put(udpRegion[6:8], sum)
	} else {
		binary16put(ipHdr[16:18], uint16(dst.V4>>16))
		binary16put(ipHdr[18:20], uint16(dst.V4))
		ipstack.PatchV4(ipHdr, len(udpRegion), b.Flags, uint16(rnd.Uint32()))
		binary16put(udpRegion[4:6], uint16(len(udpRegion)))
		udpRegion[6], udpRegion[7] = 0, 0
		sum := checksumIPv4(s.Tuple.LocalAddr.V4, dst.V4, udpRegion)
		binary16put(udpRegion[6:8], sum)
	}
}

func binary16put(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func checksumIPv4(src, dst uint32, udpHdr []byte) uint16 {
	sum := checksum.IPv4PseudoHeader(0, src, dst, ipstack.ProtoUDP, uint16(len(udpHdr)))
	sum = checksum.Accumulate(sum, udpHdr)
	c := ^checksum.Finalize(sum)
	if c == 0 {
		c = 0xFFFF // zero is reserved to mean "no checksum" for UDP/IPv4 too
	}
	return c
}

func checksumIPv6(src, dst [16]byte, udpHdr []byte) uint16 {
	sum := checksum.IPv6PseudoHeader(0, src, dst, ipstack.ProtoUDP, uint32(len(udpHdr)))
	sum = checksum.Accumulate(sum, udpHdr)
	c := ^checksum.Finalize(sum)
	if c == 0 {
		c = 0xFFFF // zero is reserved to mean "no checksum" for UDP/IPv6
	}
	return c
}

// EnqueueRx appends b to the socket's receive queue. It returns false,
// without taking ownership of b, when the queue is at capacity or the
// socket is closed.
func (s *Socket) EnqueueRx(b *api.Buffer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	limit := s.Opts.RecvQueueCap
	if limit > 0 && s.rx.Len() >= limit {
		return false
	}
	s.rx.PushBack(b)
	return true
}

// PopRx removes and returns the oldest queued buffer, or nil.
func (s *Socket) PopRx() *api.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.PopFront()
}

// DetachRx removes and returns the socket's entire receive queue as
// one chain, leaving the socket's queue empty.
func (s *Socket) DetachRx() api.BufferQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.rx
	s.rx = api.BufferQueue{}
	return q
}

// RxLen reports how many buffers are currently queued.
func (s *Socket) RxLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.Len()
}

// Close marks the socket closed and returns its still-queued buffers
// for the caller to release back to the pool.
func (s *Socket) Close() *api.BufferQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	q := s.rx
	s.rx = api.BufferQueue{}
	return &q
}
