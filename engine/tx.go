// Transmit-side wiring: finishing an IPv4/IPv6 packet already built into
// a pool buffer, resolving the next-hop link-layer address through the
// neighbor cache, and the ARP/ND request/reply exchanges that feed it.
// A packet whose next-hop is still unresolved parks on the neighbor
// entry's pending queue and flushes when the reply arrives.
//
// Author: momentics <momentics@gmail.com>
package engine

import (
	"encoding/binary"

	"warpcore/api"
	"warpcore/checksum"
	"warpcore/eth"
	"warpcore/icmpstack"
	"warpcore/internal/wallclock"
	"warpcore/ipstack"
	"warpcore/neighbor"
)

var broadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

const icmpv6HdrLen = 4 // type, code, checksum; NS/NA carry no ident/seq

// allocTxBuffer returns an empty (Length == 0) buffer with extra
// headroom bytes reserved in front of the fixed pool.HeadReserve
// budget, for builders that only ever Prepend.
func (e *Engine) allocTxBuffer(extra int) *api.Buffer {
	b := e.Pool.Alloc(0, extra)
	if b == nil {
		return nil
	}
	b.Length = 0
	return b
}

func (e *Engine) firstAddr(family api.Family) (api.Addr, bool) {
	for _, a := range e.Addrs {
		if a.Addr.Family == family {
			return a.Addr, true
		}
	}
	return api.Addr{}, false
}

func (e *Engine) ownsV4(ip uint32) bool {
	for _, a := range e.Addrs {
		if a.Addr.Family == api.FamilyV4 && a.Addr.V4 == ip {
			return true
		}
	}
	return false
}

func (e *Engine) ownsV6(ip [16]byte) bool {
	for _, a := range e.Addrs {
		if a.Addr.Family == api.FamilyV6 && a.Addr.V6 == ip {
			return true
		}
	}
	return false
}

// sendIPv4 prepends an IPv4 header onto b (which already holds its L4
// payload with enough headroom) and hands it to the neighbor-resolved
// transmit path.
func (e *Engine) sendIPv4(b *api.Buffer, protocol uint8, src, dst uint32, ttl uint8) {
	ipstack.WriteBufferV4(b, e.Rand, src, dst, protocol, ttl)
	e.transmitTo(b, e.nextHop(api.Addr{Family: api.FamilyV4, V4: dst}), eth.TypeIPv4)
}

// sendIPv6 is sendIPv4's IPv6 counterpart.
func (e *Engine) sendIPv6(b *api.Buffer, nextHeader uint8, src, dst [16]byte, hopLimit uint8) {
	ipstack.WriteBufferV6(b, src, dst, nextHeader, hopLimit)
	e.transmitTo(b, e.nextHop(api.Addr{Family: api.FamilyV6, V6: dst}), eth.TypeIPv6)
}

// nextHop selects the on-link address to resolve for a destination: a
// destination inside one of this engine's configured prefixes resolves
// directly; anything else resolves through the configured default
// router instead. With no default router configured, an off-link
// destination is resolved directly as a best effort (there is nowhere
// else to send it).
func (e *Engine) nextHop(dst api.Addr) api.Addr {
	if e.onLink(dst) {
		return dst
	}
	if !e.Opts.DefaultRouter.IsZero() && e.Opts.DefaultRouter.Family == dst.Family {
		return e.Opts.DefaultRouter
	}
	return dst
}

func (e *Engine) onLink(dst api.Addr) bool {
	for _, a := range e.Addrs {
		if a.Addr.Family != dst.Family {
			continue
		}
		if a.Addr.Family == api.FamilyV4 {
			if inPrefixV4(dst.V4, a.Network.V4, a.PrefixLen) {
				return true
			}
			continue
		}
		if inPrefixV6(dst.V6, a.Addr.V6, a.PrefixLen) {
			return true
		}
	}
	return false
}

func inPrefixV4(ip, network uint32, prefixLen int) bool {
	if prefixLen <= 0 || prefixLen > 32 {
		return false
	}
	mask := uint32(0xFFFFFFFF) << uint(32-prefixLen)
	return ip&mask == network&mask
}

func inPrefixV6(ip, base [16]byte, prefixLen int) bool {
	if prefixLen <= 0 || prefixLen > 128 {
		return false
	}
	fullBytes := prefixLen / 8
	for i := 0; i < fullBytes; i++ {
		if ip[i] != base[i] {
			return false
		}
	}
	if rem := prefixLen % 8; rem != 0 {
		mask := byte(0xFF) << uint(8-rem)
		if ip[fullBytes]&mask != base[fullBytes]&mask {
			return false
		}
	}
	return true
}

// transmitTo resolves nextHop's link-layer address and either sends b
// immediately or queues it on the neighbor cache and issues a fresh
// ARP/NS request. b is always either sent or queued; never leaked. A
// stale entry keeps transmitting with its last known MAC while a
// re-probe is in flight, so an idle-but-valid neighbor costs one extra
// request instead of a delivery stall.
func (e *Engine) transmitTo(b *api.Buffer, nextHop api.Addr, etherType uint16) {
	entry, created := e.Neighbors.Lookup(nextHop)
	switch entry.State {
	case api.NeighborReachable:
		e.sendResolved(b, entry.MAC, etherType)
	case api.NeighborStale:
		e.sendNeighborRequest(nextHop)
		e.Neighbors.MarkProbe(nextHop, wallclock.NowNs())
		e.sendResolved(b, entry.MAC, etherType)
	case api.NeighborProbe:
		e.sendResolved(b, entry.MAC, etherType)
	default:
		e.Neighbors.Enqueue(nextHop, b)
		if created {
			e.sendNeighborRequest(nextHop)
		}
	}
}

func (e *Engine) sendResolved(b *api.Buffer, dstMAC [6]byte, etherType uint16) {
	eth.Prepend(b, dstMAC, e.MAC, etherType)
	e.Backend.NicTx([][]byte{b.Bytes()})
	b.Release()
}

func (e *Engine) sendNeighborRequest(nextHop api.Addr) {
	if nextHop.Family == api.FamilyV4 {
		e.sendARPRequest(nextHop.V4)
		return
	}
	e.sendNS(nextHop.V6)
}

func (e *Engine) sendARPRequest(targetIP uint32) {
	src, ok := e.firstAddr(api.FamilyV4)
	if !ok {
		return
	}
	buf := e.allocTxBuffer(eth.HeaderLen)
	if buf == nil {
		return
	}
	body := buf.Prepend(neighbor.ARPHeaderLen)
	neighbor.BuildARP(body, neighbor.ARPRequest, e.MAC, src.V4, [6]byte{}, targetIP)
	eth.Prepend(buf, broadcastMAC, e.MAC, eth.TypeARP)
	e.Backend.NicTx([][]byte{buf.Bytes()})
	buf.Release()
}

func (e *Engine) sendNS(target [16]byte) {
	src, ok := e.firstAddr(api.FamilyV6)
	if !ok {
		return
	}
	buf := e.allocTxBuffer(eth.HeaderLen + ipstack.HeaderLenV6)
	if buf == nil {
		return
	}
	body := buf.Prepend(28)
	neighbor.BuildNS(body, target, e.MAC)
	dst := neighbor.SolicitedNodeMulticast(target)
	e.finishICMPv6(buf, neighbor.ICMPv6TypeNS, src.V6, dst)
	e.sendIPv6(buf, ipstack.ProtoICMPv6, src.V6, dst, 255)
}

// finishICMPv6 prepends a 4-byte ICMPv6 type/code/checksum header onto
// buf (whose payload is already an NS/NA body) and computes the
// pseudo-header checksum.
func (e *Engine) finishICMPv6(buf *api.Buffer, icmpType uint8, src, dst [16]byte) {
	hdr := buf.Prepend(icmpv6HdrLen)
	hdr[0] = icmpType
	hdr[1] = 0
	hdr[2], hdr[3] = 0, 0
	sum := checksum.IPv6PseudoHeader(0, src, dst, ipstack.ProtoICMPv6, uint32(len(buf.Bytes())))
	sum = checksum.Accumulate(sum, buf.Bytes())
	c := checksum.Finalize(sum)
	binary.BigEndian.PutUint16(hdr[2:4], ^c)
}

// sendPortUnreachableV4 emits an ICMP port-unreachable quoting the
// offending datagram's IPv4 header (rebuilt from h) plus up to 8 bytes
// of payload, per RFC 792.
func (e *Engine) sendPortUnreachableV4(h ipstack.HeaderV4, payload []byte) {
	e.sendUnreachableV4(icmpstack.CodePortUnreachable, h, payload)
}

// sendUnreachableV4 emits an ICMP destination-unreachable of the given
// code, quoting the offending datagram's IPv4 header plus up to 8
// payload bytes, per RFC 792.
func (e *Engine) sendUnreachableV4(code uint8, h ipstack.HeaderV4, payload []byte) {
	quoteLen := 8
	if len(payload) < quoteLen {
		quoteLen = len(payload)
	}
	hdr := ipstack.EncodeV4(h)
	orig := make([]byte, ipstack.HeaderLenV4+quoteLen)
	copy(orig, hdr[:])
	copy(orig[ipstack.HeaderLenV4:], payload[:quoteLen])

	buf := e.allocTxBuffer(eth.HeaderLen)
	if buf == nil {
		return
	}
	icmpstack.BuildDestUnreachableV4(buf, code, orig)
	e.sendIPv4(buf, ipstack.ProtoICMP, h.Dst, h.Src, 64)
}

// sendPortUnreachableV6 emits an ICMPv6 destination-unreachable
// (port), quoting the offending IPv6 header plus the leading payload
// bytes, per RFC 4443.
func (e *Engine) sendPortUnreachableV6(h ipstack.HeaderV6, payload []byte) {
	quoteLen := len(payload)
	if quoteLen > 64 {
		quoteLen = 64
	}
	hdr := ipstack.EncodeV6(h)
	orig := make([]byte, ipstack.HeaderLenV6+quoteLen)
	copy(orig, hdr[:])
	copy(orig[ipstack.HeaderLenV6:], payload[:quoteLen])

	// The quote alone can outgrow the fixed header reservation, so size
	// the extra headroom for the entire prepended message.
	buf := e.allocTxBuffer(eth.HeaderLen + ipstack.HeaderLenV6 + icmpstack.HeaderLen + len(orig))
	if buf == nil {
		return
	}
	icmpstack.BuildDestUnreachableV6(buf, icmpstack.CodePortUnreachableV6, orig, h.Dst, h.Src)
	e.sendIPv6(buf, ipstack.ProtoICMPv6, h.Dst, h.Src, 64)
}

// rxARP learns the sender's address from every ARP packet it sees
// (request or reply), draining any buffers that were queued waiting on
// it, and answers requests addressed to one of this engine's own
// addresses.
func (e *Engine) rxARP(payload []byte, srcMAC [6]byte) {
	p, ok := neighbor.ParseARP(payload)
	if !ok {
		return
	}
	senderAddr := api.Addr{Family: api.FamilyV4, V4: p.SenderIP}
	for _, b := range e.Neighbors.Resolve(senderAddr, p.SenderMAC) {
		e.sendResolved(b, p.SenderMAC, eth.TypeIPv4)
	}
	if p.Op != neighbor.ARPRequest || !e.ownsV4(p.TargetIP) {
		return
	}
	buf := e.allocTxBuffer(eth.HeaderLen)
	if buf == nil {
		return
	}
	body := buf.Prepend(neighbor.ARPHeaderLen)
	neighbor.BuildARP(body, neighbor.ARPReply, e.MAC, p.TargetIP, p.SenderMAC, p.SenderIP)
	eth.Prepend(buf, srcMAC, e.MAC, eth.TypeARP)
	e.Backend.NicTx([][]byte{buf.Bytes()})
	buf.Release()
}

// handleNS answers a Neighbor Solicitation addressed to one of this
// engine's addresses and, if the solicitation carries a source
// link-layer-address option, learns the sender's MAC.
func (e *Engine) handleNS(data []byte, h ipstack.HeaderV6) {
	nd, ok := neighbor.ParseND(neighbor.ICMPv6TypeNS, data[icmpv6HdrLen:])
	if !ok {
		return
	}
	if nd.HasLinkAddr {
		senderAddr := api.Addr{Family: api.FamilyV6, V6: h.Src}
		for _, b := range e.Neighbors.Resolve(senderAddr, nd.LinkAddr) {
			e.sendResolved(b, nd.LinkAddr, eth.TypeIPv6)
		}
	}
	if !e.ownsV6(nd.Target) {
		return
	}
	buf := e.allocTxBuffer(eth.HeaderLen + ipstack.HeaderLenV6)
	if buf == nil {
		return
	}
	body := buf.Prepend(28)
	neighbor.BuildNA(body, nd.Target, e.MAC, true)
	// The advertisement's source is the solicited target itself, never
	// h.Dst: a solicitation usually arrives on the solicited-node
	// multicast address, which must not appear as an IPv6 source.
	e.finishICMPv6(buf, neighbor.ICMPv6TypeNA, nd.Target, h.Src)
	e.sendIPv6(buf, ipstack.ProtoICMPv6, nd.Target, h.Src, 255)
}

// handleNA resolves the neighbor cache entry for a Neighbor
// Advertisement's target address and drains any buffers waiting on it.
func (e *Engine) handleNA(data []byte) {
	nd, ok := neighbor.ParseND(neighbor.ICMPv6TypeNA, data[icmpv6HdrLen:])
	if !ok || !nd.HasLinkAddr {
		return
	}
	addr := api.Addr{Family: api.FamilyV6, V6: nd.Target}
	for _, b := range e.Neighbors.Resolve(addr, nd.LinkAddr) {
		e.sendResolved(b, nd.LinkAddr, eth.TypeIPv6)
	}
}
