package ipstack

import (
	"warpcore/api"
	"warpcore/neighbor"
)

// Handlers are the next-layer callbacks a Dispatcher invokes once it
// has validated and stripped an IP header. They are plain function
// values rather than an interface so ipstack never imports udpstack or
// icmpstack; engine wires the concrete functions together at Init,
// avoiding an import cycle between the three layers.
type Handlers struct {
	UDPv4  func(b *api.Buffer, h HeaderV4)
	ICMPv4 func(b *api.Buffer, h HeaderV4)
	UDPv6  func(b *api.Buffer, h HeaderV6)
	ICMPv6 func(b *api.Buffer, h HeaderV6)

	// UnknownProtoV4 is invoked for any IPv4 protocol number other than
	// UDP/ICMP, so the engine can answer with an ICMP
	// protocol-unreachable. b still holds the full IPv4 payload (not
	// yet trimmed to any L4 header) since its shape is unknown to this
	// layer.
	UnknownProtoV4 func(b *api.Buffer, h HeaderV4)
}

// Dispatcher validates inbound IPv4/IPv6 packets against this
// interface's configured addresses and routes them to Handlers.
type Dispatcher struct {
	Handlers Handlers

	ownV4       map[uint32]bool
	broadcastV4 map[uint32]bool
	ownV6       map[[16]byte]bool
}

// NewDispatcher builds a Dispatcher for the given configured
// addresses. Besides each interface unicast and the all-ones
// broadcast, the accept set includes every interface's directed
// broadcast (e.g. 192.0.2.255 on a /24).
func NewDispatcher(addrs []api.IfAddr) *Dispatcher {
	d := &Dispatcher{
		ownV4:       make(map[uint32]bool),
		broadcastV4: make(map[uint32]bool),
		ownV6:       make(map[[16]byte]bool),
	}
	d.broadcastV4[0xFFFFFFFF] = true
	for _, a := range addrs {
		switch a.Addr.Family {
		case api.FamilyV4:
			d.ownV4[a.Addr.V4] = true
			if !a.Broadcast.IsZero() {
				d.broadcastV4[a.Broadcast.V4] = true
			}
		case api.FamilyV6:
			d.ownV6[a.Addr.V6] = true
			d.ownV6[neighbor.SolicitedNodeMulticast(a.Addr.V6)] = true
		}
	}
	return d
}

// RxV4 validates and dispatches one inbound IPv4 packet carried in b
// (whose Bytes() start at the IPv4 header). RxV4 always resolves b's
// ownership before returning: a matching handler takes over (and
// decides whether to release it or queue it on a socket), or RxV4
// releases it itself on any normal discard (checksum failure,
// fragmentation, IP options, or a destination that is not ours).
func (d *Dispatcher) RxV4(b *api.Buffer) error {
	data := b.Bytes()
	h, ok := ParseV4(data)
	if !ok {
		b.Release()
		return api.ErrMalformedPacket
	}
	if h.IHL != HeaderLenV4 { // packets carrying IP options are not supported
		b.Release()
		return nil
	}
	if h.MoreFragments() || h.FragmentOffset() != 0 { // fragmentation is not supported
		b.Release()
		return nil
	}
	if !VerifyChecksumV4(data[:HeaderLenV4]) {
		b.Release()
		return api.ErrChecksumInvalid
	}
	if !d.ownV4[h.Dst] && !d.broadcastV4[h.Dst] { // not addressed to this engine
		b.Release()
		return nil
	}

	b.SrcAddr = api.Addr{Family: api.FamilyV4, V4: h.Src}
	b.Reset(b.Off+HeaderLenV4, int(h.TotalLen)-HeaderLenV4)

	switch h.Protocol {
	case ProtoUDP:
		if d.Handlers.UDPv4 != nil {
			d.Handlers.UDPv4(b, h)
			return nil
		}
	case ProtoICMP:
		if d.Handlers.ICMPv4 != nil {
			d.Handlers.ICMPv4(b, h)
			return nil
		}
	default:
		if d.Handlers.UnknownProtoV4 != nil {
			d.Handlers.UnknownProtoV4(b, h)
			return nil
		}
	}
	b.Release()
	return nil
}

// RxV6 validates and dispatches one inbound IPv6 packet, with the same
// ownership contract as RxV4.
func (d *Dispatcher) RxV6(b *api.Buffer) error {
	data := b.Bytes()
	h, ok := ParseV6(data)
	if !ok {
		b.Release()
		return api.ErrMalformedPacket
	}
	if !d.ownV6[h.Dst] {
		b.Release()
		return nil
	}

	b.SrcAddr = api.Addr{Family: api.FamilyV6, V6: h.Src}
	b.Reset(b.Off+HeaderLenV6, int(h.PayloadLen))

	switch h.NextHeader {
	case ProtoUDP:
		if d.Handlers.UDPv6 != nil {
			d.Handlers.UDPv6(b, h)
			return nil
		}
	case ProtoICMPv6:
		if d.Handlers.ICMPv6 != nil {
			d.Handlers.ICMPv6(b, h)
			return nil
		}
	}
	b.Release()
	return nil
}

// AddAddr registers an additional configured address at runtime (e.g.
// after a late DHCP lease), keeping the dispatcher's accept set current
// without rebuilding it.
func (d *Dispatcher) AddAddr(a api.IfAddr) {
	switch a.Addr.Family {
	case api.FamilyV4:
		d.ownV4[a.Addr.V4] = true
		if !a.Broadcast.IsZero() {
			d.broadcastV4[a.Broadcast.V4] = true
		}
	case api.FamilyV6:
		d.ownV6[a.Addr.V6] = true
		d.ownV6[neighbor.SolicitedNodeMulticast(a.Addr.V6)] = true
	}
}
