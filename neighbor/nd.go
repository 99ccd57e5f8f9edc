package neighbor

import "encoding/binary"

// ICMPv6 Neighbor Discovery (RFC 4861) message types and the subset of
// option handling this stack needs: a single source/target
// link-layer-address option, no prefix/MTU/redirect options.
const (
	ICMPv6TypeNS = 135
	ICMPv6TypeNA = 136

	ndOptSourceLLA = 1
	ndOptTargetLLA = 2
	ndFixedLen     = 4 + 4 + 16 // reserved/flags(4) + target addr(16), offset by the 4-byte ICMP header the caller strips
)

// NDPacket is a parsed Neighbor Solicitation or Advertisement.
type NDPacket struct {
	Type        uint8
	Target      [16]byte
	LinkAddr    [6]byte
	HasLinkAddr bool
	Solicited   bool
	Override    bool
}

// ParseND parses an ICMPv6 NS/NA body (data starts immediately after
// the 4-byte type/code/checksum ICMP header).
func ParseND(icmpType uint8, data []byte) (NDPacket, bool) {
	var p NDPacket
	if len(data) < 20 {
		return p, false
	}
	p.Type = icmpType
	off := 4 // reserved/flags word
	if icmpType == ICMPv6TypeNA {
		flags := data[0]
		p.Solicited = flags&0x40 != 0
		p.Override = flags&0x20 != 0
	}
	copy(p.Target[:], data[off:off+16])
	off += 16
	for off+2 <= len(data) {
		optType := data[off]
		optLen := int(data[off+1]) * 8
		if optLen == 0 || off+optLen > len(data) {
			break
		}
		if (optType == ndOptSourceLLA || optType == ndOptTargetLLA) && optLen >= 8 {
			copy(p.LinkAddr[:], data[off+2:off+8])
			p.HasLinkAddr = true
		}
		off += optLen
	}
	return p, true
}

// BuildNS writes a Neighbor Solicitation body (excluding the ICMPv6
// type/code/checksum header) into out, which must be at least 28
// bytes, requesting resolution of target and advertising srcMAC as the
// source link-layer address.
func BuildNS(out []byte, target [16]byte, srcMAC [6]byte) int {
	binary.BigEndian.PutUint32(out[0:4], 0)
	copy(out[4:20], target[:])
	out[20] = ndOptSourceLLA
	out[21] = 1 // length in 8-byte units
	copy(out[22:28], srcMAC[:])
	return 28
}

// BuildNA writes a Neighbor Advertisement body answering a solicitation
// for target, advertising srcMAC as the target link-layer address.
func BuildNA(out []byte, target [16]byte, srcMAC [6]byte, solicited bool) int {
	flags := uint32(0x20 << 24) // override
	if solicited {
		flags |= 0x40 << 24
	}
	binary.BigEndian.PutUint32(out[0:4], flags)
	copy(out[4:20], target[:])
	out[20] = ndOptTargetLLA
	out[21] = 1
	copy(out[22:28], srcMAC[:])
	return 28
}

// SolicitedNodeMulticast derives the solicited-node multicast address
// ff02::1:ffXX:XXXX for target, the destination a Neighbor Solicitation
// is sent to per RFC 4861 §4.3.
func SolicitedNodeMulticast(target [16]byte) [16]byte {
	var m [16]byte
	m[0], m[1] = 0xff, 0x02
	m[11] = 0x01
	m[12] = 0xff
	m[13] = target[13]
	m[14] = target[14]
	m[15] = target[15]
	return m
}
