package ipstack

import (
	"encoding/binary"

	"warpcore/api"
)

// HeaderLenV6 is the fixed IPv6 header length (no extension headers).
const HeaderLenV6 = 40

// HeaderV6 is a parsed view of an IPv6 header.
type HeaderV6 struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          [16]byte
	Dst          [16]byte
}

// ParseV6 parses a fixed IPv6 header. There is no extension header
// walk; this stack only emits and accepts UDP/ICMPv6 directly atop
// IPv6.
func ParseV6(data []byte) (HeaderV6, bool) {
	var h HeaderV6
	if len(data) < HeaderLenV6 {
		return h, false
	}
	verTCFlow := binary.BigEndian.Uint32(data[0:4])
	if verTCFlow>>28 != 6 {
		return h, false
	}
	h.TrafficClass = uint8(verTCFlow >> 20)
	h.FlowLabel = verTCFlow & 0xFFFFF
	h.PayloadLen = binary.BigEndian.Uint16(data[4:6])
	h.NextHeader = data[6]
	h.HopLimit = data[7]
	copy(h.Src[:], data[8:24])
	copy(h.Dst[:], data[24:40])
	if int(h.PayloadLen)+HeaderLenV6 > len(data) {
		return h, false
	}
	return h, true
}

// BuildTemplateV6 writes the unchanging fields of an IPv6 header into
// template[off:off+HeaderLenV6]. PayloadLen is left at zero for
// PatchV6 to fill per packet.
func BuildTemplateV6(template []byte, off int, src, dst [16]byte, nextHeader, hopLimit uint8) {
	h := template[off : off+HeaderLenV6]
	binary.BigEndian.PutUint32(h[0:4], 6<<28)
	binary.BigEndian.PutUint16(h[4:6], 0)
	h[6] = nextHeader
	h[7] = hopLimit
	copy(h[8:24], src[:])
	copy(h[24:40], dst[:])
}

// PatchV6 fills in the per-packet payload length and traffic class.
// IPv6 carries no header checksum; UDP's pseudo-header checksum covers
// corruption instead.
func PatchV6(header []byte, payloadLen int, trafficClass uint8) {
	verTCFlow := binary.BigEndian.Uint32(header[0:4])
	verTCFlow = (verTCFlow &^ (0xFF << 20)) | (uint32(trafficClass) << 20)
	binary.BigEndian.PutUint32(header[0:4], verTCFlow)
	binary.BigEndian.PutUint16(header[4:6], uint16(payloadLen))
}

// EncodeV6 re-serializes a parsed header, for quoting an offending
// packet inside an ICMPv6 error message.
func EncodeV6(h HeaderV6) [HeaderLenV6]byte {
	var out [HeaderLenV6]byte
	binary.BigEndian.PutUint32(out[0:4], 6<<28|uint32(h.TrafficClass)<<20|h.FlowLabel)
	binary.BigEndian.PutUint16(out[4:6], h.PayloadLen)
	out[6] = h.NextHeader
	out[7] = h.HopLimit
	copy(out[8:24], h.Src[:])
	copy(out[24:40], h.Dst[:])
	return out
}

// WriteBufferV6 prepends an IPv6 header directly onto b.
func WriteBufferV6(b *api.Buffer, src, dst [16]byte, nextHeader, hopLimit uint8) {
	hdr := b.Prepend(HeaderLenV6)
	payloadLen := b.Length - HeaderLenV6
	binary.BigEndian.PutUint32(hdr[0:4], (6<<28)|(uint32(b.Flags)<<20))
	binary.BigEndian.PutUint16(hdr[4:6], uint16(payloadLen))
	hdr[6] = nextHeader
	hdr[7] = hopLimit
	copy(hdr[8:24], src[:])
	copy(hdr[24:40], dst[:])
}
