// Package ipstack implements IPv4 and IPv6 header parse/build and the
// receive-side destination/checksum/fragment checks: destination match
// against own address and broadcast, checksum validation, option and
// fragment rejection, random 16-bit IP ID, TOS taken from the outgoing
// buffer's flags. All functions operate on pool-owned Buffers.
//
// Author: momentics <momentics@gmail.com>
package ipstack

import (
	"encoding/binary"

	"warpcore/api"
	"warpcore/checksum"
)

// HeaderLenV4 is the length of a minimal (no options) IPv4 header.
const HeaderLenV4 = 20

// Protocol numbers this stack dispatches.
const (
	ProtoICMP   uint8 = 1
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
)

// HeaderV4 is a parsed view of an IPv4 header.
type HeaderV4 struct {
	IHL      int
	TOS      uint8
	TotalLen uint16
	ID       uint16
	FragOff  uint16 // flags+fragment offset, as in the wire field
	TTL      uint8
	Protocol uint8
	Checksum uint16
	Src      uint32
	Dst      uint32
}

// MoreFragments reports the MF bit of FragOff.
func (h HeaderV4) MoreFragments() bool { return h.FragOff&0x2000 != 0 }

// FragmentOffset returns the 13-bit fragment offset in 8-byte units.
func (h HeaderV4) FragmentOffset() uint16 { return h.FragOff & 0x1FFF }

// ParseV4 parses an IPv4 header from data. It rejects packets whose
// version is not 4 or whose declared length exceeds the buffer.
func ParseV4(data []byte) (HeaderV4, bool) {
	var h HeaderV4
	if len(data) < HeaderLenV4 {
		return h, false
	}
	verIHL := data[0]
	if verIHL>>4 != 4 {
		return h, false
	}
	h.IHL = int(verIHL&0x0F) * 4
	if h.IHL < HeaderLenV4 || len(data) < h.IHL {
		return h, false
	}
	h.TOS = data[1]
	h.TotalLen = binary.BigEndian.Uint16(data[2:4])
	h.ID = binary.BigEndian.Uint16(data[4:6])
	h.FragOff = binary.BigEndian.Uint16(data[6:8])
	h.TTL = data[8]
	h.Protocol = data[9]
	h.Checksum = binary.BigEndian.Uint16(data[10:12])
	h.Src = binary.BigEndian.Uint32(data[12:16])
	h.Dst = binary.BigEndian.Uint32(data[16:20])
	if int(h.TotalLen) > len(data) {
		return h, false
	}
	return h, true
}

// VerifyChecksumV4 reports whether the header's checksum is valid,
// i.e. summing the whole header (IHL bytes, checksum field included)
// yields 0 or the 0xFFFF equivalent.
func VerifyChecksumV4(header []byte) bool {
	s := checksum.Compute(header)
	return s == 0 || s == 0xFFFF
}

// IDGenerator supplies the 16-bit IP identification field for
// outgoing packets. engine.Engine satisfies this via its per-engine
// xrand.Rand.
type IDGenerator interface {
	Uint32() uint32
}

// BuildTemplateV4 writes a header into template[off:off+HeaderLenV4]
// with every field that does not change per packet (version/IHL, src,
// dst, protocol, initial TTL) filled in, and TotalLen/ID/TOS/Checksum
// left for PatchV4 to fill per packet. This mirrors the socket header
// template design: built once at connect/bind time, patched cheaply on
// the transmit fast path.
func BuildTemplateV4(template []byte, off int, src, dst uint32, protocol uint8, ttl uint8) {
	h := template[off : off+HeaderLenV4]
	h[0] = 0x45 // version 4, IHL 5
	h[1] = 0    // TOS, patched per packet
	binary.BigEndian.PutUint16(h[2:4], 0)
	binary.BigEndian.PutUint16(h[4:6], 0)
	binary.BigEndian.PutUint16(h[6:8], 0x4000) // DF set; this stack never fragments
	h[8] = ttl
	h[9] = protocol
	binary.BigEndian.PutUint16(h[10:12], 0)
	binary.BigEndian.PutUint32(h[12:16], src)
	binary.BigEndian.PutUint32(h[16:20], dst)
}

// PatchV4 fills in the per-packet fields of an IPv4 header already
// built by BuildTemplateV4 and recomputes its checksum. payloadLen is
// the number of bytes following the IPv4 header; tos is copied from
// the outgoing buffer's Flags field (DSCP/ECN passthrough).
func PatchV4(header []byte, payloadLen int, tos uint8, id uint16) {
	header[1] = tos
	binary.BigEndian.PutUint16(header[2:4], uint16(HeaderLenV4+payloadLen))
	binary.BigEndian.PutUint16(header[4:6], id)
	header[10], header[11] = 0, 0
	c := checksum.Compute(header[:HeaderLenV4])
	binary.BigEndian.PutUint16(header[10:12], ^c)
}

// EncodeV4 re-serializes a parsed header (options dropped) with a
// fresh checksum. Used to quote an offending packet's header inside an
// ICMP error message.
func EncodeV4(h HeaderV4) [HeaderLenV4]byte {
	var out [HeaderLenV4]byte
	out[0] = 0x45
	out[1] = h.TOS
	binary.BigEndian.PutUint16(out[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(out[4:6], h.ID)
	binary.BigEndian.PutUint16(out[6:8], h.FragOff)
	out[8] = h.TTL
	out[9] = h.Protocol
	binary.BigEndian.PutUint32(out[12:16], h.Src)
	binary.BigEndian.PutUint32(out[16:20], h.Dst)
	c := checksum.Compute(out[:])
	binary.BigEndian.PutUint16(out[10:12], ^c)
	return out
}

// WriteBufferV4 prepends a complete IPv4 header onto b, writing every
// field itself (no BuildTemplateV4 template is involved): b.Flags
// supplies TOS, rnd the ID field, DF is set, and the total length and
// header checksum cover the header plus b's existing payload.
func WriteBufferV4(b *api.Buffer, rnd IDGenerator, src, dst uint32, protocol uint8, ttl uint8) {
	hdr := b.Prepend(HeaderLenV4)
	hdr[0] = 0x45
	hdr[1] = b.Flags
	binary.BigEndian.PutUint16(hdr[2:4], uint16(b.Length))
	binary.BigEndian.PutUint16(hdr[4:6], uint16(rnd.Uint32()))
	binary.BigEndian.PutUint16(hdr[6:8], 0x4000)
	hdr[8] = ttl
	hdr[9] = protocol
	hdr[10], hdr[11] = 0, 0
	binary.BigEndian.PutUint32(hdr[12:16], src)
	binary.BigEndian.PutUint32(hdr[16:20], dst)
	c := checksum.Compute(hdr[:HeaderLenV4])
	binary.BigEndian.PutUint16(hdr[10:12], ^c)
}
