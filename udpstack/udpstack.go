// Package udpstack implements UDP header parse/build and pseudo-header
// checksum handling. Demultiplexing against bound sockets lives in the
// socket package; this package only understands the wire format. The
// socket table's Lookup, not this package, rejects a packet whose
// four-tuple only partially matches a connected (non-wildcard-remote)
// socket.
//
// Author: momentics <momentics@gmail.com>
package udpstack

import (
	"encoding/binary"

	"warpcore/api"
	"warpcore/checksum"
)

// HeaderLen is the fixed UDP header length.
const HeaderLen = 8

// Header is a parsed UDP header.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Parse reads a UDP header from data, which must start at the header.
func Parse(data []byte) (Header, bool) {
	var h Header
	if len(data) < HeaderLen {
		return h, false
	}
	h.SrcPort = binary.BigEndian.Uint16(data[0:2])
	h.DstPort = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.Checksum = binary.BigEndian.Uint16(data[6:8])
	if int(h.Length) > len(data) {
		return h, false
	}
	return h, true
}

// VerifyChecksumV4 validates a UDP-over-IPv4 checksum; a zero checksum
// field means "no checksum" and always verifies, per RFC 768.
func VerifyChecksumV4(data []byte, src, dst uint32) bool {
	h, ok := Parse(data)
	if !ok || h.Checksum == 0 {
		return ok
	}
	sum := checksum.IPv4PseudoHeader(0, src, dst, 17, uint16(len(data)))
	sum = checksum.Accumulate(sum, data)
	return checksum.Finalize(sum) == 0 || checksum.Finalize(sum) == 0xFFFF
}

// VerifyChecksumV6 validates a UDP-over-IPv6 checksum, which is
// mandatory (never zero) per RFC 8200.
func VerifyChecksumV6(data []byte, src, dst [16]byte) bool {
	h, ok := Parse(data)
	if !ok || h.Checksum == 0 {
		return false
	}
	sum := checksum.IPv6PseudoHeader(0, src, dst, 17, uint32(len(data)))
	sum = checksum.Accumulate(sum, data)
	return checksum.Finalize(sum) == 0 || checksum.Finalize(sum) == 0xFFFF
}

// WriteBufferV4 prepends a UDP header in front of b's payload and
// fills in its checksum against the given IPv4 pseudo-header.
func WriteBufferV4(b *api.Buffer, srcPort, dstPort uint16, src, dst uint32) {
	hdr := b.Prepend(HeaderLen)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(b.Length))
	hdr[6], hdr[7] = 0, 0

	sum := checksum.IPv4PseudoHeader(0, src, dst, 17, uint16(b.Length))
	sum = checksum.Accumulate(sum, b.Bytes())
	c := ^checksum.Finalize(sum)
	if c == 0 {
		c = 0xFFFF // zero is reserved to mean "no checksum" for UDP/IPv4 too
	}
	binary.BigEndian.PutUint16(hdr[6:8], c)
}

// WriteBufferV6 prepends a UDP header with a mandatory IPv6 checksum.
func WriteBufferV6(b *api.Buffer, srcPort, dstPort uint16, src, dst [16]byte) {
	hdr := b.Prepend(HeaderLen)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(b.Length))
	hdr[6], hdr[7] = 0, 0

	sum := checksum.IPv6PseudoHeader(0, src, dst, 17, uint32(b.Length))
	sum = checksum.Accumulate(sum, b.Bytes())
	c := ^checksum.Finalize(sum)
	if c == 0 {
		c = 0xFFFF // zero is the reserved "no checksum" sentinel; RFC 8200 forbids it for UDP/IPv6
	}
	binary.BigEndian.PutUint16(hdr[6:8], c)
}

// StripHeader trims b to cover only the UDP payload, given an already
// parsed header, and stamps the sender's port on the descriptor (the
// IP layer already stamped the sender's address).
func StripHeader(b *api.Buffer, h Header) {
	b.SrcPort = h.SrcPort
	b.Reset(b.Off+HeaderLen, int(h.Length)-HeaderLen)
}
