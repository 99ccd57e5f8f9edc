// Package icmpstack implements ICMPv4/ICMPv6 echo reply and
// destination-unreachable emission. Unreachables quote the offending
// IP header plus the first payload bytes, per RFC 792; the engine
// emits them for unknown UDP ports and unimplemented IP protocols.
//
// Author: momentics <momentics@gmail.com>
package icmpstack

import (
	"encoding/binary"

	"warpcore/api"
	"warpcore/checksum"
)

const (
	TypeEchoRequest      uint8 = 8
	TypeEchoReply        uint8 = 0
	TypeDestUnreachable  uint8 = 3
	CodeProtoUnreachable uint8 = 2
	CodePortUnreachable  uint8 = 3

	TypeEchoRequestV6     uint8 = 128
	TypeEchoReplyV6       uint8 = 129
	TypeDestUnreachableV6 uint8 = 1
	CodePortUnreachableV6 uint8 = 4
)

// HeaderLen is the fixed ICMP header length: type, code, checksum,
// and the 4-byte word that carries the echo identifier/sequence (or
// the unused field of a destination-unreachable).
const HeaderLen = 8

// Header is a parsed ICMP/ICMPv6 header.
type Header struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	Ident    uint16 // echo request/reply only
	Seq      uint16 // echo request/reply only
}

// Parse reads an 8-byte ICMP header from data.
func Parse(data []byte) (Header, bool) {
	var h Header
	if len(data) < HeaderLen {
		return h, false
	}
	h.Type = data[0]
	h.Code = data[1]
	h.Checksum = binary.BigEndian.Uint16(data[2:4])
	h.Ident = binary.BigEndian.Uint16(data[4:6])
	h.Seq = binary.BigEndian.Uint16(data[6:8])
	return h, true
}

// BuildEchoReply turns an inbound echo request buffer in place into an
// echo reply: same identifier/sequence/payload, type flipped, checksum
// recomputed.
func BuildEchoReply(b *api.Buffer) {
	data := b.Bytes()
	data[0] = TypeEchoReply
	data[2], data[3] = 0, 0
	c := checksum.Compute(data)
	binary.BigEndian.PutUint16(data[2:4], ^c)
}

// BuildEchoReplyV6 is BuildEchoReply's ICMPv6 counterpart; the
// checksum covers the IPv6 pseudo-header, so the caller supplies src
// and dst.
func BuildEchoReplyV6(b *api.Buffer, src, dst [16]byte) {
	data := b.Bytes()
	data[0] = TypeEchoReplyV6
	data[2], data[3] = 0, 0
	sum := checksum.IPv6PseudoHeader(0, src, dst, 58, uint32(len(data)))
	sum = checksum.Accumulate(sum, data)
	c := checksum.Finalize(sum)
	binary.BigEndian.PutUint16(data[2:4], ^c)
}

// BuildDestUnreachableV4 fills b with an ICMP destination-unreachable
// message quoting origPacket (expected to be the offending IPv4 header
// plus up to 8 bytes of its payload, per RFC 792).
func BuildDestUnreachableV4(b *api.Buffer, code uint8, origPacket []byte) {
	n := len(origPacket)
	hdr := b.Prepend(HeaderLen + n)
	hdr[0] = TypeDestUnreachable
	hdr[1] = code
	hdr[2], hdr[3] = 0, 0
	binary.BigEndian.PutUint32(hdr[4:8], 0) // unused field
	copy(hdr[HeaderLen:], origPacket)
	c := checksum.Compute(hdr)
	binary.BigEndian.PutUint16(hdr[2:4], ^c)
}

// BuildDestUnreachableV6 is the ICMPv6 counterpart; origPacket is the
// offending IPv6 header plus leading payload bytes, and the checksum
// covers the IPv6 pseudo-header for the given src/dst.
func BuildDestUnreachableV6(b *api.Buffer, code uint8, origPacket []byte, src, dst [16]byte) {
	n := len(origPacket)
	hdr := b.Prepend(HeaderLen + n)
	hdr[0] = TypeDestUnreachableV6
	hdr[1] = code
	hdr[2], hdr[3] = 0, 0
	binary.BigEndian.PutUint32(hdr[4:8], 0) // unused field
	copy(hdr[HeaderLen:], origPacket)
	sum := checksum.IPv6PseudoHeader(0, src, dst, 58, uint32(len(hdr)))
	sum = checksum.Accumulate(sum, hdr)
	binary.BigEndian.PutUint16(hdr[2:4], ^checksum.Finalize(sum))
}
