// Package eth implements Ethernet II frame parsing, header prepend,
// and ethertype dispatch, the thinnest layer in the stack. Headers are
// written with encoding/binary at fixed offsets into buffers the pool
// already allocated, never built as a separate struct and marshaled.
//
// Author: momentics <momentics@gmail.com>
package eth

import (
	"encoding/binary"

	"warpcore/api"
)

// HeaderLen is the size of an untagged Ethernet II header.
const HeaderLen = 14

// EtherType values this stack recognizes.
const (
	TypeIPv4 uint16 = 0x0800
	TypeARP  uint16 = 0x0806
	TypeIPv6 uint16 = 0x86DD
)

// Header is a parsed view over an Ethernet frame's first 14 bytes.
type Header struct {
	Dst  [6]byte
	Src  [6]byte
	Type uint16
}

// Parse reads the Ethernet header from frame. It returns ok=false if
// frame is shorter than HeaderLen.
func Parse(frame []byte) (Header, bool) {
	var h Header
	if len(frame) < HeaderLen {
		return h, false
	}
	copy(h.Dst[:], frame[0:6])
	copy(h.Src[:], frame[6:12])
	h.Type = binary.BigEndian.Uint16(frame[12:14])
	return h, true
}

// Payload returns the frame bytes following the Ethernet header.
func Payload(frame []byte) []byte {
	if len(frame) < HeaderLen {
		return nil
	}
	return frame[HeaderLen:]
}

// BuildTemplate writes a complete Ethernet header for (dst, src,
// ethertype) into template[off:off+HeaderLen], for assembling a whole
// frame by hand. Socket header templates cover IP+UDP only, so the
// transmit path writes each frame's Ethernet header with Prepend.
func BuildTemplate(template []byte, off int, dst, src [6]byte, etherType uint16) {
	copy(template[off:off+6], dst[:])
	copy(template[off+6:off+12], src[:])
	binary.BigEndian.PutUint16(template[off+12:off+14], etherType)
}

// Prepend writes an Ethernet header directly in front of b's current
// payload, consuming HeaderLen bytes of headroom.
func Prepend(b *api.Buffer, dst, src [6]byte, etherType uint16) {
	hdr := b.Prepend(HeaderLen)
	copy(hdr[0:6], dst[:])
	copy(hdr[6:12], src[:])
	binary.BigEndian.PutUint16(hdr[12:14], etherType)
}
