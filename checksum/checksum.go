// Package checksum implements the Internet one's-complement checksum
// (RFC 1071) used by IPv4, ICMP, and UDP, plus IPv4/IPv6 pseudo-header
// construction for the transport-layer checksum. Grounded on
// sun977-NeoScan's packet_builder Checksum()/pseudo-header helpers,
// adapted to operate on slices already owned by a pool buffer rather
// than allocating a fresh header struct per packet.
//
// Author: momentics <momentics@gmail.com>
package checksum

import "encoding/binary"

// Compute returns the one's-complement sum of data, folded to 16 bits.
// Callers finalize a checksum field by writing ^Compute(...) in
// big-endian. Compute does not special-case a zero checksum: the UDP
// writers (udpstack, socket) substitute 0xFFFF for a computed zero,
// since zero in a UDP checksum field means "no checksum".
func Compute(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}

// Finalize folds a partial sum (e.g. pseudo-header plus payload summed
// separately) the same way Compute does, for callers that accumulate
// several regions before finishing.
func Finalize(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}

// Accumulate adds data's 16-bit words into a running sum, for building
// a checksum across multiple non-contiguous regions (pseudo-header,
// then header, then payload) without concatenating them first.
func Accumulate(sum uint32, data []byte) uint32 {
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	return sum
}

// IPv4PseudoHeader accumulates the IPv4 pseudo-header fields (src, dst,
// protocol, and transport length) used by UDP and, when applicable,
// ICMP checksums.
func IPv4PseudoHeader(sum uint32, src, dst uint32, proto uint8, length uint16) uint32 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], src)
	binary.BigEndian.PutUint32(buf[4:8], dst)
	buf[8] = 0
	buf[9] = proto
	binary.BigEndian.PutUint16(buf[10:12], length)
	return Accumulate(sum, buf[:])
}

// IPv6PseudoHeader accumulates the IPv6 pseudo-header fields for UDP.
func IPv6PseudoHeader(sum uint32, src, dst [16]byte, nextHeader uint8, length uint32) uint32 {
	var buf [40]byte
	copy(buf[0:16], src[:])
	copy(buf[16:32], dst[:])
	binary.BigEndian.PutUint32(buf[32:36], length)
	buf[39] = nextHeader
	return Accumulate(sum, buf[:])
}
