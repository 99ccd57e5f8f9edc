package neighbor

import "encoding/binary"

// ARP wire format constants (RFC 826, Ethernet/IPv4 only).
const (
	ARPHeaderLen  = 28
	arpHWEthernet = 1
	arpProtoIPv4  = 0x0800
	ARPRequest    = 1
	ARPReply      = 2
)

// ARPPacket is a parsed Ethernet/IPv4 ARP packet.
type ARPPacket struct {
	Op        uint16
	SenderMAC [6]byte
	SenderIP  uint32
	TargetMAC [6]byte
	TargetIP  uint32
}

// ParseARP parses an Ethernet/IPv4 ARP packet, rejecting any other
// hardware/protocol combination.
func ParseARP(data []byte) (ARPPacket, bool) {
	var p ARPPacket
	if len(data) < ARPHeaderLen {
		return p, false
	}
	if binary.BigEndian.Uint16(data[0:2]) != arpHWEthernet ||
		binary.BigEndian.Uint16(data[2:4]) != arpProtoIPv4 ||
		data[4] != 6 || data[5] != 4 {
		return p, false
	}
	p.Op = binary.BigEndian.Uint16(data[6:8])
	copy(p.SenderMAC[:], data[8:14])
	p.SenderIP = binary.BigEndian.Uint32(data[14:18])
	copy(p.TargetMAC[:], data[18:24])
	p.TargetIP = binary.BigEndian.Uint32(data[24:28])
	return p, true
}

// BuildARP writes an ARP packet of the given op into out, which must
// be at least ARPHeaderLen bytes.
func BuildARP(out []byte, op uint16, senderMAC [6]byte, senderIP uint32, targetMAC [6]byte, targetIP uint32) {
	binary.BigEndian.PutUint16(out[0:2], arpHWEthernet)
	binary.BigEndian.PutUint16(out[2:4], arpProtoIPv4)
	out[4] = 6
	out[5] = 4
	binary.BigEndian.PutUint16(out[6:8], op)
	copy(out[8:14], senderMAC[:])
	binary.BigEndian.PutUint32(out[14:18], senderIP)
	copy(out[18:24], targetMAC[:])
	binary.BigEndian.PutUint32(out[24:28], targetIP)
}
