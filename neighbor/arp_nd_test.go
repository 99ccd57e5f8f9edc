package neighbor

import "testing"

func TestARPRoundTrip(t *testing.T) {
	buf := make([]byte, ARPHeaderLen)
	sender := [6]byte{1, 2, 3, 4, 5, 6}
	target := [6]byte{}
	BuildARP(buf, ARPRequest, sender, 0x0A000001, target, 0x0A000002)

	p, ok := ParseARP(buf)
	if !ok {
		t.Fatal("ParseARP failed on well-formed packet")
	}
	if p.Op != ARPRequest || p.SenderMAC != sender || p.SenderIP != 0x0A000001 || p.TargetIP != 0x0A000002 {
		t.Fatalf("parsed ARP mismatch: %+v", p)
	}
}

func TestNSNARoundTrip(t *testing.T) {
	target := [16]byte{0x20, 0x01, 0xd, 0xb8}
	srcMAC := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	nsBuf := make([]byte, 28)
	n := BuildNS(nsBuf, target, srcMAC)
	ns, ok := ParseND(ICMPv6TypeNS, nsBuf[:n])
	if !ok {
		t.Fatal("ParseND failed on NS")
	}
	if ns.Target != target || !ns.HasLinkAddr || ns.LinkAddr != srcMAC {
		t.Fatalf("parsed NS mismatch: %+v", ns)
	}

	naBuf := make([]byte, 28)
	n = BuildNA(naBuf, target, srcMAC, true)
	na, ok := ParseND(ICMPv6TypeNA, naBuf[:n])
	if !ok {
		t.Fatal("ParseND failed on NA")
	}
	if !na.Solicited || !na.Override || na.LinkAddr != srcMAC {
		t.Fatalf("parsed NA mismatch: %+v", na)
	}
}

func TestSolicitedNodeMulticast(t *testing.T) {
	target := [16]byte{0x20, 0x01, 0xd, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3}
	m := SolicitedNodeMulticast(target)
	want := [16]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff, 1, 2, 3}
	if m != want {
		t.Fatalf("got %x, want %x", m, want)
	}
}
