package socket

import (
	"testing"

	"warpcore/api"
	"warpcore/ipstack"
	"warpcore/udpstack"
)

func v4(a, b, c, d byte) api.Addr {
	return api.Addr{Family: api.FamilyV4, V4: uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)}
}

func TestBindAssignsEphemeralPort(t *testing.T) {
	tbl := NewTable()
	s, err := tbl.Bind(v4(10, 0, 0, 1), 0, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if s.Tuple.LocalPort < ephemeralBase {
		t.Fatalf("LocalPort = %d, want >= %d", s.Tuple.LocalPort, ephemeralBase)
	}
}

func TestBindDuplicatePortRejected(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Bind(v4(10, 0, 0, 1), 5000, api.SocketOptions{}); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if _, err := tbl.Bind(v4(10, 0, 0, 1), 5000, api.SocketOptions{}); err != api.ErrAddressInUse {
		t.Fatalf("second Bind err = %v, want ErrAddressInUse", err)
	}
}

func TestLookupWildcardAcceptsAnySender(t *testing.T) {
	tbl := NewTable()
	local := v4(10, 0, 0, 1)
	s, _ := tbl.Bind(local, 5001, api.SocketOptions{})

	got, ok := tbl.Lookup(local, 5001, v4(8, 8, 8, 8), 53)
	if !ok || got != s {
		t.Fatal("unconnected socket should accept any sender")
	}
}

func TestLookupConnectedRejectsMismatchedRemote(t *testing.T) {
	tbl := NewTable()
	local := v4(10, 0, 0, 1)
	s, _ := tbl.Bind(local, 5002, api.SocketOptions{})
	if err := tbl.Connect(s, v4(1, 1, 1, 1), 443); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, ok := tbl.Lookup(local, 5002, v4(1, 1, 1, 1), 443); !ok {
		t.Fatal("expected the connected remote to match")
	}
	if _, ok := tbl.Lookup(local, 5002, v4(2, 2, 2, 2), 443); ok {
		t.Fatal("expected a mismatched remote address to be rejected")
	}
	if _, ok := tbl.Lookup(local, 5002, v4(1, 1, 1, 1), 80); ok {
		t.Fatal("expected a mismatched remote port to be rejected")
	}
	if !tbl.BoundPort(5002) {
		t.Fatal("BoundPort should report true even when the sender was rejected")
	}
}

func TestConnectFreesWildcardTupleForReuse(t *testing.T) {
	tbl := NewTable()
	local := v4(10, 0, 0, 1)
	first, err := tbl.Bind(local, 5000, api.SocketOptions{})
	if err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if _, err := tbl.Bind(local, 5000, api.SocketOptions{}); err != api.ErrAddressInUse {
		t.Fatalf("second Bind err = %v, want ErrAddressInUse", err)
	}

	if err := tbl.Connect(first, v4(9, 9, 9, 9), 443); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	second, err := tbl.Bind(local, 5000, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind after Connect frees wildcard tuple: %v", err)
	}
	if second == first {
		t.Fatal("expected a distinct socket for the re-bound wildcard tuple")
	}
}

func TestCloseUnbindsPort(t *testing.T) {
	tbl := NewTable()
	s, _ := tbl.Bind(v4(10, 0, 0, 1), 5003, api.SocketOptions{})
	tbl.Close(s)
	if tbl.BoundPort(5003) {
		t.Fatal("port should be free after Close")
	}
}

func TestCloseAllClosesEverySocketAndDrainsQueues(t *testing.T) {
	tbl := NewTable()
	s1, _ := tbl.Bind(v4(10, 0, 0, 1), 5010, api.SocketOptions{})
	s2, _ := tbl.Bind(v4(10, 0, 0, 1), 5011, api.SocketOptions{})
	s1.EnqueueRx(&api.Buffer{Base: make([]byte, 16)})
	s2.EnqueueRx(&api.Buffer{Base: make([]byte, 16)})
	s2.EnqueueRx(&api.Buffer{Base: make([]byte, 16)})

	leftover := tbl.CloseAll()

	if leftover.Len() != 3 {
		t.Fatalf("CloseAll leftover len = %d, want 3", leftover.Len())
	}
	if tbl.BoundPort(5010) || tbl.BoundPort(5011) {
		t.Fatal("ports should be unbound after CloseAll")
	}
	if _, ok := tbl.Lookup(v4(10, 0, 0, 1), 5010, api.Addr{}, 0); ok {
		t.Fatal("socket should be unreachable after CloseAll")
	}
	if s1.EnqueueRx(&api.Buffer{Base: make([]byte, 16)}) {
		t.Fatal("EnqueueRx on a closed socket should fail")
	}
}

func TestPrepareTxProducesValidChecksum(t *testing.T) {
	tbl := NewTable()
	s, _ := tbl.Bind(v4(192, 168, 1, 10), 6000, api.SocketOptions{})
	if err := tbl.Connect(s, v4(192, 168, 1, 1), 7000); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	base := make([]byte, 256)
	b := &api.Buffer{Base: base, Off: 64, Length: 5}
	copy(b.Bytes(), []byte("hello"))

	s.PrepareTx(b, fixedRand{v: 42})

	if b.Length != s.HdrLen+5 {
		t.Fatalf("Length = %d, want %d", b.Length, s.HdrLen+5)
	}
	full := b.Bytes()
	if full[s.IPOff] != 0x45 {
		t.Fatalf("IP version/IHL byte = %#x, want 0x45", full[s.IPOff])
	}
	if !ipstack.VerifyChecksumV4(full[s.IPOff:s.UDPOff]) {
		t.Fatal("IPv4 header checksum does not verify")
	}
	src, dst := v4(192, 168, 1, 10), v4(192, 168, 1, 1)
	if !udpstack.VerifyChecksumV4(full[s.UDPOff:], src.V4, dst.V4) {
		t.Fatal("UDP checksum does not verify")
	}
}

func TestPrepareTxToPatchesExplicitDestination(t *testing.T) {
	tbl := NewTable()
	s, _ := tbl.Bind(v4(192, 168, 1, 10), 6001, api.SocketOptions{})

	base := make([]byte, 256)
	b := &api.Buffer{Base: base, Off: 64, Length: 3}
	copy(b.Bytes(), []byte("abc"))

	dst := v4(192, 168, 1, 20)
	s.PrepareTxTo(b, fixedRand{v: 7}, dst, 8125)

	full := b.Bytes()
	gotDst := uint32(full[16])<<24 | uint32(full[17])<<16 | uint32(full[18])<<8 | uint32(full[19])
	if gotDst != dst.V4 {
		t.Fatalf("IP dst = %#x, want %#x", gotDst, dst.V4)
	}
	udp := full[s.UDPOff:]
	if got := uint16(udp[0])<<8 | uint16(udp[1]); got != 6001 {
		t.Fatalf("src port = %d, want 6001", got)
	}
	if got := uint16(udp[2])<<8 | uint16(udp[3]); got != 8125 {
		t.Fatalf("dst port = %d, want 8125", got)
	}
	if s.Tuple.RemotePort != 0 || !s.Tuple.RemoteAddr.IsZero() {
		t.Fatal("an explicit-destination send must not connect the socket")
	}
}

type fixedRand struct{ v uint32 }

func (f fixedRand) Uint32() uint32 { return f.v }
