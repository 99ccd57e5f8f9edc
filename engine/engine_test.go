//go:build linux

// Assembled-pipeline tests driving a *Engine end to end over
// ring.FakeBackend instead of a real interface: UDP echo round trips,
// ARP resolve with pending-buffer flush, four-tuple uniqueness across
// Bind/Connect, and port-unreachable emission — paths no single-layer
// unit test below engine can reach. Engines here are built directly
// rather than through Init, since Init's interface probe and ring.Open
// need a real NIC; newTestEngine wires the same fields Init does, by
// hand, onto a FakeBackend.
package engine

import (
	"log"
	"testing"

	"warpcore/api"
	"warpcore/control"
	"warpcore/eth"
	"warpcore/icmpstack"
	"warpcore/internal/xrand"
	"warpcore/ipstack"
	"warpcore/neighbor"
	"warpcore/pool"
	"warpcore/ring"
	"warpcore/socket"
	"warpcore/udpstack"
)

func v4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// newTestEngine builds an *Engine on a standalone FakeBackend with one
// configured /24 IPv4 address, wiring the same dispatcher handlers
// engine.Init does.
func newTestEngine(ip uint32, mac [6]byte) (*Engine, *ring.FakeBackend) {
	fb := ring.NewFakeBackend()
	addrs := []api.IfAddr{{
		Addr:      api.Addr{Family: api.FamilyV4, V4: ip},
		PrefixLen: 24,
		Network:   api.Addr{Family: api.FamilyV4, V4: ip & 0xFFFFFF00},
		Broadcast: api.Addr{Family: api.FamilyV4, V4: (ip & 0xFFFFFF00) | 0xFF},
	}}
	e := &Engine{
		IfName:    "faketest",
		Opts:      api.DefaultEngineOptions(),
		MAC:       mac,
		MTU:       1500,
		Addrs:     addrs,
		Pool:      pool.New(64, 1500),
		Backend:   fb,
		Sockets:   socket.NewTable(),
		Neighbors: neighbor.New(int64(60e9), int64(180e9)),
		Rand:      xrand.New(1),
		Config:    control.NewConfigStore(),
		Debug:     control.NewDebugProbes(),
		Logger:    log.Default(),
	}
	e.Dispatcher = ipstack.NewDispatcher(addrs)
	e.Dispatcher.Handlers = ipstack.Handlers{
		UDPv4:          e.handleUDPv4,
		ICMPv4:         e.handleICMPv4,
		UDPv6:          e.handleUDPv6,
		ICMPv6:         e.handleICMPv6,
		UnknownProtoV4: e.handleUnknownProtoV4,
	}
	return e, fb
}

func pushPayload(e *Engine, payload []byte) *api.BufferQueue {
	var q api.BufferQueue
	b := e.AllocIov(len(payload), 0)
	copy(b.Bytes(), payload)
	q.PushBack(b)
	return &q
}

// TestUDPEchoRoundTrip covers S1: a datagram sent from one engine
// arrives at the other's bound socket, and an echoed reply makes it
// back to the sender's connected socket.
func TestUDPEchoRoundTrip(t *testing.T) {
	macA := [6]byte{0x02, 0, 0, 0, 0, 0x01}
	macB := [6]byte{0x02, 0, 0, 0, 0, 0x02}
	ipA := v4(10, 0, 0, 1)
	ipB := v4(10, 0, 0, 2)

	a, fbA := newTestEngine(ipA, macA)
	b, fbB := newTestEngine(ipB, macB)
	ring.Pipe(fbA, fbB)

	addrA := api.Addr{Family: api.FamilyV4, V4: ipA}
	addrB := api.Addr{Family: api.FamilyV4, V4: ipB}
	a.Neighbors.Resolve(addrB, macB)
	b.Neighbors.Resolve(addrA, macA)

	sA, err := a.Bind(0, 9000, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind on a: %v", err)
	}
	if err := a.Connect(sA, addrB, 9001); err != nil {
		t.Fatalf("Connect sA: %v", err)
	}
	sB, err := b.Bind(0, 9001, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind on b: %v", err)
	}

	payload := []byte("warpcore echo payload")
	a.Tx(sA, pushPayload(a, payload))

	if n, err := fbB.NicRx(b.onFrame); err != nil || n != 1 {
		t.Fatalf("b NicRx = (%d, %v), want (1, nil)", n, err)
	}

	rxQ := b.Rx(sB)
	got := rxQ.PopFront()
	if got == nil {
		t.Fatal("sB received nothing")
	}
	if string(got.Bytes()) != string(payload) {
		t.Fatalf("sB payload = %q, want %q", got.Bytes(), payload)
	}

	// Echo the same bytes back from b to a, over sB connected to a's tuple.
	if err := b.Connect(sB, addrA, 9000); err != nil {
		t.Fatalf("Connect sB: %v", err)
	}
	echo := make([]byte, len(got.Bytes()))
	copy(echo, got.Bytes())
	got.Release()
	b.Tx(sB, pushPayload(b, echo))

	if n, err := fbA.NicRx(a.onFrame); err != nil || n != 1 {
		t.Fatalf("a NicRx = (%d, %v), want (1, nil)", n, err)
	}
	replyQ := a.Rx(sA)
	reply := replyQ.PopFront()
	if reply == nil {
		t.Fatal("sA received no echo reply")
	}
	if string(reply.Bytes()) != string(payload) {
		t.Fatalf("echoed payload = %q, want %q", reply.Bytes(), payload)
	}
	reply.Release()
}

// TestARPResolveFlushesPendingBuffer covers S4: transmitting to an
// unresolved on-link peer parks the buffer and issues exactly one ARP
// request; a synthetic reply resolves the neighbor and flushes the
// buffer onto the wire addressed to the now-known MAC.
func TestARPResolveFlushesPendingBuffer(t *testing.T) {
	macA := [6]byte{0x02, 0, 0, 0, 0, 0x0A}
	macC := [6]byte{0x02, 0, 0, 0, 0, 0x0C}
	ipA := v4(10, 0, 0, 1)
	ipC := v4(10, 0, 0, 3)

	a, fbA := newTestEngine(ipA, macA)

	sA, err := a.Bind(0, 9000, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := a.Connect(sA, api.Addr{Family: api.FamilyV4, V4: ipC}, 9001); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	payload := []byte("queued pending arp resolve")
	a.Tx(sA, pushPayload(a, payload))

	sent := fbA.SentFrames()
	if len(sent) != 1 {
		t.Fatalf("SentFrames after unresolved Tx = %d, want 1 (ARP request only)", len(sent))
	}
	hdr, ok := eth.Parse(sent[0])
	if !ok || hdr.Type != eth.TypeARP {
		t.Fatalf("first sent frame is not an ARP request: %+v ok=%v", hdr, ok)
	}
	req, ok := neighbor.ParseARP(eth.Payload(sent[0]))
	if !ok {
		t.Fatal("failed to parse ARP request body")
	}
	if req.Op != neighbor.ARPRequest {
		t.Fatalf("ARP op = %d, want ARPRequest", req.Op)
	}
	if req.SenderIP != ipA || req.SenderMAC != macA || req.TargetIP != ipC {
		t.Fatalf("ARP request fields = %+v, want sender %x/%x target %x", req, ipA, macA, ipC)
	}

	// Synthesize C's ARP reply and feed it straight into a's ingress path.
	frame := make([]byte, eth.HeaderLen+neighbor.ARPHeaderLen)
	eth.BuildTemplate(frame, 0, macA, macC, eth.TypeARP)
	neighbor.BuildARP(frame[eth.HeaderLen:], neighbor.ARPReply, macC, ipC, macA, ipA)
	a.onFrame(frame)

	sent = fbA.SentFrames()
	if len(sent) != 2 {
		t.Fatalf("SentFrames after ARP reply = %d, want 2 (request + flushed data)", len(sent))
	}
	flushedHdr, ok := eth.Parse(sent[1])
	if !ok {
		t.Fatal("flushed frame failed to parse")
	}
	if flushedHdr.Dst != macC {
		t.Fatalf("flushed frame dst MAC = %x, want %x", flushedHdr.Dst, macC)
	}
	if flushedHdr.Type != eth.TypeIPv4 {
		t.Fatalf("flushed frame ethertype = %x, want IPv4", flushedHdr.Type)
	}
}

// TestUnknownPortEmitsPortUnreachable: a UDP datagram to a port with
// no bound socket draws an ICMP type 3 code 3 whose data quotes the
// offending IPv4 header plus the first 8 payload bytes.
func TestUnknownPortEmitsPortUnreachable(t *testing.T) {
	macA := [6]byte{0x02, 0, 0, 0, 0, 0x01}
	macX := [6]byte{0x02, 0, 0, 0, 0, 0x77}
	ipA := v4(10, 0, 0, 1)
	ipX := v4(10, 0, 0, 7)

	a, fbA := newTestEngine(ipA, macA)
	// Pre-resolve the sender so the unreachable goes straight out
	// instead of parking behind an ARP exchange.
	a.Neighbors.Resolve(api.Addr{Family: api.FamilyV4, V4: ipX}, macX)

	// Build X's datagram to an unbound port by hand: payload, then UDP,
	// then IPv4, then Ethernet.
	base := make([]byte, 256)
	in := &api.Buffer{Base: base, Off: 128, Length: 4}
	copy(in.Bytes(), []byte("ping"))
	udpstack.WriteBufferV4(in, 40000, 55555, ipX, ipA)
	ipstack.WriteBufferV4(in, a.Rand, ipX, ipA, ipstack.ProtoUDP, 64)
	frame := make([]byte, eth.HeaderLen+in.Length)
	eth.BuildTemplate(frame, 0, macA, macX, eth.TypeIPv4)
	copy(frame[eth.HeaderLen:], in.Bytes())

	a.onFrame(frame)

	sent := fbA.SentFrames()
	if len(sent) != 1 {
		t.Fatalf("SentFrames = %d, want 1 (the ICMP error)", len(sent))
	}
	h, ok := eth.Parse(sent[0])
	if !ok || h.Type != eth.TypeIPv4 || h.Dst != macX {
		t.Fatalf("reply frame header = %+v, want IPv4 to %x", h, macX)
	}
	iph, ok := ipstack.ParseV4(eth.Payload(sent[0]))
	if !ok || iph.Protocol != ipstack.ProtoICMP || iph.Dst != ipX {
		t.Fatalf("reply IP header = %+v, want ICMP to %x", iph, ipX)
	}
	icmp := eth.Payload(sent[0])[ipstack.HeaderLenV4:iph.TotalLen]
	if icmp[0] != icmpstack.TypeDestUnreachable || icmp[1] != icmpstack.CodePortUnreachable {
		t.Fatalf("ICMP type/code = %d/%d, want 3/3", icmp[0], icmp[1])
	}
	// The quote preserves the offending datagram's total length, which
	// exceeds the 8 quoted payload bytes, so read fields directly
	// instead of through ParseV4's length validation.
	quoted := icmp[8:]
	if got := len(quoted) - ipstack.HeaderLenV4; got != 8 {
		t.Fatalf("quoted payload bytes = %d, want 8", got)
	}
	if quoted[9] != ipstack.ProtoUDP {
		t.Fatalf("quoted protocol = %d, want UDP", quoted[9])
	}
	qSrc := uint32(quoted[12])<<24 | uint32(quoted[13])<<16 | uint32(quoted[14])<<8 | uint32(quoted[15])
	qDst := uint32(quoted[16])<<24 | uint32(quoted[17])<<16 | uint32(quoted[18])<<8 | uint32(quoted[19])
	if qSrc != ipX || qDst != ipA {
		t.Fatalf("quoted src/dst = %#x/%#x, want %#x/%#x", qSrc, qDst, ipX, ipA)
	}
}

// TestTxToUnconnectedSocket sends from a bound-but-unconnected socket
// to an explicit destination.
func TestTxToUnconnectedSocket(t *testing.T) {
	macA := [6]byte{0x02, 0, 0, 0, 0, 0x01}
	macB := [6]byte{0x02, 0, 0, 0, 0, 0x02}
	ipA := v4(10, 0, 0, 1)
	ipB := v4(10, 0, 0, 2)

	a, fbA := newTestEngine(ipA, macA)
	b, fbB := newTestEngine(ipB, macB)
	ring.Pipe(fbA, fbB)

	addrB := api.Addr{Family: api.FamilyV4, V4: ipB}
	a.Neighbors.Resolve(addrB, macB)

	sA, err := a.Bind(0, 9100, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind on a: %v", err)
	}
	sB, err := b.Bind(0, 9101, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind on b: %v", err)
	}

	payload := []byte("unconnected send")
	if err := a.TxTo(sA, pushPayload(a, payload), addrB, 9101); err != nil {
		t.Fatalf("TxTo: %v", err)
	}
	if n, err := fbB.NicRx(b.onFrame); err != nil || n != 1 {
		t.Fatalf("b NicRx = (%d, %v), want (1, nil)", n, err)
	}
	rxQ := b.Rx(sB)
	got := rxQ.PopFront()
	if got == nil {
		t.Fatal("sB received nothing")
	}
	if string(got.Bytes()) != string(payload) {
		t.Fatalf("payload = %q, want %q", got.Bytes(), payload)
	}
	if got.SrcAddr.V4 != ipA || got.SrcPort != 9100 {
		t.Fatalf("stamped source = %s:%d, want %x:9100", got.SrcAddr, got.SrcPort, ipA)
	}
	got.Release()
}

// TestBindConnectFourTupleUniqueness covers S5: a port can only be
// bound once per exact tuple, but connecting a wildcard socket away
// frees that tuple's wildcard slot for a fresh Bind on the same port.
func TestBindConnectFourTupleUniqueness(t *testing.T) {
	mac := [6]byte{0x02, 0, 0, 0, 0, 0x01}
	e, _ := newTestEngine(v4(10, 0, 0, 1), mac)

	s1, err := e.Bind(0, 5000, api.SocketOptions{})
	if err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if _, err := e.Bind(0, 5000, api.SocketOptions{}); err != api.ErrAddressInUse {
		t.Fatalf("second Bind on same port = %v, want ErrAddressInUse", err)
	}

	peer := api.Addr{Family: api.FamilyV4, V4: v4(10, 0, 0, 9)}
	if err := e.Connect(s1, peer, 4242); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s2, err := e.Bind(0, 5000, api.SocketOptions{})
	if err != nil {
		t.Fatalf("Bind after peer vacated wildcard tuple: %v", err)
	}
	if s1.Tuple == s2.Tuple {
		t.Fatal("connected and freshly bound sockets must not share a tuple")
	}
}
