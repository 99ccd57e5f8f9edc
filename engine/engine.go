// Package engine implements the top-level lifecycle: interface
// discovery, buffer pool and ring backend initialization, and the
// single-threaded driver loop that ties eth/ipstack/udpstack/icmpstack/
// neighbor/socket together. One Engine per interface; engines register
// themselves in a process-wide list guarded by a mutex.
//
// Author: momentics <momentics@gmail.com>
package engine

import (
	"fmt"
	"log"
	"sync"

	"warpcore/affinity"
	"warpcore/api"
	"warpcore/control"
	"warpcore/eth"
	"warpcore/icmpstack"
	"warpcore/internal/fnv"
	"warpcore/internal/wallclock"
	"warpcore/internal/xrand"
	"warpcore/ipstack"
	"warpcore/neighbor"
	"warpcore/pool"
	"warpcore/ring"
	"warpcore/socket"
	"warpcore/udpstack"
)

const maxMTU = 9216 // jumbo frame ceiling; clamps an implausible probe result

// Engine is one attachment to a network interface: its buffer pool,
// ring backend, socket table, and neighbor cache.
type Engine struct {
	IfName string
	Opts   api.EngineOptions
	MAC    [6]byte
	MTU    int
	Addrs  []api.IfAddr

	Pool       *pool.Pool
	Backend    api.RingBackend
	Sockets    *socket.Table
	Neighbors  *neighbor.Cache
	Dispatcher *ipstack.Dispatcher
	Rand       *xrand.Rand
	Config     *control.ConfigStore
	Debug      *control.DebugProbes
	Logger     *log.Logger

	mu     sync.Mutex
	closed bool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Engine{}
)

// DefaultConfig is the process-wide config store a caller populates
// via SetConfig before calling Init to override engine tunables:
// "nbufs", "mtu_cap" (int), "neighbor_idle_ns", "neighbor_gc_ns"
// (int64), and "ephemeral_port_base" (uint16) override
// api.DefaultEngineOptions' corresponding values. Init also keeps this
// store on the returned Engine so OnReload listeners can be registered
// for live tuning after the fact.
var DefaultConfig = control.NewConfigStore()

// configOverrides holds the tunables applyConfigOverrides reads from
// DefaultConfig that don't live on api.EngineOptions itself.
type configOverrides struct {
	mtuCap        int
	ephemeralBase uint16
}

// applyConfigOverrides fills in opts fields left at their
// api.DefaultEngineOptions() value from cfg's current snapshot, and
// returns the overrides that don't live on api.EngineOptions itself.
// Values the caller explicitly set on opts (anything other than the
// zero-opts default) always win over cfg.
func applyConfigOverrides(opts *api.EngineOptions, cfg *control.ConfigStore) configOverrides {
	def := api.DefaultEngineOptions()
	out := configOverrides{
		mtuCap:        cfg.Int("mtu_cap", maxMTU),
		ephemeralBase: cfg.Uint16("ephemeral_port_base", 0),
	}
	if out.mtuCap <= 0 {
		out.mtuCap = maxMTU
	}
	if opts.NBufs == def.NBufs {
		opts.NBufs = cfg.Int("nbufs", def.NBufs)
	}
	if opts.NeighborIdleNs == def.NeighborIdleNs {
		opts.NeighborIdleNs = cfg.Int64("neighbor_idle_ns", def.NeighborIdleNs)
	}
	if opts.NeighborGCNs == def.NeighborGCNs {
		opts.NeighborGCNs = cfg.Int64("neighbor_gc_ns", def.NeighborGCNs)
	}
	return out
}

// Init discovers ifname, allocates the buffer pool and ring backend,
// and wires up the protocol layers. It retries the interface probe a
// bounded number of times with a short sleep between attempts, since
// an interface can still be coming up (e.g. right after a container
// network namespace is created) when Init is first called.
func Init(ifname string, opts api.EngineOptions) (*Engine, error) {
	if opts == (api.EngineOptions{}) {
		opts = api.DefaultEngineOptions()
	}
	overrides := applyConfigOverrides(&opts, DefaultConfig)

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	probe := NewPlatformProbe()
	var info api.IfaceInfo
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		info, err = probe.Discover(ifname)
		if err == nil {
			break
		}
		logger.Printf("engine: %s not ready yet (attempt %d/5): %v", ifname, attempt+1, err)
		wallclock.SleepNs(100_000_000) // 100ms
	}
	if err != nil {
		return nil, fmt.Errorf("engine: discover %s: %w", ifname, err)
	}

	mtu := info.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	if mtu > overrides.mtuCap {
		mtu = overrides.mtuCap
	}

	addrs := filterAddrs(info.Addrs, ifname == "lo")

	backend, err := ring.Open(ring.Config{IfName: ifname, FrameSize: mtu + eth.HeaderLen, RingFrames: 256})
	if err != nil {
		return nil, fmt.Errorf("engine: open ring backend: %w", err)
	}

	p := pool.New(opts.NBufs, mtu)
	salt := fnv.Hash64([]byte(ifname))

	e := &Engine{
		IfName:    ifname,
		Opts:      opts,
		MAC:       info.MAC,
		MTU:       mtu,
		Addrs:     addrs,
		Pool:      p,
		Backend:   backend,
		Sockets:   socket.NewTableWithEphemeralBase(overrides.ephemeralBase),
		Neighbors: neighbor.New(opts.NeighborIdleNs, opts.NeighborGCNs),
		Rand:      xrand.New(salt),
		Config:    DefaultConfig,
		Debug:     control.NewDebugProbes(),
		Logger:    logger,
	}
	e.Dispatcher = ipstack.NewDispatcher(addrs)
	e.Dispatcher.Handlers = ipstack.Handlers{
		UDPv4:          e.handleUDPv4,
		ICMPv4:         e.handleICMPv4,
		UDPv6:          e.handleUDPv6,
		ICMPv6:         e.handleICMPv6,
		UnknownProtoV4: e.handleUnknownProtoV4,
	}
	e.registerDebugProbes()

	if opts.PinCPU >= 0 {
		if perr := affinity.SetAffinity(opts.PinCPU); perr != nil {
			// Diagnostics only: failing to pin never prevents the
			// engine from running, just loses the locality benefit.
			e.Debug.RegisterProbe("affinity_error", func() any { return perr.Error() })
		}
	}

	registryMu.Lock()
	registry[ifname] = e
	registryMu.Unlock()

	return e, nil
}

// filterAddrs drops addresses the stack will never bind or route to:
// IPv6 link-local and deprecated site-local scopes, IPv4-mapped/
// IPv4-compatible IPv6 addresses, and loopback addresses on any
// interface other than the loopback itself.
func filterAddrs(addrs []api.IfAddr, isLoopback bool) []api.IfAddr {
	out := make([]api.IfAddr, 0, len(addrs))
	for _, a := range addrs {
		if a.Addr.Family == api.FamilyV4 {
			if isLoopbackV4(a.Addr.V4) && !isLoopback {
				continue
			}
			out = append(out, a)
			continue
		}
		v6 := a.Addr.V6
		if isLinkLocalV6(v6) || isSiteLocalV6(v6) || isV4MappedOrCompat(v6) {
			continue
		}
		if isLoopbackV6(v6) && !isLoopback {
			continue
		}
		out = append(out, a)
	}
	return out
}

func isLoopbackV4(v4 uint32) bool { return v4>>24 == 127 }

func isLoopbackV6(v6 [16]byte) bool {
	for i := 0; i < 15; i++ {
		if v6[i] != 0 {
			return false
		}
	}
	return v6[15] == 1
}

func isLinkLocalV6(v6 [16]byte) bool { return v6[0] == 0xfe && v6[1]&0xc0 == 0x80 }

func isSiteLocalV6(v6 [16]byte) bool { return v6[0] == 0xfe && v6[1]&0xc0 == 0xc0 }

func isV4MappedOrCompat(v6 [16]byte) bool {
	for i := 0; i < 10; i++ {
		if v6[i] != 0 {
			return false
		}
	}
	if v6[10] == 0xff && v6[11] == 0xff {
		return true // ::ffff:a.b.c.d
	}
	if v6[10] != 0 || v6[11] != 0 {
		return false
	}
	// ::a.b.c.d; ::1 is the loopback address, which filterAddrs handles.
	return !isLoopbackV6(v6)
}

// Poll blocks on the ring backend's fd for up to timeoutMs (negative
// means indefinite) until a ring event is ready; it returns cleanly on
// signal interrupt.
func (e *Engine) Poll(timeoutMs int) error {
	return e.Backend.Poll(timeoutMs)
}

// NicRx drains every ready receive slot into the protocol stack and
// reports how many frames were handled.
func (e *Engine) NicRx() (int, error) {
	return e.Backend.NicRx(e.onFrame)
}

// NicTx kicks the backend's transmit ring. Frames are staged into TX
// slots as they are built (Tx and the ARP/ND/ICMP reply paths hand each
// finished frame straight to the backend, which also kicks), so this
// exists for drivers that want an explicit flush point in their loop.
func (e *Engine) NicTx() (int, error) {
	return e.Backend.NicTx(nil)
}

// RunOnce polls the ring backend for up to timeoutMs and drains any
// ready receive slots into the protocol stack. Callers that want to
// drive the engine forever loop on this.
func (e *Engine) RunOnce(timeoutMs int) error {
	if err := e.Poll(timeoutMs); err != nil {
		return err
	}
	_, err := e.NicRx()
	if err != nil {
		return err
	}
	dropped := e.Neighbors.Age(wallclock.NowNs())
	if len(dropped) > 0 {
		e.Logger.Printf("engine: %s neighbor entry expired, dropping %d queued buffer(s)", e.IfName, len(dropped))
	}
	for _, b := range dropped {
		b.Release()
	}
	return nil
}

// ipv6MulticastMACPrefix is the first two octets of every MAC address
// mapped from an IPv6 multicast address (RFC 2464 §7): 33:33:xx:xx:xx:xx.
// Accepting frames addressed to this prefix stands in for per-group
// multicast membership tracking; the only multicast traffic this stack
// ever needs to receive is solicited-node Neighbor Discovery, which
// every IPv6-capable interface joins implicitly for each of its own
// addresses.
var ipv6MulticastMACPrefix = [2]byte{0x33, 0x33}

func (e *Engine) onFrame(frame []byte) {
	h, ok := eth.Parse(frame)
	if !ok {
		return
	}
	if !e.acceptsDst(h.Dst) {
		return
	}
	payload := eth.Payload(frame)

	switch h.Type {
	case eth.TypeIPv4:
		e.rxIPv4(payload)
	case eth.TypeIPv6:
		e.rxIPv6(payload)
	case eth.TypeARP:
		e.rxARP(payload, h.Src)
	}
}

// acceptsDst is the Ethernet ingress filter: accept only frames
// addressed to this engine's own MAC, the broadcast address, or a
// joined multicast group (see ipv6MulticastMACPrefix).
func (e *Engine) acceptsDst(dst [6]byte) bool {
	if dst == e.MAC || dst == broadcastMAC {
		return true
	}
	return dst[0] == ipv6MulticastMACPrefix[0] && dst[1] == ipv6MulticastMACPrefix[1]
}

func (e *Engine) rxIPv4(payload []byte) {
	b := e.Pool.Alloc(len(payload), 0)
	if b == nil {
		return
	}
	copy(b.Bytes(), payload)
	// RxV4 always resolves b's ownership: releases it on any rejection,
	// or hands it to the matching handler below, which does the same.
	e.Dispatcher.RxV4(b)
}

func (e *Engine) rxIPv6(payload []byte) {
	b := e.Pool.Alloc(len(payload), 0)
	if b == nil {
		return
	}
	copy(b.Bytes(), payload)
	e.Dispatcher.RxV6(b)
}

// handleUDPv4 owns b from here on: every path below either releases it
// or hands it to a socket's receive queue, never both.
func (e *Engine) handleUDPv4(b *api.Buffer, h ipstack.HeaderV4) {
	uh, ok := udpstack.Parse(b.Bytes())
	if !ok {
		b.Release()
		return
	}
	if !udpstack.VerifyChecksumV4(b.Bytes(), h.Src, h.Dst) {
		b.Release()
		return
	}
	dstAddr := api.Addr{Family: api.FamilyV4, V4: h.Dst}
	s, matched := e.Sockets.Lookup(dstAddr, uh.DstPort, b.SrcAddr, uh.SrcPort)
	if !matched {
		if !e.Sockets.BoundPort(uh.DstPort) {
			e.sendPortUnreachableV4(h, b.Bytes())
		}
		b.Release() // bound-but-mismatched remote is also a silent drop
		return
	}
	udpstack.StripHeader(b, uh)
	if !s.EnqueueRx(b) {
		b.Release() // receive queue full or socket closed
	}
}

func (e *Engine) handleUDPv6(b *api.Buffer, h ipstack.HeaderV6) {
	uh, ok := udpstack.Parse(b.Bytes())
	if !ok {
		b.Release()
		return
	}
	if !udpstack.VerifyChecksumV6(b.Bytes(), h.Src, h.Dst) {
		b.Release()
		return
	}
	dstAddr := api.Addr{Family: api.FamilyV6, V6: h.Dst}
	s, matched := e.Sockets.Lookup(dstAddr, uh.DstPort, b.SrcAddr, uh.SrcPort)
	if !matched {
		if !e.Sockets.BoundPort(uh.DstPort) {
			e.sendPortUnreachableV6(h, b.Bytes())
		}
		b.Release()
		return
	}
	udpstack.StripHeader(b, uh)
	if !s.EnqueueRx(b) {
		b.Release()
	}
}

// handleUnknownProtoV4 answers an IPv4 packet carrying a protocol
// number neither UDP nor ICMP with an ICMP protocol-unreachable,
// quoting the offending header plus up to 8 bytes of payload.
func (e *Engine) handleUnknownProtoV4(b *api.Buffer, h ipstack.HeaderV4) {
	defer b.Release()
	e.sendUnreachableV4(icmpstack.CodeProtoUnreachable, h, b.Bytes())
}

// handleICMPv4 always releases b: an echo reply (if any) is built into
// a freshly allocated buffer, never into b itself.
func (e *Engine) handleICMPv4(b *api.Buffer, h ipstack.HeaderV4) {
	defer b.Release()
	ih, ok := icmpstack.Parse(b.Bytes())
	if !ok || ih.Type != icmpstack.TypeEchoRequest {
		return
	}
	reply := e.Pool.Alloc(b.Length, 0)
	if reply == nil {
		return
	}
	copy(reply.Bytes(), b.Bytes())
	icmpstack.BuildEchoReply(reply)
	e.sendIPv4(reply, ipstack.ProtoICMP, h.Dst, h.Src, 64)
}

func (e *Engine) handleICMPv6(b *api.Buffer, h ipstack.HeaderV6) {
	defer b.Release()
	ih, ok := icmpstack.Parse(b.Bytes())
	if !ok {
		return
	}
	switch ih.Type {
	case icmpstack.TypeEchoRequestV6:
		reply := e.Pool.Alloc(b.Length, 0)
		if reply == nil {
			return
		}
		copy(reply.Bytes(), b.Bytes())
		icmpstack.BuildEchoReplyV6(reply, h.Dst, h.Src)
		e.sendIPv6(reply, ipstack.ProtoICMPv6, h.Dst, h.Src, 64)
	case neighbor.ICMPv6TypeNS:
		e.handleNS(b.Bytes(), h)
	case neighbor.ICMPv6TypeNA:
		e.handleNA(b.Bytes())
	}
}

// registerDebugProbes wires live engine counters into control.DebugProbes.
func (e *Engine) registerDebugProbes() {
	e.Debug.RegisterProbe("pool", func() any { return e.Pool.Stats() })
	e.Debug.RegisterProbe("neighbors", func() any { return e.Neighbors.Snapshot() })
	e.Debug.RegisterProbe("backend_features", func() any { return e.Backend.Features() })
}

// Cleanup closes every socket still open on e, returns their queued
// buffers to the pool, closes the ring backend, and removes e from the
// process-wide registry.
func Cleanup(e *Engine) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	leftover := e.Sockets.CloseAll()
	e.Pool.Free(leftover)

	registryMu.Lock()
	delete(registry, e.IfName)
	registryMu.Unlock()

	return e.Backend.Close()
}

// Lookup returns the running engine attached to ifname, if any.
func Lookup(ifname string) (*Engine, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	e, ok := registry[ifname]
	return e, ok
}
