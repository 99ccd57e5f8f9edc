// File: api/interfaces.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// RingBackend abstracts the kernel-bypass packet framework: a mapped
// memory region of fixed-size slots, TX/RX ring descriptors, a pollable
// fd, and a non-blocking kick. Everything above the ring package depends
// only on this interface, never on a concrete backend.
type RingBackend interface {
	// NicRx drains available receive slots, invoking emit for each frame.
	// emit must not retain the slice past the call; the backend reclaims
	// ring memory as soon as emit returns.
	NicRx(emit func(frame []byte)) (n int, err error)

	// NicTx moves queued frames into TX ring slots and issues a
	// non-blocking kick. It returns the number of frames accepted; a
	// short count means the TX ring is full and the caller should retry
	// on the next NicTx after a Poll/NicRx cycle frees slots.
	NicTx(frames [][]byte) (n int, err error)

	// FD returns the file descriptor Poll should wait on.
	FD() uintptr

	// Poll blocks on FD for up to timeoutMs (negative means indefinite)
	// until a ring event is ready, or returns early on signal interrupt.
	Poll(timeoutMs int) error

	// Features reports the backend's capabilities, for diagnostics.
	Features() BackendFeatures

	// Close releases the mapped region and any descriptors.
	Close() error
}

// BackendFeatures advertises what a RingBackend implementation supports.
type BackendFeatures struct {
	ZeroCopy  bool
	Batch     bool
	OS        string
	Transport string // e.g. "af_packet/tpacket_v2", "loopback"
}

// PlatformProbe abstracts the platform-specific interface/MAC/MTU/speed
// probing; engine.Init is the only consumer.
type PlatformProbe interface {
	// Discover resolves ifname to its hardware address, MTU, link speed in
	// Mbps, up/down state, and configured addresses. It returns
	// ErrNoSuchInterface if the name does not resolve.
	Discover(ifname string) (IfaceInfo, error)
}

// IfaceInfo is what PlatformProbe.Discover reports about one interface.
type IfaceInfo struct {
	Name  string
	MAC   [6]byte
	MTU   int
	Mbps  uint32
	Up    bool
	Addrs []IfAddr
}
