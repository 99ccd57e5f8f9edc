// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared data-model types: addresses, four-tuples, and engine/socket
// options. Plain DTOs with no behavior beyond small accessors.

package api

import (
	"fmt"
	"log"
	"net"
)

// Family distinguishes the two address families the stack understands.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// Addr is a tagged union over IPv4 (32-bit host order) and IPv6 (16
// bytes). Only the arm selected by Family is valid; the tag carries
// through the IP and neighbor layers so each dispatches on it in one
// place instead of sniffing address shapes.
type Addr struct {
	Family Family
	V4     uint32
	V6     [16]byte
}

// IsZero reports whether the address is the unspecified address for its family.
func (a Addr) IsZero() bool {
	if a.Family == FamilyV4 {
		return a.V4 == 0
	}
	return a.V6 == [16]byte{}
}

// String renders the address in its conventional textual form (dotted
// quad for IPv4, RFC 5952 for IPv6).
func (a Addr) String() string {
	if a.Family == FamilyV4 {
		return fmt.Sprintf("%d.%d.%d.%d", byte(a.V4>>24), byte(a.V4>>16), byte(a.V4>>8), byte(a.V4))
	}
	return net.IP(a.V6[:]).String()
}

// Equal reports whether two addresses denote the same host.
func (a Addr) Equal(b Addr) bool {
	if a.Family != b.Family {
		return false
	}
	if a.Family == FamilyV4 {
		return a.V4 == b.V4
	}
	return a.V6 == b.V6
}

// FourTuple identifies one UDP flow: <local_addr, local_port, remote_addr, remote_port>.
// Remote fields are zero-valued (wildcard) until Connect.
type FourTuple struct {
	LocalAddr  Addr
	LocalPort  uint16
	RemoteAddr Addr
	RemotePort uint16
}

// IsWildcardRemote reports whether this tuple has not been connected.
func (t FourTuple) IsWildcardRemote() bool {
	return t.RemotePort == 0 && t.RemoteAddr.IsZero()
}

func (t FourTuple) String() string {
	return fmt.Sprintf("%s:%d<->%s:%d", t.LocalAddr, t.LocalPort, t.RemoteAddr, t.RemotePort)
}

// IfAddr is one address configured on an engine's interface.
type IfAddr struct {
	Addr      Addr
	PrefixLen int
	Network   Addr
	Broadcast Addr // valid for FamilyV4 only
}

// NeighborState is the resolution state of one neighbor cache entry.
type NeighborState int

const (
	NeighborIncomplete NeighborState = iota
	NeighborReachable
	NeighborStale
	NeighborProbe
)

func (s NeighborState) String() string {
	switch s {
	case NeighborReachable:
		return "reachable"
	case NeighborStale:
		return "stale"
	case NeighborProbe:
		return "probe"
	default:
		return "incomplete"
	}
}

// SocketOptions configures a socket at bind time.
type SocketOptions struct {
	// RecvQueueCap bounds the number of buffers queued on the socket before
	// further arrivals are dropped (0 means unbounded).
	RecvQueueCap int
}

// EngineOptions configures engine.Init.
type EngineOptions struct {
	// NBufs is the number of MTU-sized buffers in the shared arena.
	NBufs int
	// DefaultRouter is the next-hop used for any destination outside the
	// interface's configured prefixes. Zero value means "none configured".
	DefaultRouter Addr
	// PinCPU, when >= 0, makes Init pin the OS thread it runs on to this
	// logical CPU once, via the affinity package. Init does not lock the
	// calling goroutine to that thread.
	PinCPU int
	// NeighborIdleNs is how long after its last resolution a reachable
	// entry is marked stale (sending through it does not reset this);
	// NeighborGCNs is how long an incomplete/stale/probe entry may sit
	// unresolved before it is garbage collected and its pending queue dropped.
	NeighborIdleNs int64
	NeighborGCNs   int64
	// Logger receives interface-discovery-retry and neighbor-eviction
	// diagnostics; nil means log.Default().
	Logger *log.Logger
}

// DefaultEngineOptions returns the options used when the caller passes a
// zero-value EngineOptions to Init.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		NBufs:          2048,
		PinCPU:         -1,
		NeighborIdleNs: 60_000_000_000,  // 60s
		NeighborGCNs:   180_000_000_000, // 3m
	}
}
