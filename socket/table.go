package socket

import (
	"sync"

	"warpcore/api"
)

// ephemeralBase is the first port Bind hands out when the caller asks
// for port 0, mirroring the common 49152-65535 dynamic/private range.
const ephemeralBase = 49152

// Table is the socket registry for one engine: a hash map keyed by the
// full four-tuple, so a connected socket and a still-wildcard socket
// may share a local port simultaneously (their tuples differ in the
// remote fields). At most one socket may hold any given exact tuple,
// including the wildcard-remote one.
type Table struct {
	mu            sync.Mutex
	byTuple       map[api.FourTuple]*Socket
	portRefs      map[uint16]int
	nextEphemeral uint16
}

// NewTable creates an empty socket table whose ephemeral port
// allocator starts at the standard dynamic/private base (49152).
func NewTable() *Table {
	return NewTableWithEphemeralBase(ephemeralBase)
}

// NewTableWithEphemeralBase is NewTable with a caller-supplied
// ephemeral port range start, for deployments that reserve the
// standard range for something else. base == 0 falls back to the
// standard base.
func NewTableWithEphemeralBase(base uint16) *Table {
	if base == 0 {
		base = ephemeralBase
	}
	return &Table{
		byTuple:       make(map[api.FourTuple]*Socket),
		portRefs:      make(map[uint16]int),
		nextEphemeral: base,
	}
}

// Bind reserves localPort (or an ephemeral one if localPort == 0) for
// localAddr with a wildcard remote and returns the new socket. It
// returns api.ErrAddressInUse if that exact (local-only) tuple is
// already registered.
func (t *Table) Bind(localAddr api.Addr, localPort uint16, opts api.SocketOptions) (*Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if localPort == 0 {
		p, err := t.allocEphemeralLocked(localAddr)
		if err != nil {
			return nil, err
		}
		localPort = p
	}

	tuple := api.FourTuple{LocalAddr: localAddr, LocalPort: localPort}
	if _, taken := t.byTuple[tuple]; taken {
		return nil, api.ErrAddressInUse
	}

	s := newSocket(tuple, opts)
	t.byTuple[tuple] = s
	t.portRefs[localPort]++
	return s, nil
}

func (t *Table) allocEphemeralLocked(localAddr api.Addr) (uint16, error) {
	start := t.nextEphemeral
	for {
		p := t.nextEphemeral
		t.nextEphemeral++
		if t.nextEphemeral == 0 {
			t.nextEphemeral = ephemeralBase
		}
		if _, taken := t.byTuple[api.FourTuple{LocalAddr: localAddr, LocalPort: p}]; !taken {
			return p, nil
		}
		if t.nextEphemeral == start {
			return 0, api.ErrResourceExhausted
		}
	}
}

// Connect fixes s's remote tuple, rebuilding its header template's
// destination fields, and re-keys the registry entry from the
// wildcard tuple to the connected one. On any failure the registry and
// s.Tuple are left exactly as they were. The caller still owns
// resolving the remote's MAC through the neighbor cache before the
// first send.
func (t *Table) Connect(s *Socket, remote api.Addr, remotePort uint16) error {
	if remote.Family != s.Tuple.LocalAddr.Family {
		return api.ErrUnsupportedFamily
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	oldTuple := s.Tuple
	newTuple := oldTuple
	newTuple.RemoteAddr = remote
	newTuple.RemotePort = remotePort
	if newTuple == oldTuple {
		return nil
	}
	if _, taken := t.byTuple[newTuple]; taken {
		return api.ErrAddressInUse
	}

	delete(t.byTuple, oldTuple)
	s.SetRemote(remote, remotePort)
	t.byTuple[newTuple] = s
	return nil
}

// Close unregisters s and returns its still-queued receive buffers for
// the caller to release.
func (t *Table) Close(s *Socket) *api.BufferQueue {
	t.mu.Lock()
	delete(t.byTuple, s.Tuple)
	t.portRefs[s.Tuple.LocalPort]--
	if t.portRefs[s.Tuple.LocalPort] <= 0 {
		delete(t.portRefs, s.Tuple.LocalPort)
	}
	t.mu.Unlock()
	return s.Close()
}

// Lookup finds the socket addressed by an inbound packet's
// <dstAddr, dstPort, srcAddr, srcPort>: it first tries the exact
// connected tuple, then falls back to the wildcard-remote tuple for
// the same local address/port. It returns (nil, false)
// both when no socket matches and when a connected socket is bound to
// dstPort but rejects this sender under the strict-wildcard-remote
// rule, since both cases end the same way (drop, optionally followed
// by an ICMP port-unreachable the caller may choose to emit).
func (t *Table) Lookup(dstAddr api.Addr, dstPort uint16, srcAddr api.Addr, srcPort uint16) (*Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exact := api.FourTuple{LocalAddr: dstAddr, LocalPort: dstPort, RemoteAddr: srcAddr, RemotePort: srcPort}
	if s, ok := t.byTuple[exact]; ok {
		return s, true
	}
	wildcard := api.FourTuple{LocalAddr: dstAddr, LocalPort: dstPort}
	if s, ok := t.byTuple[wildcard]; ok {
		return s, true
	}
	return nil, false
}

// CloseAll closes every socket still registered, returning their
// queued receive buffers concatenated into one chain so the caller can
// return them to the buffer pool. engine.Cleanup calls this during
// teardown.
func (t *Table) CloseAll() *api.BufferQueue {
	t.mu.Lock()
	sockets := make([]*Socket, 0, len(t.byTuple))
	for _, s := range t.byTuple {
		sockets = append(sockets, s)
	}
	t.byTuple = make(map[api.FourTuple]*Socket)
	t.portRefs = make(map[uint16]int)
	t.mu.Unlock()

	var all api.BufferQueue
	for _, s := range sockets {
		q := s.Close()
		all.Concat(q)
	}
	return &all
}

// BoundPort reports whether dstPort currently has any socket bound to
// it (wildcard or connected, on any local address), irrespective of
// remote matching; used to decide whether a mismatched packet should
// draw an ICMP port-unreachable (no socket at all) versus a silent
// drop (a socket exists, the remote just doesn't match).
func (t *Table) BoundPort(dstPort uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portRefs[dstPort] > 0
}
