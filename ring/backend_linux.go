//go:build linux

package ring

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"warpcore/api"
)

const (
	tpacket2HdrSize = 32                               // TPACKET_ALIGN(sizeof(struct tpacket2_hdr))
	sockaddrLLSize  = 20                               // sizeof(struct sockaddr_ll)
	tpacket2HdrLen  = tpacket2HdrSize + sockaddrLLSize // TPACKET2_HDRLEN
	txDataOffset    = tpacket2HdrLen - sockaddrLLSize  // where the kernel reads TX frame data

	tpStatusKernel = 0 // RX: owned by kernel; TX: slot available
	tpStatusUser   = 1 // RX: frame ready; TX: send requested
)

// nextPow2 rounds up to a power of two so tp_block_size stays a
// multiple of the page size regardless of the MTU-derived frame size.
func nextPow2(x int) int {
	n := 1
	for n < x {
		n <<= 1
	}
	return n
}

func platformFeatures() api.BackendFeatures {
	return api.BackendFeatures{
		ZeroCopy:  true,
		Batch:     true,
		OS:        "linux",
		Transport: "af_packet/tpacket_v2",
	}
}

// packetRing is one mmap'd TPACKET_V2 ring (shared layout for RX and TX).
type packetRing struct {
	mem       []byte
	frameSize int
	frameNr   int
	blockSize int
	cursor    int
}

func (r *packetRing) slot(i int) []byte {
	off := i * r.frameSize
	return r.mem[off : off+r.frameSize]
}

// Backend drives one AF_PACKET socket with separate RX and TX rings
// mapped into a single PACKET_MMAP region, per Linux's packet(7).
type Backend struct {
	mu       sync.Mutex
	fd       int
	ifIndex  int
	fullMem  []byte
	rx       packetRing
	tx       packetRing
	features api.BackendFeatures
	closed   bool
}

func openPlatform(cfg Config) (api.RingBackend, error) {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 2048
	}
	if cfg.RingFrames <= 0 {
		cfg.RingFrames = 256
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("ring: socket: %w", err)
	}

	iface, err := net.InterfaceByName(cfg.IfName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s", api.ErrNoSuchInterface, cfg.IfName)
	}

	ver := unix.TPACKET_V2
	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, ver); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ring: set tpacket version: %w", err)
	}

	frameSize := nextPow2(cfg.FrameSize + tpacket2HdrLen)
	blockSize := frameSize * cfg.RingFrames
	req := unix.TpacketReq{
		Block_size: uint32(blockSize),
		Block_nr:   1,
		Frame_size: uint32(frameSize),
		Frame_nr:   uint32(cfg.RingFrames),
	}

	if err := unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &req); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ring: set rx ring: %w", err)
	}
	if err := unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, unix.PACKET_TX_RING, &req); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ring: set tx ring: %w", err)
	}

	total := blockSize * 2 // RX block followed by TX block
	mem, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ring: mmap: %w", err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: iface.Index}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		return nil, fmt.Errorf("ring: bind: %w", err)
	}

	b := &Backend{
		fd:       fd,
		ifIndex:  iface.Index,
		fullMem:  mem,
		rx:       packetRing{mem: mem[:blockSize], frameSize: frameSize, frameNr: cfg.RingFrames, blockSize: blockSize},
		tx:       packetRing{mem: mem[blockSize:], frameSize: frameSize, frameNr: cfg.RingFrames, blockSize: blockSize},
		features: platformFeatures(),
	}
	return b, nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

// struct tpacket2_hdr field accessors: tp_status at 0, tp_len at 4,
// tp_snaplen at 8, tp_mac at 12. Host (little-endian on every platform
// this backend targets) byte order, per the kernel ABI.
func tpStatus(slot []byte) uint32 {
	return binary.LittleEndian.Uint32(slot[0:4])
}

func setTpStatus(slot []byte, v uint32) {
	binary.LittleEndian.PutUint32(slot[0:4], v)
}

func setTpLen(slot []byte, v uint32) {
	binary.LittleEndian.PutUint32(slot[4:8], v)
}

func tpSnaplen(slot []byte) uint32 {
	return binary.LittleEndian.Uint32(slot[8:12])
}

func tpMacOffset(slot []byte) uint16 {
	return binary.LittleEndian.Uint16(slot[12:14])
}

// NicRx drains every RX slot currently owned by user space.
func (b *Backend) NicRx(emit func(frame []byte)) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := 0; i < b.rx.frameNr; i++ {
		idx := (b.rx.cursor + i) % b.rx.frameNr
		slot := b.rx.slot(idx)
		if tpStatus(slot) == tpStatusKernel {
			break
		}
		mac := int(tpMacOffset(slot))
		snap := int(tpSnaplen(slot))
		if mac+snap <= len(slot) {
			emit(slot[mac : mac+snap])
		}
		setTpStatus(slot, tpStatusKernel)
		n++
	}
	b.rx.cursor = (b.rx.cursor + n) % b.rx.frameNr
	return n, nil
}

// NicTx writes frames into free TX slots and kicks the kernel via
// send(2) with MSG_DONTWAIT so TX_RING flushes without blocking.
func (b *Backend) NicTx(frames [][]byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range frames {
		idx := (b.tx.cursor + n) % b.tx.frameNr
		slot := b.tx.slot(idx)
		if tpStatus(slot) != tpStatusKernel {
			break
		}
		copy(slot[txDataOffset:], f)
		setTpLen(slot, uint32(len(f)))
		setTpStatus(slot, tpStatusUser)
		n++
	}
	b.tx.cursor = (b.tx.cursor + n) % b.tx.frameNr
	if n > 0 {
		if err := unix.Sendto(b.fd, nil, unix.MSG_DONTWAIT, &unix.SockaddrLinklayer{Ifindex: b.ifIndex}); err != nil && err != unix.EWOULDBLOCK {
			return n, fmt.Errorf("ring: kick tx: %w", err)
		}
	}
	return n, nil
}

func (b *Backend) FD() uintptr { return uintptr(b.fd) }

// Poll waits for RX readiness using poll(2). A signal interrupt is not
// an error; the caller's driver loop simply comes around again.
func (b *Backend) Poll(timeoutMs int) error {
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
	_, err := unix.Poll(fds, timeoutMs)
	if err == unix.EINTR {
		return nil
	}
	return err
}

func (b *Backend) Features() api.BackendFeatures { return b.features }

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := unix.Munmap(b.fullMem); err != nil {
		return err
	}
	return unix.Close(b.fd)
}
