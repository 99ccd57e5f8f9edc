// Package ring implements the kernel-bypass-style packet I/O backend:
// a memory-mapped ring of fixed-size slots shared with the kernel, so
// received frames are read in place and transmitted frames are written
// in place rather than copied through a socket read/write buffer. On
// Linux the backend drives AF_PACKET with PACKET_RX_RING/PACKET_TX_RING
// (TPACKET_V2); slot ownership alternates between kernel and user space
// through each frame's status word, and a non-blocking send acts as the
// TX kick.
//
// Author: momentics <momentics@gmail.com>
package ring

import "warpcore/api"

// Config describes how to open a ring-backed NIC attachment.
type Config struct {
	IfName     string
	FrameSize  int // must be >= MTU + link-layer header
	RingFrames int // number of frames per ring, used as given; each ring is a single block of RingFrames frames
}

// DetectBackendFeatures reports what the current platform's Open would
// return without actually opening a ring.
func DetectBackendFeatures() api.BackendFeatures {
	return platformFeatures()
}

// Open opens the best available backend for cfg on the current
// platform: a real mmap'd ring on Linux, or an error everywhere else.
// Callers that want a backend without touching the network (tests,
// loopback-only tools) should construct *FakeBackend directly instead.
func Open(cfg Config) (api.RingBackend, error) {
	return openPlatform(cfg)
}
