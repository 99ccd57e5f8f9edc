//go:build linux

package ring

import (
	"sync"

	"golang.org/x/sys/unix"

	"warpcore/api"
)

// FakeBackend is an in-memory loopback RingBackend for tests and for
// running the stack without a real interface. Frames written with
// NicTx are recorded (see SentFrames) and, once Pipe has paired it
// with a peer, immediately available to the peer's next NicRx, to
// simulate two hosts talking over one link; an unpaired backend never
// receives its own frames. The wakeup fd is an eventfd rather than a channel so Poll
// behaves like the real backend's poll(2) wait.
type FakeBackend struct {
	mu       sync.Mutex
	inbox    [][]byte
	peer     *FakeBackend
	sent     [][]byte
	eventFd  int
	features api.BackendFeatures
	closed   bool
}

// NewFakeBackend creates a standalone fake backend; frames sent never
// arrive anywhere unless Pipe connects it to a peer.
func NewFakeBackend() *FakeBackend {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		fd = -1
	}
	return &FakeBackend{
		eventFd: fd,
		features: api.BackendFeatures{
			ZeroCopy:  false,
			Batch:     true,
			OS:        "fake",
			Transport: "loopback",
		},
	}
}

// Pipe connects a and b so each one's NicTx becomes the other's next
// NicRx, modeling a direct link between two engines in tests.
func Pipe(a, b *FakeBackend) {
	a.peer = b
	b.peer = a
}

func (f *FakeBackend) deliver(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.mu.Lock()
	f.inbox = append(f.inbox, cp)
	f.mu.Unlock()
	if f.eventFd >= 0 {
		var one [8]byte
		one[0] = 1
		unix.Write(f.eventFd, one[:])
	}
}

// NicRx hands every queued inbound frame to emit and clears the inbox.
func (f *FakeBackend) NicRx(emit func(frame []byte)) (int, error) {
	f.mu.Lock()
	frames := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	for _, fr := range frames {
		emit(fr)
	}
	return len(frames), nil
}

// NicTx records sent frames and, if piped, delivers them to the peer.
func (f *FakeBackend) NicTx(frames [][]byte) (int, error) {
	f.mu.Lock()
	for _, fr := range frames {
		cp := make([]byte, len(fr))
		copy(cp, fr)
		f.sent = append(f.sent, cp)
	}
	peer := f.peer
	f.mu.Unlock()
	if peer != nil {
		for _, fr := range frames {
			peer.deliver(fr)
		}
	}
	return len(frames), nil
}

// FD returns the eventfd signaled whenever a frame is delivered.
func (f *FakeBackend) FD() uintptr { return uintptr(f.eventFd) }

// Poll waits for the eventfd to become readable or the timeout to
// elapse.
func (f *FakeBackend) Poll(timeoutMs int) error {
	if f.eventFd < 0 {
		return nil
	}
	fds := []unix.PollFd{{Fd: int32(f.eventFd), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, timeoutMs); err != nil && err != unix.EINTR {
		return err
	}
	var buf [8]byte
	unix.Read(f.eventFd, buf[:])
	return nil
}

func (f *FakeBackend) Features() api.BackendFeatures { return f.features }

func (f *FakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.eventFd >= 0 {
		return unix.Close(f.eventFd)
	}
	return nil
}

// SentFrames returns a copy of every frame handed to NicTx, for test
// assertions.
func (f *FakeBackend) SentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

var _ api.RingBackend = (*FakeBackend)(nil)
