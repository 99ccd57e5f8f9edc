package icmpstack

import (
	"testing"

	"warpcore/api"
	"warpcore/checksum"
)

func TestBuildEchoReplyFlipsTypeAndChecksum(t *testing.T) {
	base := make([]byte, 64)
	b := &api.Buffer{Base: base, Off: 16, Length: HeaderLen + 4}
	data := b.Bytes()
	data[0] = TypeEchoRequest
	data[1] = 0
	copy(data[4:6], []byte{0, 1})
	copy(data[6:8], []byte{0, 2})
	copy(data[8:12], []byte("ping"))

	BuildEchoReply(b)

	if data[0] != TypeEchoReply {
		t.Fatalf("type = %d, want %d", data[0], TypeEchoReply)
	}
	if c := checksum.Compute(data); c != 0 && c != 0xFFFF {
		t.Fatalf("checksum after reply = %#x, want 0", c)
	}
}

func TestParseRejectsShort(t *testing.T) {
	if _, ok := Parse(make([]byte, 4)); ok {
		t.Fatal("Parse should reject a header shorter than 8 bytes")
	}
}
