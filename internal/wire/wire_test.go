// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire_test

import (
	"bytes"
	"testing"

	"code.hybscloud.com/memcon/internal/wire"
)

// TestFrameRoundTrip tests header and payload encoding for empty and
// non-empty frames.
func TestFrameRoundTrip(t *testing.T) {
	frames := []wire.Frame{
		{Type: wire.Notification},
		{Type: wire.StartListening},
		{Type: wire.ConnectionRequest, Payload: []byte("geometry goes here")},
	}
	for _, f := range frames {
		var buf bytes.Buffer
		if err := f.Encode(&buf); err != nil {
			t.Fatalf("Encode(%v): %v", f.Type, err)
		}
		got, err := wire.Decode(&buf)
		if err != nil {
			t.Fatalf("Decode(%v): %v", f.Type, err)
		}
		if got.Type != f.Type || !bytes.Equal(got.Payload, f.Payload) {
			t.Fatalf("round trip of %v: got %+v", f.Type, got)
		}
	}
}

// TestDecodeTruncated tests that a short stream fails cleanly.
func TestDecodeTruncated(t *testing.T) {
	var buf bytes.Buffer
	f := wire.Frame{Type: wire.AckConnection, Payload: []byte{1, 2, 3, 4}}
	if err := f.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	short := buf.Bytes()[:buf.Len()-2]
	if _, err := wire.Decode(bytes.NewReader(short)); err == nil {
		t.Fatal("decoding a truncated frame succeeded")
	}
}

// TestHandshakeConfigsRoundTrip tests the concatenated handshake
// payload the connection request carries.
func TestHandshakeConfigsRoundTrip(t *testing.T) {
	slot := wire.SlotMemoryConfig{NumSlots: 64, ContentSize: 1024, ContentAlignment: 64}
	q := wire.QueueMemoryConfig{
		Head:   wire.Span{Offset: 0, Size: 8},
		Tail:   wire.Span{Offset: 64, Size: 8},
		Buffer: wire.Span{Offset: 128, Size: 512},
	}

	payload := slot.AppendBinary(nil)
	payload = q.AppendBinary(payload)

	gotSlot, rest, err := wire.DecodeSlotMemoryConfig(payload)
	if err != nil {
		t.Fatalf("DecodeSlotMemoryConfig: %v", err)
	}
	gotQ, rest, err := wire.DecodeQueueMemoryConfig(rest)
	if err != nil {
		t.Fatalf("DecodeQueueMemoryConfig: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("%d trailing bytes", len(rest))
	}
	if gotSlot != slot {
		t.Fatalf("slot config: got %+v, want %+v", gotSlot, slot)
	}
	if gotQ != q {
		t.Fatalf("queue config: got %+v, want %+v", gotQ, q)
	}
}

// TestConfigDecodeTruncated tests the truncation errors of both
// config decoders.
func TestConfigDecodeTruncated(t *testing.T) {
	if _, _, err := wire.DecodeSlotMemoryConfig(make([]byte, 10)); err == nil {
		t.Fatal("short slot config accepted")
	}
	if _, _, err := wire.DecodeQueueMemoryConfig(make([]byte, 40)); err == nil {
		t.Fatal("short queue config accepted")
	}
}
