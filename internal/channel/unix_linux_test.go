// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package channel_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"code.hybscloud.com/memcon/internal/channel"
	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/wire"
)

// TestUnixFrameRoundTrip tests one frame across the socket pair.
func TestUnixFrameRoundTrip(t *testing.T) {
	a, b, err := channel.NewUnixPair()
	if err != nil {
		t.Fatalf("NewUnixPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	sent := channel.Message{Frame: wire.Frame{Type: wire.AckConnection, Payload: []byte("queue cfg")}}
	if err := a.Send(sent); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Frame.Type != sent.Frame.Type || !bytes.Equal(got.Frame.Payload, sent.Frame.Payload) {
		t.Fatalf("round trip: got %+v", got.Frame)
	}
	if len(got.Handles) != 0 {
		t.Fatalf("phantom handles: %v", got.Handles)
	}
}

// TestUnixPassesDescriptors tests that an exchange handle crosses the
// socket as a descriptor still referring to the same memory.
func TestUnixPassesDescriptors(t *testing.T) {
	a, b, err := channel.NewUnixPair()
	if err != nil {
		t.Fatalf("NewUnixPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	m := memory.NewManager(memory.TechSharedMemory, nil)
	region, handle, err := m.AllocateWritable(4096, 64)
	if err != nil {
		t.Fatalf("AllocateWritable: %v", err)
	}
	defer region.Close()
	region.Bytes()[0] = 0xC3

	msg := channel.Message{
		Frame:   wire.Frame{Type: wire.ConnectionRequest},
		Handles: []memory.ExchangeHandle{handle},
	}
	if err := a.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(got.Handles) != 1 {
		t.Fatalf("handles: got %d, want 1", len(got.Handles))
	}
	h := got.Handles[0]
	if h.Tech != memory.TechSharedMemory || h.Size != 4096 {
		t.Fatalf("handle meta: %+v", h)
	}
	view, err := m.MapReadable(h)
	if err != nil {
		t.Fatalf("MapReadable of passed handle: %v", err)
	}
	defer view.Close()
	if view.Bytes()[0] != 0xC3 {
		t.Fatal("passed descriptor does not refer to the same memory")
	}
}

// TestUnixRejectsLocalHandles tests that process-local handles cannot
// cross a process boundary.
func TestUnixRejectsLocalHandles(t *testing.T) {
	a, b, err := channel.NewUnixPair()
	if err != nil {
		t.Fatalf("NewUnixPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	msg := channel.Message{
		Frame:   wire.Frame{Type: wire.ConnectionRequest},
		Handles: []memory.ExchangeHandle{{Tech: memory.TechProcessLocal, Key: 1}},
	}
	if err := a.Send(msg); err == nil {
		t.Fatal("process-local handle crossed a unix channel")
	}
}

// TestUnixPeerClose tests end-of-stream after the peer closes.
func TestUnixPeerClose(t *testing.T) {
	a, b, err := channel.NewUnixPair()
	if err != nil {
		t.Fatalf("NewUnixPair: %v", err)
	}
	defer b.Close()

	a.Close()
	if _, err := b.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after peer close: got %v, want io.EOF", err)
	}
}
