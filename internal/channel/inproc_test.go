// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channel_test

import (
	"errors"
	"io"
	"testing"

	"code.hybscloud.com/memcon/internal/channel"
	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/wire"
)

// TestInprocDeliver tests ordered delivery with attached handles.
func TestInprocDeliver(t *testing.T) {
	a, b := channel.NewInprocPair()
	defer a.Close()
	defer b.Close()

	msgs := []channel.Message{
		{Frame: wire.Frame{Type: wire.ConnectionRequest, Payload: []byte("cfg")},
			Handles: []memory.ExchangeHandle{{Tech: memory.TechProcessLocal, Key: 7, Size: 64}}},
		{Frame: wire.Frame{Type: wire.Notification}},
	}
	for _, m := range msgs {
		if err := a.Send(m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := b.Recv()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if got.Frame.Type != want.Frame.Type || len(got.Handles) != len(want.Handles) {
			t.Fatalf("Recv %d: got %+v", i, got)
		}
	}
}

// TestInprocCleanClose tests that a close drains pending messages and
// then reports end-of-stream.
func TestInprocCleanClose(t *testing.T) {
	a, b := channel.NewInprocPair()
	if err := a.Send(channel.Message{Frame: wire.Frame{Type: wire.Shutdown}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	a.Close()

	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv of pre-close message: %v", err)
	}
	if got.Frame.Type != wire.Shutdown {
		t.Fatalf("Recv: got %v", got.Frame.Type)
	}
	if _, err := b.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after close: got %v, want io.EOF", err)
	}
	if err := b.Send(channel.Message{Frame: wire.Frame{Type: wire.Notification}}); !channel.IsCrash(err) {
		t.Fatalf("Send to closed peer: got %v, want broken-pipe class", err)
	}
}

// TestInprocAbort tests the simulated crash: the peer observes a
// broken-pipe class error, not an orderly end-of-stream.
func TestInprocAbort(t *testing.T) {
	a, b := channel.NewInprocPair()
	a.Abort()

	_, err := b.Recv()
	if !channel.IsCrash(err) {
		t.Fatalf("Recv after abort: got %v, want broken-pipe class", err)
	}
}

// TestInprocLocalClose tests operations on a locally closed end.
func TestInprocLocalClose(t *testing.T) {
	a, _ := channel.NewInprocPair()
	a.Close()
	if err := a.Send(channel.Message{}); !errors.Is(err, channel.ErrChannelClosed) {
		t.Fatalf("Send on closed end: got %v, want ErrChannelClosed", err)
	}
	if _, err := a.Recv(); !errors.Is(err, channel.ErrChannelClosed) {
		t.Fatalf("Recv on closed end: got %v, want ErrChannelClosed", err)
	}
}
