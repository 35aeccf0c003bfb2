// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/memcon"
)

func mustPanic(t *testing.T, what string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s did not panic", what)
		}
	}()
	f()
}

// TestServerBuilderValidation walks the option preconditions.
func TestServerBuilderValidation(t *testing.T) {
	mustPanic(t, "NumberSlots(0)", func() {
		memcon.NewServerBuilder().NumberSlots(0)
	})
	mustPanic(t, "SlotContentSize(-1)", func() {
		memcon.NewServerBuilder().SlotContentSize(-1)
	})
	mustPanic(t, "SlotContentAlignment(3)", func() {
		memcon.NewServerBuilder().SlotContentAlignment(3)
	})
	mustPanic(t, "MaxNumberReceivers(0)", func() {
		memcon.NewServerBuilder().MaxNumberReceivers(0)
	})
	mustPanic(t, "double NumberSlots", func() {
		memcon.NewServerBuilder().NumberSlots(1).NumberSlots(2)
	})
	mustPanic(t, "Class before NumberClasses", func() {
		memcon.NewServerBuilder().Class(1)
	})
	mustPanic(t, "excess Class call", func() {
		b := memcon.NewServerBuilder().NumberClasses(1)
		b.Class(1)
		b.Class(1)
	})
	mustPanic(t, "Build without options", func() {
		memcon.NewServerBuilder().Build()
	})
	mustPanic(t, "Build with missing Class calls", func() {
		memcon.NewServerBuilder().
			NumberSlots(1).
			SlotContentSize(1).
			SlotContentAlignment(1).
			MaxNumberReceivers(1).
			NumberClasses(2).
			OnReceiverStateTransition(func(memcon.ReceiverID, memcon.ReceiverState, error) {}).
			Build()
	})
	mustPanic(t, "nil callback", func() {
		memcon.NewServerBuilder().OnReceiverStateTransition(nil)
	})
}

// TestServerBuilderSingleUse checks that Build consumes the builder.
func TestServerBuilderSingleUse(t *testing.T) {
	b := memcon.NewServerBuilder().
		NumberSlots(2).
		SlotContentSize(64).
		SlotContentAlignment(8).
		MaxNumberReceivers(1).
		NumberClasses(0).
		OnReceiverStateTransition(func(memcon.ReceiverID, memcon.ReceiverState, error) {})
	srv, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer srv.Shutdown()

	mustPanic(t, "second Build", func() { b.Build() })
	mustPanic(t, "option after Build", func() { b.NumberClasses(1) })
}

// TestClientBuilderValidation walks the client option preconditions.
func TestClientBuilderValidation(t *testing.T) {
	mustPanic(t, "Build without side channel", func() {
		memcon.NewClientBuilder().
			OnStateTransition(func(memcon.ClientState, error) {}).
			Build()
	})
	mustPanic(t, "Build without callback", func() {
		end, _ := memcon.NewInProcessChannelPair()
		memcon.NewClientBuilder().SideChannel(end).Build()
	})
	mustPanic(t, "SlotContentAlignment(6)", func() {
		memcon.NewClientBuilder().SlotContentAlignment(6)
	})
	mustPanic(t, "nil side channel", func() {
		memcon.NewClientBuilder().SideChannel(nil)
	})
}

// TestClientGeometryMismatch checks the handshake sanity values: a
// client expecting different slot geometry refuses to connect.
func TestClientGeometryMismatch(t *testing.T) {
	f := newServerFixture(t, 2, 64, 8, 1, []uint32{2})
	serverEnd, clientEnd := memcon.NewInProcessChannelPair()
	id, err := f.srv.AddReceiver(f.classes[0], serverEnd)
	if err != nil {
		t.Fatalf("AddReceiver: %v", err)
	}

	events := make(chan cliTransition, 16)
	_, err = memcon.NewClientBuilder().
		SlotContentSize(128). // server offers 64
		MemoryTechnology(memcon.TechProcessLocal).
		SideChannel(clientEnd).
		OnStateTransition(func(st memcon.ClientState, err error) {
			events <- cliTransition{state: st, err: err}
		}).
		Build()
	if err != nil {
		t.Fatalf("client Build: %v", err)
	}
	if err := f.srv.ConnectReceiver(id); err != nil {
		t.Fatalf("ConnectReceiver: %v", err)
	}

	tr := waitClientState(t, events, memcon.ClientCorrupted)
	if !errors.Is(tr.err, memcon.ErrConfigMismatch) {
		t.Fatalf("corruption cause: got %v, want ErrConfigMismatch", tr.err)
	}
}
