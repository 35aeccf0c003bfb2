// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon_test

import (
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/memcon"
)

const waitTimeout = 5 * time.Second

// srvTransition records one server-side state transition callback.
type srvTransition struct {
	id    memcon.ReceiverID
	state memcon.ReceiverState
	err   error
}

// cliTransition records one client-side state transition callback.
type cliTransition struct {
	state memcon.ClientState
	err   error
}

// serverFixture is one server plus its recorded transitions.
type serverFixture struct {
	srv     *memcon.Server
	classes []memcon.ClassHandle
	events  chan srvTransition
}

// newServerFixture builds a server on the process-local technology
// with one class per limit.
func newServerFixture(t *testing.T, numSlots, contentSize, contentAlign, maxReceivers int, limits []uint32) *serverFixture {
	t.Helper()
	events := make(chan srvTransition, 64)
	b := memcon.NewServerBuilder().
		NumberSlots(numSlots).
		SlotContentSize(contentSize).
		SlotContentAlignment(contentAlign).
		MemoryTechnology(memcon.TechProcessLocal).
		MaxNumberReceivers(maxReceivers).
		NumberClasses(len(limits))
	classes := make([]memcon.ClassHandle, 0, len(limits))
	for _, l := range limits {
		classes = append(classes, b.Class(l))
	}
	srv, err := b.OnReceiverStateTransition(func(id memcon.ReceiverID, st memcon.ReceiverState, err error) {
		events <- srvTransition{id: id, state: st, err: err}
	}).Build()
	if err != nil {
		t.Fatalf("server Build: %v", err)
	}
	return &serverFixture{srv: srv, classes: classes, events: events}
}

// clientFixture is one client plus its recorded transitions.
type clientFixture struct {
	cli    *memcon.Client
	events chan cliTransition
}

func newClientFixture(t *testing.T, ch memcon.SideChannel) *clientFixture {
	t.Helper()
	events := make(chan cliTransition, 64)
	cli, err := memcon.NewClientBuilder().
		MemoryTechnology(memcon.TechProcessLocal).
		SideChannel(ch).
		OnStateTransition(func(st memcon.ClientState, err error) {
			events <- cliTransition{state: st, err: err}
		}).
		Build()
	if err != nil {
		t.Fatalf("client Build: %v", err)
	}
	return &clientFixture{cli: cli, events: events}
}

// connect adds a receiver over an in-process pair, builds its client
// and waits until both sides report Connected.
func (f *serverFixture) connect(t *testing.T, class memcon.ClassHandle) (memcon.ReceiverID, *clientFixture) {
	t.Helper()
	serverEnd, clientEnd := memcon.NewInProcessChannelPair()
	id, err := f.srv.AddReceiver(class, serverEnd)
	if err != nil {
		t.Fatalf("AddReceiver: %v", err)
	}
	cf := newClientFixture(t, clientEnd)
	if err := f.srv.ConnectReceiver(id); err != nil {
		t.Fatalf("ConnectReceiver: %v", err)
	}
	waitServerState(t, f.events, id, memcon.ReceiverConnected)
	waitClientState(t, cf.events, memcon.ClientConnected)
	return id, cf
}

// waitServerState blocks until the receiver reports the wanted state.
func waitServerState(t *testing.T, events chan srvTransition, id memcon.ReceiverID, want memcon.ReceiverState) srvTransition {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case tr := <-events:
			if tr.id == id && tr.state == want {
				return tr
			}
		case <-deadline:
			t.Fatalf("timed out waiting for receiver %v to reach %v", id, want)
		}
	}
}

// waitClientState blocks until the client reports the wanted state.
func waitClientState(t *testing.T, events chan cliTransition, want memcon.ClientState) cliTransition {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case tr := <-events:
			if tr.state == want {
				return tr
			}
		case <-deadline:
			t.Fatalf("timed out waiting for client state %v", want)
		}
	}
}

// pollUntil spins until cond holds or the timeout expires.
func pollUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	sw := spin.Wait{}
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting until %s", what)
		}
		sw.Once()
	}
}

// mustReceive polls Receive until a sample arrives.
func mustReceive(t *testing.T, cli *memcon.Client) *memcon.Sample {
	t.Helper()
	backoff := iox.Backoff{}
	deadline := time.Now().Add(waitTimeout)
	for {
		s, err := cli.Receive()
		if err == nil {
			return s
		}
		if !memcon.IsWouldBlock(err) {
			t.Fatalf("Receive: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a sample")
		}
		backoff.Wait()
	}
}

// sendOne acquires a slot, stamps its first byte and sends it.
func sendOne(t *testing.T, srv *memcon.Server, stamp byte) (memcon.SlotIndex, memcon.DroppedInfo) {
	t.Helper()
	tok, err := srv.AcquireSlot()
	if err != nil {
		t.Fatalf("AcquireSlot: %v", err)
	}
	slot := tok.Slot()
	srv.AccessSlotContent(tok)[0] = stamp
	dropped, err := srv.SendSlot(tok)
	if err != nil && !errors.Is(err, memcon.ErrReceiver) {
		t.Fatalf("SendSlot: %v", err)
	}
	return slot, dropped
}
