// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package memcon_test

import (
	"bytes"
	"testing"

	"code.hybscloud.com/memcon"
)

// TestSharedMemoryEndToEnd runs the transfer protocol over the real
// backends: memfd slot and ring regions handed across a unix
// seqpacket channel as descriptors. Both façades live in this process,
// but every byte moves through mapped shared memory exactly as it
// would across processes.
func TestSharedMemoryEndToEnd(t *testing.T) {
	events := make(chan srvTransition, 16)
	b := memcon.NewServerBuilder().
		NumberSlots(4).
		SlotContentSize(256).
		SlotContentAlignment(64).
		MemoryTechnology(memcon.TechSharedMemory).
		MaxNumberReceivers(1).
		NumberClasses(1)
	cls := b.Class(4)
	srv, err := b.OnReceiverStateTransition(func(id memcon.ReceiverID, st memcon.ReceiverState, err error) {
		events <- srvTransition{id: id, state: st, err: err}
	}).Build()
	if err != nil {
		t.Fatalf("server Build: %v", err)
	}

	serverEnd, clientEnd, err := memcon.NewUnixChannelPair()
	if err != nil {
		t.Fatalf("NewUnixChannelPair: %v", err)
	}
	id, err := srv.AddReceiver(cls, serverEnd)
	if err != nil {
		t.Fatalf("AddReceiver: %v", err)
	}

	cliEvents := make(chan cliTransition, 16)
	cli, err := memcon.NewClientBuilder().
		SlotContentSize(256).
		SlotContentAlignment(64).
		MemoryTechnology(memcon.TechSharedMemory).
		SideChannel(clientEnd).
		OnStateTransition(func(st memcon.ClientState, err error) {
			cliEvents <- cliTransition{state: st, err: err}
		}).
		Build()
	if err != nil {
		t.Fatalf("client Build: %v", err)
	}

	if err := srv.ConnectReceiver(id); err != nil {
		t.Fatalf("ConnectReceiver: %v", err)
	}
	waitServerState(t, events, id, memcon.ReceiverConnected)
	waitClientState(t, cliEvents, memcon.ClientConnected)

	payload := []byte("zero copies were made in the production of this message")
	tok := mustAcquire(t, srv)
	copy(srv.AccessSlotContent(tok), payload)
	if _, err := srv.SendSlot(tok); err != nil {
		t.Fatalf("SendSlot: %v", err)
	}

	s := mustReceive(t, cli)
	if !bytes.Equal(s.Bytes()[:len(payload)], payload) {
		t.Fatalf("payload mismatch across shared memory")
	}
	if !s.Valid() {
		t.Fatal("sample invalid before release")
	}
	if err := cli.Release(s); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := srv.ReclaimSlots(); err != nil {
		t.Fatalf("ReclaimSlots: %v", err)
	}

	if err := srv.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	waitClientState(t, cliEvents, memcon.ClientDisconnectedRemote)
	if err := cli.Shutdown(); err != nil {
		t.Fatalf("client Shutdown: %v", err)
	}
	pollUntil(t, "server idle", func() bool { return !srv.IsInUse() })
	pollUntil(t, "client idle", func() bool { return !cli.IsInUse() })
}
