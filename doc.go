// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memcon provides a zero-copy shared-memory message transport
// between a single server (producer) and a bounded set of receivers
// (consumers) on the same machine.
//
// Messages never leave shared memory: the server writes into a
// pre-allocated slot and hands a reference — not a copy — to every
// eligible receiver through lock-free single-producer single-consumer
// rings. Receivers consume in place and release the slot when done; a
// small out-of-band side channel carries only control traffic (the
// handshake, listen requests, wake-up notifications and teardown),
// never payload.
//
// # Quick Start
//
// Server side:
//
//	b := memcon.NewServerBuilder().
//	    NumberSlots(64).
//	    SlotContentSize(1024).
//	    SlotContentAlignment(64).
//	    MemoryTechnology(memcon.TechSharedMemory).
//	    MaxNumberReceivers(8).
//	    NumberClasses(1)
//	cls := b.Class(32)
//	srv, err := b.OnReceiverStateTransition(onTransition).Build()
//
//	id, _ := srv.AddReceiver(cls, serverEnd)
//	srv.ConnectReceiver(id)
//
//	// Hot path: acquire, write in place, send.
//	tok, err := srv.AcquireSlot()
//	if memcon.IsWouldBlock(err) {
//	    srv.ReclaimSlots() // lazily recycle released slots
//	    tok, err = srv.AcquireSlot()
//	}
//	copy(srv.AccessSlotContent(tok), payload)
//	dropped, _ := srv.SendSlot(tok)
//
// Client side:
//
//	cli, err := memcon.NewClientBuilder().
//	    MemoryTechnology(memcon.TechSharedMemory).
//	    SideChannel(clientEnd).
//	    OnStateTransition(onClientTransition).
//	    Build()
//
//	sample, err := cli.Receive()
//	if err == nil {
//	    process(sample.Bytes())
//	    if !sample.Valid() {
//	        // Slot was reclaimed under us; discard what we read.
//	    }
//	    cli.Release(sample)
//	}
//
// # Slot Lifecycle
//
// Every slot is in exactly one of three states: free, held by a
// SlotToken, or in flight. AcquireSlot pops a free slot and mints the
// token; SendSlot consumes the token and moves the slot in flight with
// one borrow per receiver that got it (or straight back to free when
// nobody did); ReclaimSlots returns slots whose last borrow was
// released. Tokens are move-only capabilities: exactly one of SendSlot
// or UnacquireSlot consumes each, and reuse panics.
//
// # Receiver Classes
//
// Every receiver belongs to one class, an admission bucket with a
// concurrency limit. A send that would push a class past its limit is
// dropped for that class only and reported through DroppedInfo; other
// classes still receive. A full per-receiver ring likewise drops only
// for that receiver, silently.
//
// # Connection Lifecycle
//
// A receiver is Connecting from AddReceiver until the handshake
// completes, then Connected. Per-receiver protocol faults never poison
// the server: the offender moves to Corrupted, is reported once
// through the state-transition callback and is skipped forever after;
// operations that ran with a corrupted receiver present return
// ErrReceiver but succeed for everyone else. Disconnected is final.
//
// # Notifications
//
// A receiver that sent StartListening gets one side-channel wake-up
// for every empty→non-empty transition of its ring; later pushes
// coalesce. Notifications are best-effort: receivers must re-check the
// ring after waking and must not assume silence means no data.
//
// # Threading
//
// A server or client serializes all public operations under one mutex
// and drives peer events from a single reactor goroutine. The state
// transition callbacks are invoked after the mutex is released, so
// they may call back into the API. Hot-path operations (AcquireSlot,
// SendSlot, ReclaimSlots, AccessSlotContent, UnacquireSlot, Receive,
// Release) never block beyond that mutex.
//
// # Errors
//
// ErrWouldBlock — sourced from [code.hybscloud.com/iox] for ecosystem
// consistency — signals "try again later": no free slot, empty ring.
// Connection faults surface as ErrPeerDisconnected, ErrPeerCrashed or
// ErrProtocol through the transition callbacks, and as ErrReceiver on
// server operations. Precondition violations (consumed tokens, foreign
// handles, shutdown with outstanding tokens, builder misuse) are
// programmer errors and panic.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit
// memory ordering, and [code.hybscloud.com/spin] for CPU pause
// instructions in busy-wait tests.
package memcon
