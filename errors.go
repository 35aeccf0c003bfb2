// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// For AcquireSlot: every slot is held or in flight.
// For Receive: the data ring is empty.
//
// ErrWouldBlock is a control flow signal, not a failure. The caller
// should retry later rather than propagating the error.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// Error taxonomy surfaced to callers, classified with errors.Is.
// Failures of the memory and channel layers (allocating, mapping or
// binding regions, creating a socket pair) are returned wrapped as they
// are and match none of these kinds.
var (
	// ErrUnexpectedState reports an API call on a server that has shut
	// down or on a Disconnected client, and a client Receive or listen
	// request in a state that does not allow it: Receive needs
	// Connected or DisconnectedRemote, listen requests need Connected.
	ErrUnexpectedState = errors.New("memcon: unexpected instance state")

	// ErrUnexpectedReceiverState reports that the receiver is not in
	// the state the call requires.
	ErrUnexpectedReceiverState = errors.New("memcon: receiver not in required state")

	// ErrPeerDisconnected reports that the peer closed the side
	// channel without sending Shutdown.
	ErrPeerDisconnected = errors.New("memcon: peer disconnected without shutdown")

	// ErrPeerCrashed reports that the OS signalled peer death under
	// the side channel (broken-pipe class).
	ErrPeerCrashed = errors.New("memcon: peer crashed")

	// ErrProtocol reports a frame that is malformed or violates the
	// connection state machine.
	ErrProtocol = errors.New("memcon: protocol violation")

	// ErrReceiver reports that at least one receiver is corrupted.
	// The operation still succeeded for all healthy receivers.
	ErrReceiver = errors.New("memcon: receiver corrupted")

	// ErrNoSuchReceiver reports a ReceiverID unknown to this server.
	ErrNoSuchReceiver = errors.New("memcon: no such receiver")

	// ErrTooManyReceivers reports that MaxNumberReceivers is reached.
	ErrTooManyReceivers = errors.New("memcon: receiver table full")

	// ErrConfigMismatch reports that the peer's slot geometry does not
	// match the locally configured one.
	ErrConfigMismatch = errors.New("memcon: handshake configuration mismatch")
)
