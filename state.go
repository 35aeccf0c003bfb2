// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon

import "fmt"

// ReceiverState is the server-side view of one receiver connection.
//
// The lifecycle is Connecting → Connected with two terminal branches:
// Corrupted (protocol fault or peer failure; the receiver is excluded
// from every subsequent send) and Disconnected (orderly end). Corrupted
// only ever leaves through the administrative transitions Terminate and
// server Shutdown, which force Disconnected.
type ReceiverState uint8

const (
	// ReceiverConnecting covers AddReceiver through the handshake.
	ReceiverConnecting ReceiverState = iota
	// ReceiverConnected means the receiver participates in sends.
	ReceiverConnected
	// ReceiverCorrupted means a protocol fault or peer failure was
	// detected; the receiver is skipped forever after.
	ReceiverCorrupted
	// ReceiverDisconnected is the final state.
	ReceiverDisconnected
)

// String returns the state name for logging.
func (s ReceiverState) String() string {
	switch s {
	case ReceiverConnecting:
		return "Connecting"
	case ReceiverConnected:
		return "Connected"
	case ReceiverCorrupted:
		return "Corrupted"
	case ReceiverDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("ReceiverState(%d)", uint8(s))
	}
}

// ClientState is the receiver-side mirror of the connection lifecycle.
// DisconnectedRemote means the server shut down cleanly while the
// client was Connected; local reads of slots still queued remain
// legal. The client enters it on every such shutdown, whether or not
// any slots remain to drain.
type ClientState uint8

const (
	// ClientConnecting covers construction through the handshake.
	ClientConnecting ClientState = iota
	// ClientConnected means data may arrive.
	ClientConnected
	// ClientDisconnectedRemote means the server is gone but local
	// reads of already-queued slots are still permitted.
	ClientDisconnectedRemote
	// ClientCorrupted means a protocol fault or server failure was
	// detected.
	ClientCorrupted
	// ClientDisconnected is the final state.
	ClientDisconnected
)

// String returns the state name for logging.
func (s ClientState) String() string {
	switch s {
	case ClientConnecting:
		return "Connecting"
	case ClientConnected:
		return "Connected"
	case ClientDisconnectedRemote:
		return "DisconnectedRemote"
	case ClientCorrupted:
		return "Corrupted"
	case ClientDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("ClientState(%d)", uint8(s))
	}
}

// OnReceiverStateTransition is the server-side transition callback. It
// is invoked outside the server's mutex, after the transition has been
// applied; err is non-nil only for transitions into Corrupted.
type OnReceiverStateTransition func(id ReceiverID, state ReceiverState, err error)

// OnClientStateTransition is the client-side transition callback,
// invoked outside the client's mutex.
type OnClientStateTransition func(state ClientState, err error)
