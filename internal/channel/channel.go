// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package channel provides the duplex control link the handshake and
// notification protocol run over. A side channel moves small wire
// frames plus the memory exchange handles attached to them; it never
// carries payload data.
//
// Two implementations are provided: an in-process pair backed by Go
// channels (process-local technology, tests) and a Unix seqpacket
// socket pair that passes exchange handles as file descriptors
// (shared-memory technology).
package channel

import (
	"errors"
	"syscall"

	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/wire"
)

// Message couples one frame with the exchange handles attached to it,
// in protocol order.
type Message struct {
	Frame   wire.Frame
	Handles []memory.ExchangeHandle
}

// SideChannel is a duplex control link between one server-side receiver
// endpoint and its client. Send may briefly block at the OS level for
// small control frames; Recv blocks until a message or an error
// arrives. Both directions fail once either side closes.
type SideChannel interface {
	Send(Message) error
	Recv() (Message, error)
	Close() error
}

// ErrChannelClosed reports an operation on a locally closed channel.
var ErrChannelClosed = errors.New("channel: use of closed side channel")

// IsCrash reports whether err indicates the peer died under the
// channel (broken-pipe class) rather than closing it in an orderly
// fashion.
func IsCrash(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
