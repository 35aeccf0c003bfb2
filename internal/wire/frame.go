// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire defines the framed control protocol spoken over the side
// channel: small typed frames carrying handshake configuration, plus the
// notification and listener-arbitration signals. Payload bytes are
// little-endian throughout. Memory exchange handles ride out-of-band;
// the side-channel implementation is responsible for transporting them
// alongside the frame they belong to.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies a control frame.
type FrameType uint8

const (
	// ConnectionRequest opens the handshake (server → client). Payload:
	// SlotMemoryConfig ‖ QueueMemoryConfig of the server-to-client queue.
	// Carries two exchange handles: slot region, server queue region.
	ConnectionRequest FrameType = iota + 1
	// AckConnection answers a ConnectionRequest (client → server).
	// Payload: QueueMemoryConfig of the client-to-server queue.
	// Carries one exchange handle: client queue region.
	AckConnection
	// AckQueueInitialization confirms the peer's queue has been mapped.
	AckQueueInitialization
	// Notification wakes a listening receiver. Empty payload.
	Notification
	// StartListening requests wake-ups on new data (client → server).
	StartListening
	// StopListening rescinds wake-ups (client → server).
	StopListening
	// Shutdown announces orderly teardown of the sender. Empty payload.
	Shutdown
	// Termination force-disconnects the peer (server → client).
	Termination
)

// String returns the frame type name for logging.
func (t FrameType) String() string {
	switch t {
	case ConnectionRequest:
		return "ConnectionRequest"
	case AckConnection:
		return "AckConnection"
	case AckQueueInitialization:
		return "AckQueueInitialization"
	case Notification:
		return "Notification"
	case StartListening:
		return "StartListening"
	case StopListening:
		return "StopListening"
	case Shutdown:
		return "Shutdown"
	case Termination:
		return "Termination"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// maxPayload is the largest encodable payload; the length field is u16.
const maxPayload = 1<<16 - 1

// headerSize is type(1) + payload_length(2).
const headerSize = 3

// Frame is one control message. Memory exchange handles attached to a
// frame travel out-of-band through the side channel, not in the payload.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Encode writes the frame header and payload to w. Handles are not
// encoded; they travel through the side channel's out-of-band mechanism.
func (f *Frame) Encode(w io.Writer) error {
	if len(f.Payload) > maxPayload {
		return fmt.Errorf("wire: payload %d bytes exceeds frame limit", len(f.Payload))
	}
	var hdr [headerSize]byte
	hdr[0] = byte(f.Type)
	binary.LittleEndian.PutUint16(hdr[1:], uint16(len(f.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// Decode reads one frame header and payload from r. Handle attachment is
// left to the caller.
func Decode(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Type: FrameType(hdr[0])}
	n := binary.LittleEndian.Uint16(hdr[1:])
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}
