// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
)

// SlotMemoryConfig describes the geometry of the slot region exchanged
// during the handshake. All fields are u64 on the wire.
type SlotMemoryConfig struct {
	NumSlots         uint64
	ContentSize      uint64
	ContentAlignment uint64
}

const slotMemoryConfigSize = 3 * 8

// AppendBinary appends the little-endian encoding of c to b.
func (c SlotMemoryConfig) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, c.NumSlots)
	b = binary.LittleEndian.AppendUint64(b, c.ContentSize)
	b = binary.LittleEndian.AppendUint64(b, c.ContentAlignment)
	return b
}

// DecodeSlotMemoryConfig decodes c from the front of b and returns the
// remaining bytes.
func DecodeSlotMemoryConfig(b []byte) (SlotMemoryConfig, []byte, error) {
	if len(b) < slotMemoryConfigSize {
		return SlotMemoryConfig{}, nil, fmt.Errorf("wire: slot memory config truncated at %d bytes", len(b))
	}
	c := SlotMemoryConfig{
		NumSlots:         binary.LittleEndian.Uint64(b[0:]),
		ContentSize:      binary.LittleEndian.Uint64(b[8:]),
		ContentAlignment: binary.LittleEndian.Uint64(b[16:]),
	}
	return c, b[slotMemoryConfigSize:], nil
}

// Span locates one sub-range inside an exchanged memory region.
type Span struct {
	Offset uint64
	Size   uint64
}

// QueueMemoryConfig locates the head counter, tail counter and entry
// buffer of one SPSC queue inside its exchanged region.
type QueueMemoryConfig struct {
	Head   Span
	Tail   Span
	Buffer Span
}

const queueMemoryConfigSize = 6 * 8

// AppendBinary appends the little-endian encoding of c to b.
func (c QueueMemoryConfig) AppendBinary(b []byte) []byte {
	for _, s := range [...]Span{c.Head, c.Tail, c.Buffer} {
		b = binary.LittleEndian.AppendUint64(b, s.Offset)
		b = binary.LittleEndian.AppendUint64(b, s.Size)
	}
	return b
}

// DecodeQueueMemoryConfig decodes c from the front of b and returns the
// remaining bytes.
func DecodeQueueMemoryConfig(b []byte) (QueueMemoryConfig, []byte, error) {
	if len(b) < queueMemoryConfigSize {
		return QueueMemoryConfig{}, nil, fmt.Errorf("wire: queue memory config truncated at %d bytes", len(b))
	}
	var c QueueMemoryConfig
	for i, s := range [...]*Span{&c.Head, &c.Tail, &c.Buffer} {
		s.Offset = binary.LittleEndian.Uint64(b[i*16:])
		s.Size = binary.LittleEndian.Uint64(b[i*16+8:])
	}
	return c, b[queueMemoryConfigSize:], nil
}
