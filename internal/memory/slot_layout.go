// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

func init() {
	// Guard cells are cast directly onto mapped memory.
	if unsafe.Sizeof(atomix.Uint64{}) != 8 {
		panic("memory: atomix.Uint64 is not 8 bytes")
	}
}

// SlotLayout describes how the slot region is carved up: a guard-field
// array of one generation counter per slot, followed by the payload
// array. The payload base and the per-slot stride honor the configured
// content alignment.
type SlotLayout struct {
	NumSlots         int
	ContentSize      int
	ContentAlignment int

	// Stride is the distance between consecutive payloads.
	Stride int
	// PayloadOffset is where the payload array starts.
	PayloadOffset int
	// TotalSize is the region size to allocate.
	TotalSize int
}

// SlotLayoutFor computes the layout for the given geometry.
// All three arguments must be positive and alignment a power of two;
// the builders validate this before memory is ever laid out.
func SlotLayoutFor(numSlots, contentSize, contentAlignment int) SlotLayout {
	stride := alignUp(contentSize, contentAlignment)
	payloadOff := alignUp(numSlots*guardSize, contentAlignment)
	return SlotLayout{
		NumSlots:         numSlots,
		ContentSize:      contentSize,
		ContentAlignment: contentAlignment,
		Stride:           stride,
		PayloadOffset:    payloadOff,
		TotalSize:        payloadOff + numSlots*stride,
	}
}

const guardSize = 8

// Guard returns the slot's guard generation cell inside region.
// The cell is shared memory: the server advances it when the slot is
// reclaimed, receivers read it to detect reuse under their feet.
func (l SlotLayout) Guard(region []byte, slot int) *atomix.Uint64 {
	return (*atomix.Uint64)(unsafe.Pointer(&region[slot*guardSize]))
}

// Payload returns the slot's payload bytes inside region, sized to the
// configured content size.
func (l SlotLayout) Payload(region []byte, slot int) []byte {
	off := l.PayloadOffset + slot*l.Stride
	return region[off : off+l.ContentSize : off+l.ContentSize]
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
