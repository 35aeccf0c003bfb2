// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue

// Ring entries are packed uint64 values. Two packings exist, one per
// transport direction.
//
// Data entries (server → receiver) carry the slot index in the low 32
// bits and the notify flag in bit 63. The flag tells the receiver
// whether the server considered it listening when the entry was pushed.
//
// Release entries (receiver → server) carry the slot index in the low
// 32 bits and the receiver's guard echo in bits 32..62. The server
// checks the echo against the slot's current guard generation to catch
// receivers releasing stale or forged indices.

const (
	notifyBit  = uint64(1) << 63
	slotMask   = uint64(1)<<32 - 1
	guardShift = 32
	// GuardEchoMask bounds the echoed generation to 31 bits; the
	// comparison on the reclaim path truncates identically.
	GuardEchoMask = uint64(1)<<31 - 1
)

// PackData packs a data entry.
func PackData(slot int, notify bool) uint64 {
	v := uint64(slot) & slotMask
	if notify {
		v |= notifyBit
	}
	return v
}

// UnpackData unpacks a data entry.
func UnpackData(v uint64) (slot int, notify bool) {
	return int(v & slotMask), v&notifyBit != 0
}

// PackRelease packs a release entry. guard is truncated to the echo
// width.
func PackRelease(slot int, guard uint64) uint64 {
	return uint64(slot)&slotMask | (guard&GuardEchoMask)<<guardShift
}

// UnpackRelease unpacks a release entry.
func UnpackRelease(v uint64) (slot int, guardEcho uint64) {
	return int(v & slotMask), v >> guardShift & GuardEchoMask
}
