// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"code.hybscloud.com/iox"

	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/queue"
)

// ErrWouldBlock indicates no free slot is available right now.
// Control flow signal, not a failure; alias of [iox.ErrWouldBlock].
var ErrWouldBlock = iox.ErrWouldBlock

type slotState uint8

const (
	slotFree slotState = iota
	slotHeld
	slotInFlight
)

// Slots tracks the ownership state of every slot in the slot region:
// a free-list stack plus a per-slot state and borrow count. At most one
// live token exists per slot.
//
// Invariant: numSlots = |free| + |held| + |in flight|.
type Slots struct {
	layout  memory.SlotLayout
	region  []byte
	free    []int
	state   []slotState
	borrows []uint32
}

// NewSlots wraps a writable slot region laid out by layout. All slots
// start free, with their guard generations zeroed.
func NewSlots(region []byte, layout memory.SlotLayout) *Slots {
	s := &Slots{
		layout:  layout,
		region:  region,
		free:    make([]int, 0, layout.NumSlots),
		state:   make([]slotState, layout.NumSlots),
		borrows: make([]uint32, layout.NumSlots),
	}
	// Stack order: slot 0 pops first.
	for i := layout.NumSlots - 1; i >= 0; i-- {
		s.free = append(s.free, i)
	}
	return s
}

// NumSlots returns the slot table capacity.
func (s *Slots) NumSlots() int { return s.layout.NumSlots }

// Acquire pops a slot from the free list and returns its token.
// Returns ErrWouldBlock when every slot is held or in flight.
func (s *Slots) Acquire() (Token, error) {
	if len(s.free) == 0 {
		return Token{}, ErrWouldBlock
	}
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.state[idx] = slotHeld
	return Token{idx: idx, ok: true}, nil
}

// Unacquire consumes the token and returns its slot to the free list
// without sending. No-op on borrow and class counters.
func (s *Slots) Unacquire(t *Token) {
	idx := t.consume()
	if s.state[idx] != slotHeld || s.borrows[idx] != 0 {
		panic("memcon: unacquire of a slot that is not held by a token")
	}
	s.toFree(idx)
}

// Access returns the read-write payload view of the token's slot.
func (s *Slots) Access(t *Token) []byte {
	return s.layout.Payload(s.region, t.Index())
}

// Guard returns the slot's current guard generation.
func (s *Slots) Guard(idx int) uint64 {
	return s.layout.Guard(s.region, idx).LoadAcquire()
}

// AddBorrow records one receiver now holding the token's slot.
// Legal only while the token is still live.
func (s *Slots) AddBorrow(t *Token) {
	idx := t.Index()
	if s.state[idx] != slotHeld {
		panic("memcon: borrow added to a slot not held by a token")
	}
	s.borrows[idx]++
}

// FinishSend consumes the token after a send. If any receiver borrowed
// the slot it moves to the in-flight pool; otherwise it returns to the
// free list immediately.
func (s *Slots) FinishSend(t *Token) {
	idx := t.consume()
	if s.borrows[idx] > 0 {
		s.state[idx] = slotInFlight
		return
	}
	s.toFree(idx)
}

// DropBorrow removes one receiver's borrow of slot idx, freeing the
// slot when the count reaches zero. Reports whether the slot was freed.
func (s *Slots) DropBorrow(idx int) bool {
	if s.state[idx] != slotInFlight || s.borrows[idx] == 0 {
		panic("memcon: borrow dropped on a slot that is not in flight")
	}
	s.borrows[idx]--
	if s.borrows[idx] > 0 {
		return false
	}
	s.toFree(idx)
	return true
}

// Borrowed reports whether slot idx is currently in flight.
func (s *Slots) Borrowed(idx int) bool {
	return idx >= 0 && idx < s.layout.NumSlots && s.state[idx] == slotInFlight
}

// Borrows returns the borrow count of slot idx.
func (s *Slots) Borrows(idx int) int { return int(s.borrows[idx]) }

// FreeCount returns how many slots are on the free list.
func (s *Slots) FreeCount() int { return len(s.free) }

// HeldCount returns how many slots are held by a live token.
func (s *Slots) HeldCount() int {
	n := 0
	for _, st := range s.state {
		if st == slotHeld {
			n++
		}
	}
	return n
}

// InFlightCount returns how many slots are in flight.
func (s *Slots) InFlightCount() int {
	n := 0
	for _, st := range s.state {
		if st == slotInFlight {
			n++
		}
	}
	return n
}

// toFree returns idx to the free list and advances its guard
// generation so receivers still reading detect the reuse.
func (s *Slots) toFree(idx int) {
	s.state[idx] = slotFree
	s.borrows[idx] = 0
	s.layout.Guard(s.region, idx).AddAcqRel(1)
	s.free = append(s.free, idx)
}

// GuardEchoFor returns the truncated guard value a well-behaved
// receiver would echo when releasing slot idx right now.
func (s *Slots) GuardEchoFor(idx int) uint64 {
	return s.Guard(idx) & queue.GuardEchoMask
}
