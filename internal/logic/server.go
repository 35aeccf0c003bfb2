// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logic is the pure in-memory transfer engine: slot ownership,
// per-class admission, borrow accounting and the send / reclaim
// protocol over per-receiver rings. It has no notion of I/O, state
// machines or side channels; the connection layer above drives it.
package logic

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"code.hybscloud.com/memcon/internal/queue"
)

// Protocol violations detected on the reclaim path. Each one corrupts
// the offending receiver; other receivers proceed normally.
var (
	// ErrReleaseRange flags a released slot index outside the table.
	ErrReleaseRange = errors.New("released slot index out of range")
	// ErrReleaseNotHeld flags a release of a slot the receiver does
	// not hold.
	ErrReleaseNotHeld = errors.New("released slot not borrowed by receiver")
	// ErrGuardMismatch flags a release whose guard echo does not match
	// the slot's current generation.
	ErrGuardMismatch = errors.New("released slot guard mismatch")
	// ErrListenToggle flags a StartListening/StopListening that does
	// not alternate with the previous one.
	ErrListenToggle = errors.New("listen state already set")
)

// ErrNoCapacity reports that the receiver table is full.
var ErrNoCapacity = errors.New("receiver table full")

// Corruption reports that a receiver violated the protocol during an
// engine operation and has been excluded from all subsequent sends.
type Corruption struct {
	Receiver int
	Reason   error
}

// Server composes the slot manager, the class counters and the
// per-receiver rings into the send / reclaim engine.
type Server struct {
	slots     *Slots
	classes   *Classes
	receivers []*receiver
	log       *zap.Logger
}

// NewServer creates the engine. maxReceivers bounds the dense receiver
// index space.
func NewServer(slots *Slots, classes *Classes, maxReceivers int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		slots:     slots,
		classes:   classes,
		receivers: make([]*receiver, maxReceivers),
		log:       logger.Named("logic"),
	}
}

// Slots exposes the slot manager.
func (s *Server) Slots() *Slots { return s.slots }

// Classes exposes the admission counters.
func (s *Server) Classes() *Classes { return s.classes }

// Register binds a connected receiver to the dense index idx, which the
// caller allocates. out is the server-to-receiver ring, in the reverse
// direction.
func (s *Server) Register(idx, class int, out *queue.Producer, in *queue.Consumer) error {
	if class < 0 || class >= s.classes.Count() {
		return fmt.Errorf("logic: class %d out of range", class)
	}
	if idx < 0 || idx >= len(s.receivers) {
		return ErrNoCapacity
	}
	if s.receivers[idx] != nil {
		return fmt.Errorf("logic: receiver index %d already registered", idx)
	}
	s.receivers[idx] = &receiver{
		class:   class,
		out:     out,
		in:      in,
		borrows: make([]bool, s.slots.NumSlots()),
	}
	return nil
}

// Unregister removes the receiver and force-releases every slot it
// still holds, as if it had released them before terminating.
func (s *Server) Unregister(idx int) {
	r := s.receiver(idx)
	s.forceRelease(r)
	s.receivers[idx] = nil
}

// MarkCorrupted excludes the receiver from all subsequent sends and
// force-releases its borrows. Its index stays occupied until
// RemoveReceiver; the identity must not be reused while the connection
// layer still reports the corruption.
func (s *Server) MarkCorrupted(idx int) {
	r := s.receiver(idx)
	if r.corrupted {
		return
	}
	r.corrupted = true
	s.forceRelease(r)
	s.log.Debug("receiver corrupted", zap.Int("receiver", idx))
}

// SetListening toggles the receiver's notification window. Returns
// ErrListenToggle when the new state equals the current one; the caller
// is expected to corrupt the receiver then.
func (s *Server) SetListening(idx int, on bool) error {
	r := s.receiver(idx)
	if r.listening == on {
		return ErrListenToggle
	}
	r.listening = on
	return nil
}

// Listening reports the receiver's notification window state.
func (s *Server) Listening(idx int) bool { return s.receiver(idx).listening }

// Send distributes the token's slot to every eligible receiver in
// receiver-index order and consumes the token: to the in-flight pool if
// anyone borrowed it, back to the free list otherwise.
//
// dropped records classes whose ceiling was reached: the remaining
// capacity is taken from the class counters at entry and then reduced
// by each borrow this send adds, so a class filled by its earlier
// members during the same send is recorded as well.
// notify lists receivers that are listening and whose ring went from
// empty to non-empty — each wants exactly one side-channel wake-up.
func (s *Server) Send(t *Token, dropped *DroppedInfo) (notify []int) {
	dropped.Reset()
	idx := t.Index()
	remaining := s.classes.remaining()

	for i, r := range s.receivers {
		if r == nil || r.corrupted {
			continue
		}
		if remaining[r.class] == 0 {
			dropped.add(r.class)
			continue
		}
		edge, err := r.out.TryPush(queue.PackData(idx, r.listening))
		if err != nil {
			// Ring full: a silent per-receiver drop, not a fault.
			s.log.Debug("send dropped on full ring",
				zap.Int("receiver", i), zap.Int("slot", idx))
			continue
		}
		s.slots.AddBorrow(t)
		r.borrows[idx] = true
		r.nborrows++
		s.classes.addBorrow(r.class)
		remaining[r.class]--
		if edge && r.listening {
			notify = append(notify, i)
		}
	}
	s.slots.FinishSend(t)
	return notify
}

// Reclaim drains every receiver's release ring, returning slots whose
// borrow count reached zero to the free list. Non-blocking and
// idempotent: with no new releases it does nothing.
//
// A malformed release corrupts the offending receiver; draining
// continues with the next receiver.
func (s *Server) Reclaim() []Corruption {
	var corruptions []Corruption
	for i, r := range s.receivers {
		if r == nil || r.corrupted {
			continue
		}
		for {
			v, err := r.in.TryPop()
			if err != nil {
				break
			}
			slot, echo := queue.UnpackRelease(v)
			if reason := s.validateRelease(r, slot, echo); reason != nil {
				s.log.Warn("protocol violation on release",
					zap.Int("receiver", i), zap.Int("slot", slot),
					zap.Error(reason))
				s.MarkCorrupted(i)
				corruptions = append(corruptions, Corruption{Receiver: i, Reason: reason})
				break
			}
			r.borrows[slot] = false
			r.nborrows--
			s.classes.dropBorrow(r.class)
			s.slots.DropBorrow(slot)
		}
	}
	return corruptions
}

func (s *Server) validateRelease(r *receiver, slot int, echo uint64) error {
	if slot < 0 || slot >= s.slots.NumSlots() {
		return ErrReleaseRange
	}
	if !r.holds(slot) {
		return ErrReleaseNotHeld
	}
	if echo != s.slots.GuardEchoFor(slot) {
		return ErrGuardMismatch
	}
	return nil
}

// Corrupted reports whether the receiver has been excluded.
func (s *Server) Corrupted(idx int) bool { return s.receiver(idx).corrupted }

// forceRelease drops every borrow the receiver still holds.
func (s *Server) forceRelease(r *receiver) {
	if r.nborrows == 0 {
		return
	}
	for slot, held := range r.borrows {
		if !held {
			continue
		}
		r.borrows[slot] = false
		r.nborrows--
		s.classes.dropBorrow(r.class)
		s.slots.DropBorrow(slot)
	}
}

func (s *Server) receiver(idx int) *receiver {
	if idx < 0 || idx >= len(s.receivers) || s.receivers[idx] == nil {
		panic("memcon: receiver index not registered with engine")
	}
	return s.receivers[idx]
}
