// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queue implements the single-producer single-consumer ring the
// transport runs on. The ring is a Lamport ring buffer whose head
// counter, tail counter and entry buffer live in an exchanged memory
// region, so the two ends can belong to different processes.
//
// Exactly one goroutine may drive the Producer end and exactly one the
// Consumer end. Violating this causes undefined behavior including data
// corruption; there is no detection.
//
// Entries are packed uint64 values; see PackData, PackRelease.
package queue

import (
	"fmt"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"code.hybscloud.com/memcon/internal/wire"
)

// ErrWouldBlock indicates the ring is full (push) or empty (pop).
// Control flow signal, not a failure; alias of [iox.ErrWouldBlock].
var ErrWouldBlock = iox.ErrWouldBlock

func init() {
	// Index cells are cast directly onto mapped memory.
	if unsafe.Sizeof(atomix.Uint64{}) != 8 {
		panic("queue: atomix.Uint64 is not 8 bytes")
	}
}

const (
	counterSize = 8
	entrySize   = 8
	// cacheLine separates the head and tail cells so the two ends do
	// not ping-pong one line between cores.
	cacheLine = 64
)

// Layout describes the memory a ring of the given capacity needs and
// where its parts sit inside the region.
type Layout struct {
	Capacity  int
	TotalSize int
	Config    wire.QueueMemoryConfig
}

// LayoutFor computes the region layout for a ring holding at least
// capacity entries. Capacity rounds up to the next power of 2, with a
// minimum of 2. Panics if capacity < 1.
func LayoutFor(capacity int) Layout {
	if capacity < 1 {
		panic("queue: capacity must be >= 1")
	}
	n := roundToPow2(capacity)
	return Layout{
		Capacity:  n,
		TotalSize: 2*cacheLine + n*entrySize,
		Config: wire.QueueMemoryConfig{
			Head:   wire.Span{Offset: 0, Size: counterSize},
			Tail:   wire.Span{Offset: cacheLine, Size: counterSize},
			Buffer: wire.Span{Offset: 2 * cacheLine, Size: uint64(n * entrySize)},
		},
	}
}

// ring is the common binding of both ends onto a mapped region.
type ring struct {
	head   *atomix.Uint64
	tail   *atomix.Uint64
	buffer []uint64
	mask   uint64
}

func bind(region []byte, cfg wire.QueueMemoryConfig) (ring, error) {
	if cfg.Head.Size < counterSize || cfg.Tail.Size < counterSize {
		return ring{}, fmt.Errorf("queue: index cell smaller than %d bytes", counterSize)
	}
	n := cfg.Buffer.Size / entrySize
	if n < 2 || n&(n-1) != 0 {
		return ring{}, fmt.Errorf("queue: buffer holds %d entries, want power of two >= 2", n)
	}
	for _, s := range [...]wire.Span{cfg.Head, cfg.Tail, cfg.Buffer} {
		if s.Offset%counterSize != 0 {
			return ring{}, fmt.Errorf("queue: span offset %d not 8-byte aligned", s.Offset)
		}
		if s.Offset+s.Size > uint64(len(region)) {
			return ring{}, fmt.Errorf("queue: span [%d,+%d) outside region of %d bytes", s.Offset, s.Size, len(region))
		}
	}
	return ring{
		head:   (*atomix.Uint64)(unsafe.Pointer(&region[cfg.Head.Offset])),
		tail:   (*atomix.Uint64)(unsafe.Pointer(&region[cfg.Tail.Offset])),
		buffer: unsafe.Slice((*uint64)(unsafe.Pointer(&region[cfg.Buffer.Offset])), n),
		mask:   n - 1,
	}, nil
}

// Producer is the writing end of a ring.
type Producer struct {
	ring
}

// BindProducer binds the producer end onto a mapped region. The region
// must be writable on this side.
func BindProducer(region []byte, cfg wire.QueueMemoryConfig) (*Producer, error) {
	r, err := bind(region, cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{ring: r}, nil
}

// TryPush appends v to the ring. Returns ErrWouldBlock iff the ring is
// full. edge reports whether this push took the ring from empty to
// non-empty — the transition the notification protocol keys on.
//
// The classic cached-head optimization is deliberately absent here: a
// cached head cannot distinguish "still has entries" from "consumer
// drained everything", and the empty→non-empty edge must be exact.
func (p *Producer) TryPush(v uint64) (edge bool, err error) {
	tail := p.tail.LoadRelaxed()
	head := p.head.LoadAcquire()
	if tail-head > p.mask {
		return false, ErrWouldBlock
	}
	p.buffer[tail&p.mask] = v
	p.tail.StoreRelease(tail + 1)
	return head == tail, nil
}

// Cap returns the ring capacity.
func (p *Producer) Cap() int { return int(p.mask + 1) }

// Consumer is the reading end of a ring.
type Consumer struct {
	ring
	cachedTail uint64
}

// BindConsumer binds the consumer end onto a mapped region. The region
// must be writable on this side (the consumer owns the head cell).
func BindConsumer(region []byte, cfg wire.QueueMemoryConfig) (*Consumer, error) {
	r, err := bind(region, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{ring: r}, nil
}

// TryPop removes and returns the oldest entry.
// Returns (0, ErrWouldBlock) iff the ring is empty.
func (c *Consumer) TryPop() (uint64, error) {
	head := c.head.LoadRelaxed()
	if head >= c.cachedTail {
		c.cachedTail = c.tail.LoadAcquire()
		if head >= c.cachedTail {
			return 0, ErrWouldBlock
		}
	}
	v := c.buffer[head&c.mask]
	c.head.StoreRelease(head + 1)
	return v, nil
}

// Cap returns the ring capacity.
func (c *Consumer) Cap() int { return int(c.mask + 1) }

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
