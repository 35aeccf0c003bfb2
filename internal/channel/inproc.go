// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channel

import (
	"io"
	"sync"
	"syscall"

	"code.hybscloud.com/atomix"
)

// inprocDir is one direction of an in-process pair.
type inprocDir struct {
	msgs chan Message
	// closed is shut when the writing side closes its end.
	closed chan struct{}
	once   sync.Once
	// crashed marks the closure as a simulated peer death.
	crashed atomix.Bool
}

func newInprocDir() *inprocDir {
	return &inprocDir{
		msgs:   make(chan Message, 64),
		closed: make(chan struct{}),
	}
}

func (d *inprocDir) shut() {
	d.once.Do(func() { close(d.closed) })
}

// Inproc is one end of an in-process side channel pair. It satisfies
// SideChannel for the process-local memory technology and for tests.
type Inproc struct {
	out *inprocDir // written by this end
	in  *inprocDir // written by the peer
}

// NewInprocPair returns the two connected ends.
func NewInprocPair() (*Inproc, *Inproc) {
	ab, ba := newInprocDir(), newInprocDir()
	return &Inproc{out: ab, in: ba}, &Inproc{out: ba, in: ab}
}

// Send delivers msg to the peer. Blocks while the peer's inbox is full.
func (c *Inproc) Send(msg Message) error {
	select {
	case <-c.out.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case <-c.in.closed:
		// Peer went away; nobody will ever read this.
		return syscall.EPIPE
	default:
	}
	select {
	case c.out.msgs <- msg:
		return nil
	case <-c.out.closed:
		return ErrChannelClosed
	case <-c.in.closed:
		// Peer went away; nobody will ever read this.
		return syscall.EPIPE
	}
}

// Recv returns the next message from the peer. Messages the peer sent
// before closing are still delivered; afterwards Recv reports io.EOF
// for an orderly close or EPIPE for a simulated crash.
func (c *Inproc) Recv() (Message, error) {
	select {
	case msg := <-c.in.msgs:
		return msg, nil
	case <-c.out.closed:
		return Message{}, ErrChannelClosed
	case <-c.in.closed:
		// Drain what was sent before the close.
		select {
		case msg := <-c.in.msgs:
			return msg, nil
		default:
		}
		if c.in.crashed.Load() {
			return Message{}, syscall.EPIPE
		}
		return Message{}, io.EOF
	}
}

// Close shuts this end. The peer's pending messages still drain; its
// next Recv after that reports io.EOF.
func (c *Inproc) Close() error {
	c.out.shut()
	return nil
}

// Abort shuts this end simulating a process death: the peer observes a
// broken-pipe class error instead of an orderly end-of-stream.
func (c *Inproc) Abort() {
	c.out.crashed.Store(true)
	c.out.shut()
}
