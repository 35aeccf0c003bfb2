// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package channel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/wire"
)

// Unix is a side channel over an AF_UNIX seqpacket socket. Seqpacket
// preserves message boundaries, so one Sendmsg carries exactly one
// frame together with its SCM_RIGHTS file descriptors.
//
// Wire layout of one datagram: the encoded frame, then a u8 handle
// count, then per handle {technology u8, size u64 LE}. The descriptors
// themselves ride in the ancillary data, in the same order.
type Unix struct {
	fd     int
	sendMu sync.Mutex
	recvMu sync.Mutex
	closed bool
	mu     sync.Mutex
}

// NewUnixPair returns two connected ends. Typical use keeps one end and
// passes the other's descriptor to the peer process.
func NewUnixPair() (*Unix, *Unix, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("channel: socketpair: %w", err)
	}
	return &Unix{fd: fds[0]}, &Unix{fd: fds[1]}, nil
}

// NewUnixFromFD wraps an already-connected seqpacket descriptor, e.g.
// one inherited from the parent process. Ownership transfers to the
// channel.
func NewUnixFromFD(fd int) *Unix {
	return &Unix{fd: fd}
}

// FD returns the underlying descriptor, for handing the peer end to a
// child process.
func (c *Unix) FD() int { return c.fd }

// Send transmits one message.
func (c *Unix) Send(msg Message) error {
	var buf bytes.Buffer
	if err := msg.Frame.Encode(&buf); err != nil {
		return err
	}
	buf.WriteByte(byte(len(msg.Handles)))
	fds := make([]int, 0, len(msg.Handles))
	for _, h := range msg.Handles {
		if h.Tech != memory.TechSharedMemory {
			return fmt.Errorf("channel: cannot pass %v handle across processes", h.Tech)
		}
		buf.WriteByte(byte(h.Tech))
		var sz [8]byte
		binary.LittleEndian.PutUint64(sz[:], h.Size)
		buf.Write(sz[:])
		fds = append(fds, h.FD)
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.isClosed() {
		return ErrChannelClosed
	}
	if err := unix.Sendmsg(c.fd, buf.Bytes(), oob, nil, 0); err != nil {
		return fmt.Errorf("channel: sendmsg: %w", err)
	}
	return nil
}

// Recv blocks for the next message. Returns io.EOF once the peer has
// closed its end.
func (c *Unix) Recv() (Message, error) {
	buf := make([]byte, 8192)
	oob := make([]byte, 512)
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if c.isClosed() {
		return Message{}, ErrChannelClosed
	}
	n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
	if err != nil {
		return Message{}, fmt.Errorf("channel: recvmsg: %w", err)
	}
	if n == 0 {
		return Message{}, io.EOF
	}
	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return Message{}, fmt.Errorf("channel: parse control message: %w", err)
		}
		for _, cm := range cmsgs {
			got, err := unix.ParseUnixRights(&cm)
			if err != nil {
				continue
			}
			fds = append(fds, got...)
		}
	}
	return decodeDatagram(buf[:n], fds)
}

func decodeDatagram(b []byte, fds []int) (Message, error) {
	r := bytes.NewReader(b)
	fr, err := wire.Decode(r)
	if err != nil {
		return Message{}, fmt.Errorf("channel: malformed frame: %w", err)
	}
	msg := Message{Frame: fr}
	nh, err := r.ReadByte()
	if err != nil {
		return Message{}, fmt.Errorf("channel: malformed handle trailer: %w", err)
	}
	if int(nh) != len(fds) {
		return Message{}, fmt.Errorf("channel: %d handles announced, %d descriptors received", nh, len(fds))
	}
	for i := range int(nh) {
		var meta [9]byte
		if _, err := io.ReadFull(r, meta[:]); err != nil {
			return Message{}, fmt.Errorf("channel: malformed handle trailer: %w", err)
		}
		msg.Handles = append(msg.Handles, memory.ExchangeHandle{
			Tech: memory.Technology(meta[0]),
			FD:   fds[i],
			Size: binary.LittleEndian.Uint64(meta[1:]),
		})
	}
	return msg, nil
}

// Close shuts the descriptor; the peer observes end-of-stream.
func (c *Unix) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	// Shutdown first so a reader blocked in Recvmsg wakes up before
	// the descriptor goes away.
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	return unix.Close(c.fd)
}

func (c *Unix) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
