// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package memcon

import "code.hybscloud.com/memcon/internal/channel"

// NewUnixChannelPair returns two connected seqpacket channel ends.
// Exchange handles cross as SCM_RIGHTS file descriptors, so the pair
// works across a fork/exec boundary together with TechSharedMemory.
func NewUnixChannelPair() (SideChannel, SideChannel, error) {
	a, b, err := channel.NewUnixPair()
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// NewUnixChannelFromFD wraps an inherited seqpacket descriptor, e.g.
// the peer end of a pair created before fork/exec. Ownership of the
// descriptor transfers to the channel.
func NewUnixChannelFromFD(fd int) SideChannel {
	return channel.NewUnixFromFD(fd)
}

// UnixChannelFD returns the descriptor under a Unix channel end, for
// handing it to a child process. Panics when ch is not a Unix channel.
func UnixChannelFD(ch SideChannel) int {
	return ch.(*channel.Unix).FD()
}
