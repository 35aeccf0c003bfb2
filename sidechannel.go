// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon

import "code.hybscloud.com/memcon/internal/channel"

// SideChannel is the duplex control link a server-side receiver
// endpoint shares with its client. It carries small framed control
// messages and the memory exchange handles attached to them during the
// handshake — never payload data. After the handshake, the only
// traffic left is listen requests, notifications and teardown frames.
type SideChannel = channel.SideChannel

// NewInProcessChannelPair returns two connected in-process channel
// ends. Suitable for the process-local memory technology and tests;
// exchange handles are passed by value.
func NewInProcessChannelPair() (SideChannel, SideChannel) {
	a, b := channel.NewInprocPair()
	return a, b
}
